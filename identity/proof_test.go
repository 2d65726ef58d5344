package identity

import (
	"bytes"
	"testing"
)

func testServiceIds(t *testing.T) (ServiceId, ServiceId) {
	t.Helper()
	client, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	server, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	return client.ServiceId(), server.ServiceId()
}

func TestBuildClientProofRejectsNonASCII(t *testing.T) {
	client, server := testServiceIds(t)
	cc, _ := NewCookie()
	sc, _ := NewCookie()
	if _, err := BuildClientProof(DomainIdentity, "endpöint", client, server, cc, sc); err == nil {
		t.Fatal("expected non-ASCII request name to fail")
	}
}

func TestBuildClientProofInjective(t *testing.T) {
	client, server := testServiceIds(t)
	otherClient, _ := testServiceIds(t)
	cc, _ := NewCookie()
	sc, _ := NewCookie()

	base, err := BuildClientProof(DomainIdentity, "endpoint", client, server, cc, sc)
	if err != nil {
		t.Fatalf("BuildClientProof: %v", err)
	}

	cases := []struct {
		name string
		got  ClientProof
	}{
		{"domain", mustProof(t, DomainEndpoint, "endpoint", client, server, cc, sc)},
		{"request", mustProof(t, DomainIdentity, "different", client, server, cc, sc)},
		{"client id", mustProof(t, DomainIdentity, "endpoint", otherClient, server, cc, sc)},
		{"server id", mustProof(t, DomainIdentity, "endpoint", server, client, cc, sc)},
		{"client cookie", mustProof(t, DomainIdentity, "endpoint", client, server, flip(cc), sc)},
		{"server cookie", mustProof(t, DomainIdentity, "endpoint", client, server, cc, flip(sc))},
	}

	for _, c := range cases {
		if bytes.Equal(base, c.got) {
			t.Errorf("changing %s did not change the proof", c.name)
		}
	}
}

func mustProof(t *testing.T, domain, request string, client, server ServiceId, cc, sc Cookie) ClientProof {
	t.Helper()
	p, err := BuildClientProof(domain, request, client, server, cc, sc)
	if err != nil {
		t.Fatalf("BuildClientProof: %v", err)
	}
	return p
}

func flip(c Cookie) Cookie {
	c[0] ^= 0xFF
	return c
}
