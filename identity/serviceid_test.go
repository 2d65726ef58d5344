package identity

import "testing"

func TestServiceIdRoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	id := key.ServiceId()

	text := id.String()
	if len(text) != 56 {
		t.Fatalf("expected 56-char service id, got %d: %q", len(text), text)
	}

	parsed, err := ParseServiceId(text)
	if err != nil {
		t.Fatalf("ParseServiceId: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: got %x, want %x", parsed, id)
	}
}

func TestParseServiceIdToleratesOnionSuffix(t *testing.T) {
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	id := key.ServiceId()

	parsed, err := ParseServiceId(id.String() + ".onion")
	if err != nil {
		t.Fatalf("ParseServiceId with suffix: %v", err)
	}
	if parsed != id {
		t.Fatalf("mismatch: got %x, want %x", parsed, id)
	}
}

func TestParseServiceIdRejectsBadChecksum(t *testing.T) {
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	text := key.ServiceId().String()
	// Flip a character to corrupt the checksum.
	corrupted := []byte(text)
	if corrupted[0] == 'a' {
		corrupted[0] = 'b'
	} else {
		corrupted[0] = 'a'
	}
	if _, err := ParseServiceId(string(corrupted)); err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}
