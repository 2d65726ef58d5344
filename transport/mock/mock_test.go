package mock

import (
	"context"
	"testing"

	"github.com/pcwizz/gosling-go/identity"
)

func TestConnectWithoutListenerFails(t *testing.T) {
	net := NewNetwork()
	client := New(net)
	client.Bootstrap()

	key, err := identity.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	if _, err := client.Connect(context.Background(), key.ServiceId(), 1, nil); err == nil {
		t.Fatal("expected Connect to fail with no published listener")
	}
}

func TestListenerAcceptRoundTrip(t *testing.T) {
	netw := NewNetwork()
	server := New(netw)
	client := New(netw)
	server.Bootstrap()
	client.Bootstrap()

	signingKey, err := identity.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}

	listener, err := server.Listener(signingKey, 1, nil)
	if err != nil {
		t.Fatalf("Listener: %v", err)
	}
	defer listener.Close()

	if _, ok, err := listener.Accept(); err != nil || ok {
		t.Fatalf("expected no pending connection yet, got ok=%v err=%v", ok, err)
	}

	clientConn, err := client.Connect(context.Background(), signingKey.ServiceId(), 1, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer clientConn.Close()

	serverConn, ok, err := listener.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !ok {
		t.Fatal("expected a pending connection")
	}
	defer serverConn.Close()

	msg := []byte("hello world")
	done := make(chan error, 1)
	go func() {
		_, err := clientConn.Write(msg)
		done <- err
	}()

	buf := make([]byte, len(msg))
	if _, err := serverConn.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}

func TestConnectRequiresClientAuth(t *testing.T) {
	netw := NewNetwork()
	server := New(netw)
	client := New(netw)

	signingKey, err := identity.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	authPriv, authPub, err := identity.GenerateAuthKeyPair()
	if err != nil {
		t.Fatalf("GenerateAuthKeyPair: %v", err)
	}

	listener, err := server.Listener(signingKey, 1, []identity.AuthPublicKey{authPub})
	if err != nil {
		t.Fatalf("Listener: %v", err)
	}
	defer listener.Close()

	if _, err := client.Connect(context.Background(), signingKey.ServiceId(), 1, nil); err == nil {
		t.Fatal("expected Connect to fail without registered client auth")
	}

	if err := client.AddClientAuth(signingKey.ServiceId(), authPriv); err != nil {
		t.Fatalf("AddClientAuth: %v", err)
	}
	conn, err := client.Connect(context.Background(), signingKey.ServiceId(), 1, nil)
	if err != nil {
		t.Fatalf("Connect after AddClientAuth: %v", err)
	}
	conn.Close()
}
