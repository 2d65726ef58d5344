package handshake

import (
	"net"
	"testing"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
)

func TestEndpointHandshakeHappyPath(t *testing.T) {
	clientSession, serverSession := rpc.NewLocalSessionPair()
	clientStream, serverStream := net.Pipe()
	defer clientStream.Close()
	defer serverStream.Close()

	serverKey, err := identity.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	clientKey, err := identity.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}

	clientFSM, err := NewEndpointClientFSM(clientSession, clientStream, serverKey.ServiceId(), "channel", clientKey, nil)
	if err != nil {
		t.Fatalf("NewEndpointClientFSM: %v", err)
	}
	serverFSM, err := NewEndpointServerFSM(serverSession, serverStream, clientKey.ServiceId(), serverKey.ServiceId(), nil)
	if err != nil {
		t.Fatalf("NewEndpointServerFSM: %v", err)
	}

	var clientCompleted EndpointClientEvent
	var serverCompleted EndpointServerEvent
	for i := 0; i < 32 && (clientCompleted.Kind == EndpointClientNone || serverCompleted.Kind == EndpointServerNone); i++ {
		if err := serverSession.Update(serverFSM); err != nil {
			t.Fatalf("serverSession.Update: %v", err)
		}
		if err := clientSession.Update(); err != nil {
			t.Fatalf("clientSession.Update: %v", err)
		}

		if ev, ok := clientFSM.Update(); ok {
			if ev.Kind == EndpointClientHandshakeFailed {
				t.Fatalf("client handshake failed: %v", ev.Err)
			}
			if ev.Kind == EndpointClientHandshakeCompleted {
				clientCompleted = ev
			}
		}
		if ev, ok := serverFSM.Update(); ok {
			switch ev.Kind {
			case EndpointServerHandshakeCompleted:
				serverCompleted = ev
			case EndpointServerHandshakeRejected:
				t.Fatalf("server rejected handshake: %+v", ev.Flags)
			}
		}
	}

	if clientCompleted.Kind != EndpointClientHandshakeCompleted {
		t.Fatal("client never completed the handshake")
	}
	if serverCompleted.Kind != EndpointServerHandshakeCompleted {
		t.Fatal("server never completed the handshake")
	}
	if clientCompleted.ChannelName != serverCompleted.ChannelName {
		t.Fatalf("channel name mismatch: client=%q server=%q", clientCompleted.ChannelName, serverCompleted.ChannelName)
	}
	if serverCompleted.ClientServiceId != clientKey.ServiceId() {
		t.Fatal("server recorded the wrong client service id")
	}

	// The stream pair handed back on completion is the same one the FSMs
	// were constructed with and stays usable for application data.
	msg := []byte("Hello World!\n")
	done := make(chan error, 1)
	go func() {
		_, err := clientCompleted.Stream.Write(msg)
		done <- err
	}()
	buf := make([]byte, len(msg))
	if _, err := serverCompleted.Stream.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}

func TestEndpointHandshakeWrongClientRejected(t *testing.T) {
	clientSession, serverSession := rpc.NewLocalSessionPair()
	clientStream, serverStream := net.Pipe()
	defer clientStream.Close()
	defer serverStream.Close()

	serverKey, _ := identity.GenerateSigningKey()
	allowedClientKey, _ := identity.GenerateSigningKey()
	otherClientKey, _ := identity.GenerateSigningKey()

	clientFSM, err := NewEndpointClientFSM(clientSession, clientStream, serverKey.ServiceId(), "channel", otherClientKey, nil)
	if err != nil {
		t.Fatalf("NewEndpointClientFSM: %v", err)
	}
	serverFSM, err := NewEndpointServerFSM(serverSession, serverStream, allowedClientKey.ServiceId(), serverKey.ServiceId(), nil)
	if err != nil {
		t.Fatalf("NewEndpointServerFSM: %v", err)
	}

	var rejected EndpointServerEvent
	for i := 0; i < 32 && rejected.Kind == EndpointServerNone; i++ {
		serverSession.Update(serverFSM)
		clientSession.Update()
		clientFSM.Update()
		if ev, ok := serverFSM.Update(); ok && ev.Kind == EndpointServerHandshakeRejected {
			rejected = ev
		}
	}

	if rejected.Kind != EndpointServerHandshakeRejected {
		t.Fatal("server never rejected the handshake")
	}
	if rejected.Flags.ClientAllowed {
		t.Fatal("expected ClientAllowed=false for an unrecognized client")
	}
	if !rejected.Flags.ClientProofSignatureValid {
		t.Fatal("expected the proof itself to still verify (spec §8.6)")
	}
}
