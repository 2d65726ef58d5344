package handshake

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
)

func TestIdentityHandshakeHappyPath(t *testing.T) {
	clientSession, serverSession := rpc.NewLocalSessionPair()

	serverKey, err := identity.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	clientKey, err := identity.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}

	clientFSM, err := NewIdentityClientFSM(clientSession, serverKey.ServiceId(), "endpoint", clientKey, nil)
	if err != nil {
		t.Fatalf("NewIdentityClientFSM: %v", err)
	}
	serverFSM := NewIdentityServerFSM(serverSession, serverKey.ServiceId(), nil)

	var completed IdentityClientEvent
	var serverCompleted IdentityServerEvent
	for i := 0; i < 32 && (completed.Kind == IdentityClientNone || serverCompleted.Kind == IdentityServerNone); i++ {
		if err := serverSession.Update(serverFSM); err != nil {
			t.Fatalf("serverSession.Update: %v", err)
		}
		if err := clientSession.Update(); err != nil {
			t.Fatalf("clientSession.Update: %v", err)
		}

		if ev, ok := clientFSM.Update(); ok {
			switch ev.Kind {
			case IdentityClientChallengeReceived:
				if err := clientFSM.SubmitChallengeResponse(bson.M{"msg": "Mellon"}); err != nil {
					t.Fatalf("SubmitChallengeResponse: %v", err)
				}
			case IdentityClientHandshakeCompleted:
				completed = ev
			case IdentityClientHandshakeFailed:
				t.Fatalf("client handshake failed: %v", ev.Err)
			}
		}

		if ev, ok := serverFSM.Update(); ok {
			switch ev.Kind {
			case IdentityServerEndpointRequestReceived:
				if err := serverFSM.SubmitEndpointRequestDecision(true, true, bson.M{"msg": "Speak friend and enter"}); err != nil {
					t.Fatalf("SubmitEndpointRequestDecision: %v", err)
				}
			case IdentityServerChallengeResponseReceived:
				response, ok := ev.ChallengeResponse["msg"].(string)
				if !ok || response != "Mellon" {
					t.Fatalf("unexpected challenge response: %v", ev.ChallengeResponse)
				}
				if err := serverFSM.SubmitChallengeResponseVerdict(true); err != nil {
					t.Fatalf("SubmitChallengeResponseVerdict: %v", err)
				}
			case IdentityServerHandshakeCompleted:
				serverCompleted = ev
			case IdentityServerHandshakeRejected:
				t.Fatalf("server rejected handshake: %+v", ev.Flags)
			case IdentityServerHandshakeFailed:
				t.Fatalf("server handshake failed: %v", ev.Err)
			}
		}
	}

	if completed.Kind != IdentityClientHandshakeCompleted {
		t.Fatal("client never completed the handshake")
	}
	if serverCompleted.Kind != IdentityServerHandshakeCompleted {
		t.Fatal("server never completed the handshake")
	}
	if completed.EndpointServiceId != serverCompleted.EndpointPrivateKey.ServiceId() {
		t.Fatalf("client endpoint service id %x does not match server's retained key %x",
			completed.EndpointServiceId, serverCompleted.EndpointPrivateKey.ServiceId())
	}
}

func TestIdentityHandshakeBlockedClient(t *testing.T) {
	clientSession, serverSession := rpc.NewLocalSessionPair()

	serverKey, _ := identity.GenerateSigningKey()
	clientKey, _ := identity.GenerateSigningKey()

	clientFSM, err := NewIdentityClientFSM(clientSession, serverKey.ServiceId(), "endpoint", clientKey, nil)
	if err != nil {
		t.Fatalf("NewIdentityClientFSM: %v", err)
	}
	serverFSM := NewIdentityServerFSM(serverSession, serverKey.ServiceId(), nil)

	var rejected IdentityServerEvent
	var clientFailed bool
	for i := 0; i < 32 && rejected.Kind == IdentityServerNone; i++ {
		if err := serverSession.Update(serverFSM); err != nil {
			t.Fatalf("serverSession.Update: %v", err)
		}
		if err := clientSession.Update(); err != nil {
			t.Fatalf("clientSession.Update: %v", err)
		}

		if ev, ok := clientFSM.Update(); ok {
			switch ev.Kind {
			case IdentityClientChallengeReceived:
				if err := clientFSM.SubmitChallengeResponse(bson.M{"msg": "Mellon"}); err != nil {
					t.Fatalf("SubmitChallengeResponse: %v", err)
				}
			case IdentityClientHandshakeFailed:
				clientFailed = true
			}
		}

		if ev, ok := serverFSM.Update(); ok {
			switch ev.Kind {
			case IdentityServerEndpointRequestReceived:
				// client_allowed=false: the blocked-client scenario (spec §8.4).
				if err := serverFSM.SubmitEndpointRequestDecision(false, true, bson.M{"msg": "Speak friend and enter"}); err != nil {
					t.Fatalf("SubmitEndpointRequestDecision: %v", err)
				}
			case IdentityServerChallengeResponseReceived:
				if err := serverFSM.SubmitChallengeResponseVerdict(true); err != nil {
					t.Fatalf("SubmitChallengeResponseVerdict: %v", err)
				}
			case IdentityServerHandshakeRejected:
				rejected = ev
			}
		}
	}

	if rejected.Kind != IdentityServerHandshakeRejected {
		t.Fatal("server never rejected the handshake")
	}
	if rejected.Flags.ClientAllowed {
		t.Fatal("expected ClientAllowed=false")
	}

	if !clientFailed {
		// Drain once more: the client surfaces the remote failure on its next tick.
		serverSession.Update(serverFSM)
		clientSession.Update()
		if ev, ok := clientFSM.Update(); ok && ev.Kind == IdentityClientHandshakeFailed {
			clientFailed = true
		}
	}
	if !clientFailed {
		t.Fatal("client never observed the rejection")
	}
}

func TestIdentityClientRejectsNonASCIIEndpoint(t *testing.T) {
	clientSession, _ := rpc.NewLocalSessionPair()
	serverKey, _ := identity.GenerateSigningKey()
	clientKey, _ := identity.GenerateSigningKey()

	if _, err := NewIdentityClientFSM(clientSession, serverKey.ServiceId(), "endpöint", clientKey, nil); err == nil {
		t.Fatal("expected non-ASCII endpoint name to be rejected at construction")
	}
}
