package handshake

import (
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
)

// IdentityClientState enumerates the identity-client FSM's states (spec §4.2).
type IdentityClientState string

const (
	IdentityClientBeginHandshake                  IdentityClientState = "BeginHandshake"
	IdentityClientWaitingForChallenge             IdentityClientState = "WaitingForChallenge"
	IdentityClientWaitingForChallengeResponse     IdentityClientState = "WaitingForChallengeResponse"
	IdentityClientWaitingForChallengeVerification IdentityClientState = "WaitingForChallengeVerification"
	IdentityClientHandshakeComplete               IdentityClientState = "HandshakeComplete"
	identityClientFailed                          IdentityClientState = "Failed"
)

// IdentityClientFSM drives a client's attempt to obtain a fresh endpoint from
// a remote identity service (spec §4.2).
type IdentityClientFSM struct {
	session rpc.Session
	logger  *slog.Logger

	state IdentityClientState
	done  bool

	serverServiceId identity.ServiceId
	endpointName    string
	identityKey     identity.SigningKey
	authPriv        identity.AuthPrivateKey
	authPub         identity.AuthPublicKey

	cookie       rpc.RequestCookie
	serverCookie identity.Cookie
}

// NewIdentityClientFSM constructs an identity-client FSM ready to run. A
// fresh client-auth keypair is drawn immediately; it is the material handed
// back to the caller on HandshakeCompleted.
func NewIdentityClientFSM(session rpc.Session, serverServiceId identity.ServiceId, endpointName string, identityKey identity.SigningKey, logger *slog.Logger) (*IdentityClientFSM, error) {
	if !identity.IsASCII(endpointName) {
		return nil, fmt.Errorf("%w: endpoint name %q is not ASCII", ErrBadArgument, endpointName)
	}
	authPriv, authPub, err := identity.GenerateAuthKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity client: generate auth key pair: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityClientFSM{
		session:         session,
		logger:          logger,
		state:           IdentityClientBeginHandshake,
		serverServiceId: serverServiceId,
		endpointName:    endpointName,
		identityKey:     identityKey,
		authPriv:        authPriv,
		authPub:         authPub,
	}, nil
}

// Done reports whether the FSM has reached a terminal state.
func (f *IdentityClientFSM) Done() bool { return f.done }

// Update advances the FSM by at most one transition, returning ok=true iff it
// emitted an event this tick.
func (f *IdentityClientFSM) Update() (IdentityClientEvent, bool) {
	if f.done {
		return IdentityClientEvent{}, false
	}

	switch f.state {
	case IdentityClientBeginHandshake:
		args := bson.M{
			"version":         rpc.ProtocolVersion,
			"client_identity":  f.identityKey.ServiceId().String(),
			"endpoint":         f.endpointName,
		}
		cookie, err := f.session.ClientCall(rpc.NamespaceIdentity, rpc.FuncBeginHandshake, 1, args)
		if err != nil {
			return f.fail(fmt.Errorf("%w: %v", ErrRpcTransport, err))
		}
		f.cookie = cookie
		f.state = IdentityClientWaitingForChallenge
		f.logger.Debug("identity client: begin_handshake sent", "endpoint", f.endpointName)
		return IdentityClientEvent{}, false

	case IdentityClientWaitingForChallenge:
		resp, ok := f.session.ClientNextResponse()
		if !ok {
			return IdentityClientEvent{}, false
		}
		if !resp.Success() {
			return f.fail(&RpcRemoteError{Code: resp.Err})
		}
		var reply rpc.IdentityBeginHandshakeReply
		if err := resp.Result.Unmarshal(&reply); err != nil {
			return f.fail(fmt.Errorf("%w: malformed begin_handshake reply: %v", ErrBadArgument, err))
		}
		if len(reply.ServerCookie) != 32 {
			return f.fail(fmt.Errorf("%w: server_cookie must be 32 bytes, got %d", ErrBadArgument, len(reply.ServerCookie)))
		}
		copy(f.serverCookie[:], reply.ServerCookie)
		f.state = IdentityClientWaitingForChallengeResponse
		return IdentityClientEvent{
			Kind:              IdentityClientChallengeReceived,
			IdentityServiceId: f.serverServiceId,
			EndpointName:      f.endpointName,
			EndpointChallenge: reply.EndpointChallenge,
		}, true

	case IdentityClientWaitingForChallengeResponse:
		// Yields no further events until the application calls
		// SubmitChallengeResponse.
		return IdentityClientEvent{}, false

	case IdentityClientWaitingForChallengeVerification:
		resp, ok := f.session.ClientNextResponse()
		if !ok {
			return IdentityClientEvent{}, false
		}
		if !resp.Success() {
			return f.fail(&RpcRemoteError{Code: resp.Err})
		}
		endpointIdText, err := resp.AsString()
		if err != nil {
			return f.fail(fmt.Errorf("%w: malformed send_response reply: %v", ErrBadArgument, err))
		}
		endpointId, err := identity.ParseServiceId(endpointIdText)
		if err != nil {
			return f.fail(fmt.Errorf("%w: %v", ErrBadArgument, err))
		}
		f.state = IdentityClientHandshakeComplete
		f.done = true
		return IdentityClientEvent{
			Kind:                 IdentityClientHandshakeCompleted,
			IdentityServiceId:    f.serverServiceId,
			EndpointServiceId:    endpointId,
			EndpointName:         f.endpointName,
			ClientAuthPrivateKey: f.authPriv,
		}, true

	default: // IdentityClientHandshakeComplete, identityClientFailed
		f.done = true
		return IdentityClientEvent{}, false
	}
}

// SubmitChallengeResponse is the application entry point feeding back a
// response to the challenge received earlier (spec §4.2 step 3-4). Legal
// only in WaitingForChallengeResponse.
func (f *IdentityClientFSM) SubmitChallengeResponse(response bson.M) error {
	if f.state != IdentityClientWaitingForChallengeResponse {
		return fmt.Errorf("%w: submit_challenge_response in state %s", ErrIncorrectUsage, f.state)
	}

	clientCookie, err := identity.NewCookie()
	if err != nil {
		return fmt.Errorf("identity client: %w", err)
	}
	proof, err := identity.BuildClientProof(identity.DomainIdentity, f.endpointName, f.identityKey.ServiceId(), f.serverServiceId, clientCookie, f.serverCookie)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadArgument, err)
	}
	proofSig := f.identityKey.Sign(proof)

	authSig, signBit, err := f.authPriv.SignMessage([]byte(f.identityKey.ServiceId().String()))
	if err != nil {
		return fmt.Errorf("identity client: sign client authorization: %w", err)
	}

	args := bson.M{
		"client_cookie":                     clientCookie[:],
		"client_identity_proof_signature":   proofSig[:],
		"client_authorization_key":          f.authPub[:],
		"client_authorization_key_signbit":  signBit,
		"client_authorization_signature":    authSig[:],
		"challenge_response":                response,
	}
	cookie, err := f.session.ClientCall(rpc.NamespaceIdentity, rpc.FuncSendResponse, 1, args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRpcTransport, err)
	}
	f.cookie = cookie
	f.state = IdentityClientWaitingForChallengeVerification
	return nil
}

func (f *IdentityClientFSM) fail(err error) (IdentityClientEvent, bool) {
	f.state = identityClientFailed
	f.done = true
	f.logger.Warn("identity client: handshake failed", "error", err)
	return IdentityClientEvent{Kind: IdentityClientHandshakeFailed, Err: err}, true
}
