package handshake

import (
	"fmt"
	"io"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
)

// EndpointClientState enumerates the endpoint-client FSM's states (spec §4.4).
type EndpointClientState string

const (
	EndpointClientBeginHandshake             EndpointClientState = "BeginHandshake"
	EndpointClientWaitingForServerCookie     EndpointClientState = "WaitingForServerCookie"
	EndpointClientWaitingForProofVerification EndpointClientState = "WaitingForProofVerification"
	EndpointClientHandshakeComplete          EndpointClientState = "HandshakeComplete"
	endpointClientFailed                     EndpointClientState = "Failed"
)

// EndpointClientFSM opens a named channel on a previously granted endpoint
// service, re-proving identity (spec §4.4).
type EndpointClientFSM struct {
	session rpc.Session
	stream  io.ReadWriteCloser
	logger  *slog.Logger

	state EndpointClientState
	done  bool

	serverServiceId identity.ServiceId
	channelName     string
	identityKey     identity.SigningKey

	cookie       rpc.RequestCookie
	serverCookie identity.Cookie
}

// NewEndpointClientFSM constructs an endpoint-client FSM. stream is the raw
// byte stream the session was built on; it is handed back to the caller
// unmodified on HandshakeCompleted.
func NewEndpointClientFSM(session rpc.Session, stream io.ReadWriteCloser, serverServiceId identity.ServiceId, channelName string, identityKey identity.SigningKey, logger *slog.Logger) (*EndpointClientFSM, error) {
	if !identity.IsASCII(channelName) {
		return nil, fmt.Errorf("%w: channel name %q is not ASCII", ErrBadArgument, channelName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EndpointClientFSM{
		session:         session,
		stream:          stream,
		logger:          logger,
		state:           EndpointClientBeginHandshake,
		serverServiceId: serverServiceId,
		channelName:     channelName,
		identityKey:     identityKey,
	}, nil
}

// Done reports whether this FSM has reached a terminal state.
func (f *EndpointClientFSM) Done() bool { return f.done }

// Update advances the FSM by at most one transition.
func (f *EndpointClientFSM) Update() (EndpointClientEvent, bool) {
	if f.done {
		return EndpointClientEvent{}, false
	}

	switch f.state {
	case EndpointClientBeginHandshake:
		args := bson.M{
			"version": rpc.ProtocolVersion,
			"channel": f.channelName,
		}
		cookie, err := f.session.ClientCall(rpc.NamespaceEndpoint, rpc.FuncBeginHandshake, 1, args)
		if err != nil {
			return f.fail(fmt.Errorf("%w: %v", ErrRpcTransport, err))
		}
		f.cookie = cookie
		f.state = EndpointClientWaitingForServerCookie
		return EndpointClientEvent{}, false

	case EndpointClientWaitingForServerCookie:
		resp, ok := f.session.ClientNextResponse()
		if !ok {
			return EndpointClientEvent{}, false
		}
		if !resp.Success() {
			return f.fail(&RpcRemoteError{Code: resp.Err})
		}
		var reply rpc.EndpointBeginHandshakeReply
		if err := resp.Result.Unmarshal(&reply); err != nil {
			return f.fail(fmt.Errorf("%w: malformed begin_handshake reply: %v", ErrBadArgument, err))
		}
		if len(reply.ServerCookie) != 32 {
			return f.fail(fmt.Errorf("%w: server_cookie must be 32 bytes, got %d", ErrBadArgument, len(reply.ServerCookie)))
		}
		copy(f.serverCookie[:], reply.ServerCookie)

		clientCookie, err := identity.NewCookie()
		if err != nil {
			return f.fail(fmt.Errorf("endpoint client: %w", err))
		}
		proof, err := identity.BuildClientProof(identity.DomainEndpoint, f.channelName, f.identityKey.ServiceId(), f.serverServiceId, clientCookie, f.serverCookie)
		if err != nil {
			return f.fail(fmt.Errorf("%w: %v", ErrBadArgument, err))
		}
		proofSig := f.identityKey.Sign(proof)

		sendArgs := bson.M{
			"client_cookie":                    clientCookie[:],
			"client_identity":                  f.identityKey.ServiceId().String(),
			"client_identity_proof_signature":  proofSig[:],
		}
		sendCookie, err := f.session.ClientCall(rpc.NamespaceEndpoint, rpc.FuncSendResponse, 1, sendArgs)
		if err != nil {
			return f.fail(fmt.Errorf("%w: %v", ErrRpcTransport, err))
		}
		f.cookie = sendCookie
		f.state = EndpointClientWaitingForProofVerification
		return EndpointClientEvent{}, false

	case EndpointClientWaitingForProofVerification:
		resp, ok := f.session.ClientNextResponse()
		if !ok {
			return EndpointClientEvent{}, false
		}
		if !resp.Success() {
			return f.fail(&RpcRemoteError{Code: resp.Err})
		}
		f.state = EndpointClientHandshakeComplete
		f.done = true
		return EndpointClientEvent{
			Kind:        EndpointClientHandshakeCompleted,
			ChannelName: f.channelName,
			Stream:      f.stream,
		}, true

	default: // HandshakeComplete, failed
		f.done = true
		return EndpointClientEvent{}, false
	}
}

func (f *EndpointClientFSM) fail(err error) (EndpointClientEvent, bool) {
	f.state = endpointClientFailed
	f.done = true
	f.logger.Warn("endpoint client: handshake failed", "error", err)
	return EndpointClientEvent{Kind: EndpointClientHandshakeFailed, Err: err}, true
}
