package handshake

import (
	"fmt"
	"io"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
)

// EndpointServerState enumerates the endpoint-server FSM's states (spec §4.5).
type EndpointServerState string

const (
	EndpointServerWaitingForBeginHandshake EndpointServerState = "WaitingForBeginHandshake"
	EndpointServerWaitingForSendResponse    EndpointServerState = "WaitingForSendResponse"
	EndpointServerHandledSendResponse       EndpointServerState = "HandledSendResponse"
	EndpointServerHandshakeComplete         EndpointServerState = "HandshakeComplete"
)

// EndpointServerFSM gates an inbound channel request on a specific endpoint
// to a specific preauthorized client identity (spec §4.5). Both of its RPC
// replies are synchronous, so unlike IdentityServerFSM it never defers a
// reply through NextResult.
type EndpointServerFSM struct {
	session rpc.Session
	stream  io.ReadWriteCloser
	logger  *slog.Logger

	state        EndpointServerState
	done         bool
	pendingEvent *EndpointServerEvent

	allowedClient   identity.ServiceId
	serverServiceId identity.ServiceId
	serverCookie    identity.Cookie
	channelName     string
}

// NewEndpointServerFSM constructs an endpoint-server FSM, drawing its server
// cookie immediately (spec §4.5 "construction captures ... a freshly-sampled
// 32-byte server cookie").
func NewEndpointServerFSM(session rpc.Session, stream io.ReadWriteCloser, allowedClient, serverServiceId identity.ServiceId, logger *slog.Logger) (*EndpointServerFSM, error) {
	serverCookie, err := identity.NewCookie()
	if err != nil {
		return nil, fmt.Errorf("endpoint server: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EndpointServerFSM{
		session:         session,
		stream:          stream,
		logger:          logger,
		state:           EndpointServerWaitingForBeginHandshake,
		allowedClient:   allowedClient,
		serverServiceId: serverServiceId,
		serverCookie:    serverCookie,
	}, nil
}

// Namespace implements rpc.ApiSet.
func (f *EndpointServerFSM) Namespace() string { return rpc.NamespaceEndpoint }

// Done reports whether this FSM has reached a terminal state and delivered
// its terminal event.
func (f *EndpointServerFSM) Done() bool { return f.done }

// ExecFunction implements rpc.ApiSet.
func (f *EndpointServerFSM) ExecFunction(name string, version int, args bson.M, cookie rpc.RequestCookie) (rpc.ExecResult, bool) {
	switch f.state {
	case EndpointServerWaitingForBeginHandshake:
		return f.execBeginHandshake(name, args)
	case EndpointServerWaitingForSendResponse:
		return f.execSendResponse(name, args)
	default:
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
}

func (f *EndpointServerFSM) execBeginHandshake(name string, args bson.M) (rpc.ExecResult, bool) {
	if name != rpc.FuncBeginHandshake {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	var a rpc.EndpointBeginHandshakeArgs
	if err := rpc.FromBSON(args, &a); err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	if a.Version != rpc.ProtocolVersion {
		return rpc.Failure(rpc.ErrBadVersion), true
	}
	if !identity.IsASCII(a.Channel) {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}

	f.channelName = a.Channel
	m, err := rpc.ToBSON(rpc.EndpointBeginHandshakeReply{ServerCookie: f.serverCookie[:]})
	if err != nil {
		f.logger.Error("endpoint server: marshal begin_handshake reply", "error", err)
		return rpc.Failure(rpc.ErrFailure), true
	}
	res, err := rpc.SuccessDocument(m)
	if err != nil {
		f.logger.Error("endpoint server: build begin_handshake reply", "error", err)
		return rpc.Failure(rpc.ErrFailure), true
	}

	f.state = EndpointServerWaitingForSendResponse
	f.pendingEvent = &EndpointServerEvent{Kind: EndpointServerChannelRequestReceived, RequestedChannel: a.Channel}
	return res, true
}

func (f *EndpointServerFSM) execSendResponse(name string, args bson.M) (rpc.ExecResult, bool) {
	if name != rpc.FuncSendResponse {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	var a rpc.EndpointSendResponseArgs
	if err := rpc.FromBSON(args, &a); err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	if len(a.ClientCookie) != 32 || len(a.ClientIdentityProofSignature) != 64 {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	clientServiceId, err := identity.ParseServiceId(a.ClientIdentity)
	if err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}

	var clientCookie identity.Cookie
	copy(clientCookie[:], a.ClientCookie)
	var proofSig [64]byte
	copy(proofSig[:], a.ClientIdentityProofSignature)

	proof, err := identity.BuildClientProof(identity.DomainEndpoint, f.channelName, clientServiceId, f.serverServiceId, clientCookie, f.serverCookie)
	if err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}

	flags := EndpointRejectionFlags{
		ClientAllowed: clientServiceId == f.allowedClient,
		// No continuation entry point exists in this FSM to source this flag
		// from application policy (spec §9 open question); fixed true as the
		// surveyed implementation does.
		ClientRequestedChannelValid: true,
		ClientProofSignatureValid:   clientServiceId.VerifyingKey().Verify(proof, proofSig),
	}

	f.state = EndpointServerHandledSendResponse
	if flags.Success() {
		res, err := rpc.SuccessDocument(bson.M{})
		if err != nil {
			f.logger.Error("endpoint server: build send_response reply", "error", err)
		}
		f.pendingEvent = &EndpointServerEvent{
			Kind:            EndpointServerHandshakeCompleted,
			ClientServiceId: clientServiceId,
			ChannelName:     f.channelName,
			Stream:          f.stream,
		}
		return res, true
	}

	f.pendingEvent = &EndpointServerEvent{Kind: EndpointServerHandshakeRejected, Flags: flags, ClientServiceId: clientServiceId}
	return rpc.Failure(rpc.ErrFailure), true
}

// NextResult implements rpc.ApiSet. EndpointServerFSM never defers a reply.
func (f *EndpointServerFSM) NextResult() (rpc.RequestCookie, rpc.ExecResult, bool) {
	return 0, rpc.ExecResult{}, false
}

// Update drains any event the FSM has queued for the application this tick.
func (f *EndpointServerFSM) Update() (EndpointServerEvent, bool) {
	if f.done || f.pendingEvent == nil {
		return EndpointServerEvent{}, false
	}
	ev := *f.pendingEvent
	f.pendingEvent = nil
	switch ev.Kind {
	case EndpointServerHandshakeCompleted, EndpointServerHandshakeRejected, EndpointServerHandshakeFailed:
		f.done = true
		f.state = EndpointServerHandshakeComplete
	}
	return ev, true
}
