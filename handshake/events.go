// Package handshake implements the four protocol finite-state-machines
// (spec §4.2-§4.5): identity client, identity server, endpoint client, and
// endpoint server. Each FSM exclusively owns one rpc.Session and is ticked
// by a single Update call per runloop pass; none of them spawn goroutines
// or block.
package handshake

import (
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
)

// Sentinel/typed errors an FSM can fail with, wrapped into a *Failed event
// rather than returned from Update directly, so the Context can treat every
// FSM uniformly: tick it, get back zero-or-one event.
var (
	ErrBadArgument   = errors.New("handshake: bad argument")
	ErrInvalidState  = errors.New("handshake: invalid state for operation")
	ErrIncorrectUsage = errors.New("handshake: entry point invoked out of sequence")
	ErrRpcTransport  = errors.New("handshake: rpc transport failure")
)

// RpcRemoteError wraps a runtime error code the remote peer answered an RPC
// call with (spec §7 RpcRemote(code)).
type RpcRemoteError struct {
	Code rpc.ErrorCode
}

func (e *RpcRemoteError) Error() string {
	return fmt.Sprintf("handshake: remote rpc error %s", e.Code)
}

// IdentityRejectionFlags carries the five independent verification flags the
// identity server FSM evaluates (spec §4.3).
type IdentityRejectionFlags struct {
	ClientAllowed                bool
	ClientRequestedEndpointValid bool
	ClientProofSignatureValid    bool
	ClientAuthSignatureValid     bool
	ChallengeResponseValid       bool
}

// Success reports whether every flag is set.
func (f IdentityRejectionFlags) Success() bool {
	return f.ClientAllowed && f.ClientRequestedEndpointValid && f.ClientProofSignatureValid &&
		f.ClientAuthSignatureValid && f.ChallengeResponseValid
}

// EndpointRejectionFlags carries the endpoint server FSM's verification flags
// (spec §4.5).
type EndpointRejectionFlags struct {
	ClientAllowed             bool
	ClientRequestedChannelValid bool
	ClientProofSignatureValid bool
}

// Success reports whether every flag is set.
func (f EndpointRejectionFlags) Success() bool {
	return f.ClientAllowed && f.ClientRequestedChannelValid && f.ClientProofSignatureValid
}

// IdentityClientEventKind enumerates identity-client FSM events.
type IdentityClientEventKind int

const (
	IdentityClientNone IdentityClientEventKind = iota
	IdentityClientChallengeReceived
	IdentityClientHandshakeCompleted
	IdentityClientHandshakeFailed
)

// IdentityClientEvent is emitted by IdentityClientFSM.Update.
type IdentityClientEvent struct {
	Kind                 IdentityClientEventKind
	IdentityServiceId    identity.ServiceId
	EndpointServiceId    identity.ServiceId
	EndpointName         string
	EndpointChallenge    bson.M
	ClientAuthPrivateKey identity.AuthPrivateKey
	Err                  error
}

// IdentityServerEventKind enumerates identity-server FSM events.
type IdentityServerEventKind int

const (
	IdentityServerNone IdentityServerEventKind = iota
	IdentityServerEndpointRequestReceived
	IdentityServerChallengeResponseReceived
	IdentityServerHandshakeCompleted
	IdentityServerHandshakeRejected
	IdentityServerHandshakeFailed
)

// IdentityServerEvent is emitted by IdentityServerFSM.Update.
type IdentityServerEvent struct {
	Kind               IdentityServerEventKind
	ClientServiceId    identity.ServiceId
	RequestedEndpoint  string
	ChallengeResponse  bson.M
	EndpointPrivateKey identity.SigningKey
	EndpointName       string
	ClientAuthPublicKey identity.AuthPublicKey
	Flags              IdentityRejectionFlags
	Err                error
}

// EndpointClientEventKind enumerates endpoint-client FSM events.
type EndpointClientEventKind int

const (
	EndpointClientNone EndpointClientEventKind = iota
	EndpointClientHandshakeCompleted
	EndpointClientHandshakeFailed
)

// EndpointClientEvent is emitted by EndpointClientFSM.Update.
type EndpointClientEvent struct {
	Kind        EndpointClientEventKind
	ChannelName string
	Stream      io.ReadWriteCloser
	Err         error
}

// EndpointServerEventKind enumerates endpoint-server FSM events.
type EndpointServerEventKind int

const (
	EndpointServerNone EndpointServerEventKind = iota
	EndpointServerChannelRequestReceived
	EndpointServerHandshakeCompleted
	EndpointServerHandshakeRejected
	EndpointServerHandshakeFailed
)

// EndpointServerEvent is emitted by EndpointServerFSM.Update.
type EndpointServerEvent struct {
	Kind              EndpointServerEventKind
	RequestedChannel  string
	ClientServiceId   identity.ServiceId
	ChannelName       string
	Stream            io.ReadWriteCloser
	Flags             EndpointRejectionFlags
	Err               error
}
