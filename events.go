package gosling

import (
	"io"

	"github.com/pcwizz/gosling-go/handshake"
	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/transport"
)

// HandshakeHandle identifies one in-flight handshake (spec §3). Handles are
// monotonically increasing for the lifetime of a Context and are never
// reused.
type HandshakeHandle uint64

// ContextEventKind enumerates every event Context.Update can emit.
type ContextEventKind int

const (
	EventNone ContextEventKind = iota

	// Transport-forwarded events (spec §4.6 "forward transport-layer events").
	EventTransportBootstrapStatus
	EventTransportBootstrapComplete
	EventTransportLog
	EventTransportListenerPublished
	EventTransportListenerPublishFailed

	// Identity client events (§4.2).
	EventIdentityClientChallengeReceived
	EventIdentityClientHandshakeCompleted
	EventIdentityClientHandshakeFailed

	// Identity server events (§4.3).
	EventIdentityServerEndpointRequestReceived
	EventIdentityServerChallengeResponseReceived
	EventIdentityServerHandshakeCompleted
	EventIdentityServerHandshakeRejected
	EventIdentityServerHandshakeFailed

	// Endpoint client events (§4.4).
	EventEndpointClientHandshakeCompleted
	EventEndpointClientHandshakeFailed

	// Endpoint server events (§4.5).
	EventEndpointServerChannelRequestReceived
	EventEndpointServerHandshakeCompleted
	EventEndpointServerHandshakeRejected
	EventEndpointServerHandshakeFailed
)

// ContextEvent is the single event type Update returns, annotated with the
// handle it concerns (zero for Context-wide transport events) and whichever
// materials that event kind carries (spec §4.6 "Event translation").
type ContextEvent struct {
	Kind   ContextEventKind
	Handle HandshakeHandle

	// Transport passthrough.
	BootstrapProgress int
	LogLine           string
	PublishedService  identity.ServiceId
	TransportErr      error

	// Identity client.
	IdentityServiceId    identity.ServiceId
	EndpointName         string
	EndpointChallenge    map[string]interface{}
	EndpointServiceId    identity.ServiceId
	ClientAuthPrivateKey identity.AuthPrivateKey

	// Identity server.
	ClientServiceId     identity.ServiceId
	RequestedEndpoint   string
	ChallengeResponse   map[string]interface{}
	EndpointPrivateKey  identity.SigningKey
	ClientAuthPublicKey identity.AuthPublicKey
	IdentityFlags       handshake.IdentityRejectionFlags

	// Endpoint client/server.
	ChannelName      string
	RequestedChannel string
	Stream           io.ReadWriteCloser
	EndpointFlags    handshake.EndpointRejectionFlags

	// Failure reason for any *HandshakeFailed event.
	Err error
}

func fromTransportEvent(ev transport.Event) ContextEvent {
	switch ev.Kind {
	case transport.EventBootstrapStatus:
		return ContextEvent{Kind: EventTransportBootstrapStatus, BootstrapProgress: ev.Progress}
	case transport.EventBootstrapComplete:
		return ContextEvent{Kind: EventTransportBootstrapComplete}
	case transport.EventLog:
		return ContextEvent{Kind: EventTransportLog, LogLine: ev.Message}
	case transport.EventListenerPublishFailed:
		return ContextEvent{Kind: EventTransportListenerPublishFailed, TransportErr: ev.Err}
	default:
		return ContextEvent{Kind: EventTransportListenerPublished}
	}
}

func fromIdentityClientEvent(handle HandshakeHandle, ev handshake.IdentityClientEvent) ContextEvent {
	out := ContextEvent{Handle: handle}
	switch ev.Kind {
	case handshake.IdentityClientChallengeReceived:
		out.Kind = EventIdentityClientChallengeReceived
		out.IdentityServiceId = ev.IdentityServiceId
		out.EndpointName = ev.EndpointName
		out.EndpointChallenge = ev.EndpointChallenge
	case handshake.IdentityClientHandshakeCompleted:
		out.Kind = EventIdentityClientHandshakeCompleted
		out.IdentityServiceId = ev.IdentityServiceId
		out.EndpointServiceId = ev.EndpointServiceId
		out.EndpointName = ev.EndpointName
		out.ClientAuthPrivateKey = ev.ClientAuthPrivateKey
	case handshake.IdentityClientHandshakeFailed:
		out.Kind = EventIdentityClientHandshakeFailed
		out.Err = ev.Err
	}
	return out
}

func fromIdentityServerEvent(handle HandshakeHandle, ev handshake.IdentityServerEvent) ContextEvent {
	out := ContextEvent{Handle: handle}
	switch ev.Kind {
	case handshake.IdentityServerEndpointRequestReceived:
		out.Kind = EventIdentityServerEndpointRequestReceived
		out.ClientServiceId = ev.ClientServiceId
		out.RequestedEndpoint = ev.RequestedEndpoint
	case handshake.IdentityServerChallengeResponseReceived:
		out.Kind = EventIdentityServerChallengeResponseReceived
		out.ChallengeResponse = ev.ChallengeResponse
	case handshake.IdentityServerHandshakeCompleted:
		out.Kind = EventIdentityServerHandshakeCompleted
		out.ClientServiceId = ev.ClientServiceId
		out.EndpointPrivateKey = ev.EndpointPrivateKey
		out.EndpointName = ev.EndpointName
		out.ClientAuthPublicKey = ev.ClientAuthPublicKey
	case handshake.IdentityServerHandshakeRejected:
		out.Kind = EventIdentityServerHandshakeRejected
		out.ClientServiceId = ev.ClientServiceId
		out.IdentityFlags = ev.Flags
	case handshake.IdentityServerHandshakeFailed:
		out.Kind = EventIdentityServerHandshakeFailed
		out.Err = ev.Err
	}
	return out
}

func fromEndpointClientEvent(handle HandshakeHandle, ev handshake.EndpointClientEvent) ContextEvent {
	out := ContextEvent{Handle: handle}
	switch ev.Kind {
	case handshake.EndpointClientHandshakeCompleted:
		out.Kind = EventEndpointClientHandshakeCompleted
		out.ChannelName = ev.ChannelName
		out.Stream = ev.Stream
	case handshake.EndpointClientHandshakeFailed:
		out.Kind = EventEndpointClientHandshakeFailed
		out.Err = ev.Err
	}
	return out
}

func fromEndpointServerEvent(handle HandshakeHandle, ev handshake.EndpointServerEvent) ContextEvent {
	out := ContextEvent{Handle: handle}
	switch ev.Kind {
	case handshake.EndpointServerChannelRequestReceived:
		out.Kind = EventEndpointServerChannelRequestReceived
		out.RequestedChannel = ev.RequestedChannel
	case handshake.EndpointServerHandshakeCompleted:
		out.Kind = EventEndpointServerHandshakeCompleted
		out.ClientServiceId = ev.ClientServiceId
		out.ChannelName = ev.ChannelName
		out.Stream = ev.Stream
	case handshake.EndpointServerHandshakeRejected:
		out.Kind = EventEndpointServerHandshakeRejected
		out.ClientServiceId = ev.ClientServiceId
		out.EndpointFlags = ev.Flags
	case handshake.EndpointServerHandshakeFailed:
		out.Kind = EventEndpointServerHandshakeFailed
		out.Err = ev.Err
	}
	return out
}

// isTerminal reports whether a ContextEventKind retires its handle.
func isTerminal(kind ContextEventKind) bool {
	switch kind {
	case EventIdentityClientHandshakeCompleted, EventIdentityClientHandshakeFailed,
		EventIdentityServerHandshakeCompleted, EventIdentityServerHandshakeRejected, EventIdentityServerHandshakeFailed,
		EventEndpointClientHandshakeCompleted, EventEndpointClientHandshakeFailed,
		EventEndpointServerHandshakeCompleted, EventEndpointServerHandshakeRejected, EventEndpointServerHandshakeFailed:
		return true
	default:
		return false
	}
}
