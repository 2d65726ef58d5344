// Package transport describes the onion-routing transport external
// collaborator (spec §6): bootstrapping the local relay, connecting out to a
// remote onion service, and publishing listeners for one. The core never
// speaks the onion-routing protocol itself; it only drives this interface.
package transport

import (
	"context"
	"io"

	"github.com/pcwizz/gosling-go/identity"
)

// EventKind enumerates the asynchronous event shapes a Transport surfaces
// from Update (spec §6: bootstrap progress, log lines, descriptor publish
// confirmations).
type EventKind int

const (
	EventBootstrapStatus EventKind = iota
	EventBootstrapComplete
	EventLog
	EventListenerPublished
	EventListenerPublishFailed
)

// Event is one asynchronous notification surfaced by Transport.Update.
type Event struct {
	Kind     EventKind
	Progress int    // 0-100, for EventBootstrapStatus
	Message  string // for EventLog
	Err      error  // for EventListenerPublishFailed
}

// Transport is the onion-routing collaborator every Context is built on top
// of. Implementations must not block: Update, Connect's non-blocking phases,
// and Listener.Accept all participate in the same single-threaded runloop
// the rest of the library uses.
type Transport interface {
	// Bootstrap starts connecting to the onion-routing network. Progress is
	// reported through Update's EventBootstrapStatus/EventBootstrapComplete
	// events rather than by blocking here.
	Bootstrap() error

	// Update drains and returns any events that have become available since
	// the last call.
	Update() []Event

	// Connect opens a stream to a remote service's virtual port. The
	// circuitToken (when non-nil) is threaded through as out-of-band
	// rendezvous material the handshake layer negotiated (spec §4.4/§4.5
	// "channel" binding).
	Connect(ctx context.Context, serviceID identity.ServiceId, virtPort uint16, circuitToken []byte) (io.ReadWriteCloser, error)

	// Listener publishes a service descriptor for signingKey on virtPort,
	// optionally restricted to a client-auth allowlist (spec §5.3).
	Listener(signingKey identity.SigningKey, virtPort uint16, authorizedClientAuthKeys []identity.AuthPublicKey) (Listener, error)

	// AddClientAuth/RemoveClientAuth manage the client-authorization keys
	// this side uses when connecting to services that require them.
	AddClientAuth(serviceID identity.ServiceId, privateKey identity.AuthPrivateKey) error
	RemoveClientAuth(serviceID identity.ServiceId) error
}

// Listener accepts inbound streams for one published service. Accept never
// blocks: ok=false means no connection was waiting.
type Listener interface {
	Accept() (conn io.ReadWriteCloser, ok bool, err error)
	Close() error
}
