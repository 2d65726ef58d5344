// Package gosling implements the identity/endpoint authentication protocol:
// a peer proves control of a long-term identity to a remote identity
// service, is granted a fresh per-peer endpoint, and then re-proves identity
// against that endpoint to open a named application channel. Context is the
// single entry point; it is driven by repeated calls to Update and is not
// safe for concurrent use.
package gosling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/pcwizz/gosling-go/handshake"
	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
	"github.com/pcwizz/gosling-go/transport"
)

type identityClientEntry struct {
	session rpc.Session
	fsm     *handshake.IdentityClientFSM
}

type identityServerEntry struct {
	session rpc.Session
	fsm     *handshake.IdentityServerFSM
}

type endpointClientEntry struct {
	session rpc.Session
	fsm     *handshake.EndpointClientFSM
}

type endpointServerEntry struct {
	session rpc.Session
	fsm     *handshake.EndpointServerFSM
}

// endpointListenerEntry is one bound endpoint listener (spec §4.6 "a keyed
// set of endpoint listeners").
type endpointListenerEntry struct {
	listener      transport.Listener
	signingKey    identity.SigningKey
	endpointName  string
	allowedClient identity.ServiceId
}

// Context is the protocol orchestrator (spec §4.6). All state transitions
// happen inside Update; no method here performs blocking I/O.
type Context struct {
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics

	identityKey       identity.SigningKey
	identityServiceId identity.ServiceId
	identityPort      uint16
	endpointPort      uint16

	bootstrapped      bool
	identityListener  transport.Listener

	endpointListeners map[identity.ServiceId]*endpointListenerEntry

	nextHandle HandshakeHandle

	identityClients map[HandshakeHandle]*identityClientEntry
	identityServers map[HandshakeHandle]*identityServerEntry
	endpointClients map[HandshakeHandle]*endpointClientEntry
	endpointServers map[HandshakeHandle]*endpointServerEntry
}

// Option configures a Context at construction.
type Option func(*Context)

// WithLogger overrides the default slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) { c.logger = logger }
}

// WithMetricsRegisterer registers the Context's Prometheus collectors with
// reg. Omit this option to leave metrics uncollected.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Context) { c.metrics = newMetrics(reg) }
}

// NewContext constructs a Context bound to t, using identityKey as the
// caller's long-term identity and the given identity/endpoint virtual ports.
func NewContext(t transport.Transport, identityKey identity.SigningKey, identityPort, endpointPort uint16, opts ...Option) *Context {
	c := &Context{
		transport:         t,
		logger:            slog.Default(),
		identityKey:       identityKey,
		identityServiceId: identityKey.ServiceId(),
		identityPort:      identityPort,
		endpointPort:      endpointPort,
		endpointListeners: make(map[identity.ServiceId]*endpointListenerEntry),
		identityClients:   make(map[HandshakeHandle]*identityClientEntry),
		identityServers:   make(map[HandshakeHandle]*identityServerEntry),
		endpointClients:   make(map[HandshakeHandle]*endpointClientEntry),
		endpointServers:   make(map[HandshakeHandle]*endpointServerEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newMetrics(nil)
	}
	return c
}

// IdentityServiceId is this Context's own identity ServiceId.
func (c *Context) IdentityServiceId() identity.ServiceId { return c.identityServiceId }

// Bootstrap begins connecting to the transport's underlying network.
// Progress is reported through Update's transport-passthrough events.
func (c *Context) Bootstrap() error {
	return c.transport.Bootstrap()
}

func (c *Context) allocHandle() HandshakeHandle {
	c.nextHandle++
	return c.nextHandle
}

// --- Client-side operations (spec §4.6) ---

// IdentityClientBeginHandshake connects to serverServiceId's identity port
// and starts an identity-client handshake requesting endpointName.
func (c *Context) IdentityClientBeginHandshake(serverServiceId identity.ServiceId, endpointName string) (HandshakeHandle, error) {
	if !c.bootstrapped {
		return 0, &NotBootstrappedError{}
	}
	conn, err := c.transport.Connect(context.Background(), serverServiceId, c.identityPort, nil)
	if err != nil {
		return 0, fmt.Errorf("gosling: connect to identity service %s: %w", serverServiceId, err)
	}
	session := rpc.NewStreamSession(conn)
	fsm, err := handshake.NewIdentityClientFSM(session, serverServiceId, endpointName, c.identityKey, c.logger)
	if err != nil {
		_ = session.Close()
		return 0, translateFailure(0, err)
	}
	handle := c.allocHandle()
	c.identityClients[handle] = &identityClientEntry{session: session, fsm: fsm}
	c.metrics.started(fsmIdentityClient)
	return handle, nil
}

// IdentityClientSubmitChallengeResponse forwards response to the FSM running
// under handle (spec §4.2 step 3-4).
func (c *Context) IdentityClientSubmitChallengeResponse(handle HandshakeHandle, response bson.M) error {
	entry, ok := c.identityClients[handle]
	if !ok {
		return &UnknownHandleError{Handle: handle}
	}
	if err := entry.fsm.SubmitChallengeResponse(response); err != nil {
		return translateFailure(handle, err)
	}
	return nil
}

// EndpointClientBeginHandshake registers clientAuthPrivateKey with the
// transport, connects to endpointServiceId's endpoint port, and starts an
// endpoint-client handshake requesting channelName.
func (c *Context) EndpointClientBeginHandshake(endpointServiceId identity.ServiceId, clientAuthPrivateKey identity.AuthPrivateKey, channelName string) (HandshakeHandle, error) {
	if !c.bootstrapped {
		return 0, &NotBootstrappedError{}
	}
	if err := c.transport.AddClientAuth(endpointServiceId, clientAuthPrivateKey); err != nil {
		return 0, fmt.Errorf("gosling: register client auth for %s: %w", endpointServiceId, err)
	}
	conn, err := c.transport.Connect(context.Background(), endpointServiceId, c.endpointPort, nil)
	if err != nil {
		return 0, fmt.Errorf("gosling: connect to endpoint %s: %w", endpointServiceId, err)
	}
	session := rpc.NewStreamSession(conn)
	fsm, err := handshake.NewEndpointClientFSM(session, conn, endpointServiceId, channelName, c.identityKey, c.logger)
	if err != nil {
		_ = session.Close()
		return 0, translateFailure(0, err)
	}
	handle := c.allocHandle()
	c.endpointClients[handle] = &endpointClientEntry{session: session, fsm: fsm}
	c.metrics.started(fsmEndpointClient)
	return handle, nil
}

// IdentityClientAbortHandshake closes handle's session and drops its FSM
// (spec §5 Cancellation, SPEC_FULL.md "Abort semantics precision": the
// session is always closed before the map entry is removed).
func (c *Context) IdentityClientAbortHandshake(handle HandshakeHandle) error {
	entry, ok := c.identityClients[handle]
	if !ok {
		return &UnknownHandleError{Handle: handle}
	}
	_ = entry.session.Close()
	delete(c.identityClients, handle)
	return nil
}

// EndpointClientAbortHandshake closes handle's session and drops its FSM.
func (c *Context) EndpointClientAbortHandshake(handle HandshakeHandle) error {
	entry, ok := c.endpointClients[handle]
	if !ok {
		return &UnknownHandleError{Handle: handle}
	}
	_ = entry.session.Close()
	delete(c.endpointClients, handle)
	return nil
}

// --- Server-side operations (spec §4.6) ---

// IdentityServerStart binds a listener under the Context's identity key.
func (c *Context) IdentityServerStart() error {
	if !c.bootstrapped {
		return &NotBootstrappedError{}
	}
	if c.identityListener != nil {
		return &InvalidStateError{Reason: "identity server already started"}
	}
	l, err := c.transport.Listener(c.identityKey, c.identityPort, nil)
	if err != nil {
		return fmt.Errorf("gosling: bind identity listener: %w", err)
	}
	c.identityListener = l
	return nil
}

// IdentityServerStop destroys the identity listener and every in-flight
// inbound identity-server FSM.
func (c *Context) IdentityServerStop() error {
	if c.identityListener == nil {
		return &InvalidStateError{Reason: "identity server not started"}
	}
	err := c.identityListener.Close()
	c.identityListener = nil
	for handle, entry := range c.identityServers {
		_ = entry.session.Close()
		delete(c.identityServers, handle)
	}
	if err != nil {
		return fmt.Errorf("gosling: close identity listener: %w", err)
	}
	return nil
}

// IdentityServerSubmitEndpointRequestDecision forwards application policy
// for an EndpointRequestReceived event (spec §4.3 submit_challenge).
func (c *Context) IdentityServerSubmitEndpointRequestDecision(handle HandshakeHandle, clientAllowed, endpointSupported bool, challenge bson.M) error {
	entry, ok := c.identityServers[handle]
	if !ok {
		return &UnknownHandleError{Handle: handle}
	}
	if err := entry.fsm.SubmitEndpointRequestDecision(clientAllowed, endpointSupported, challenge); err != nil {
		return translateFailure(handle, err)
	}
	return nil
}

// IdentityServerSubmitChallengeResponseVerdict forwards application policy
// for a ChallengeResponseReceived event (spec §4.3 submit_challenge_verification).
func (c *Context) IdentityServerSubmitChallengeResponseVerdict(handle HandshakeHandle, valid bool) error {
	entry, ok := c.identityServers[handle]
	if !ok {
		return &UnknownHandleError{Handle: handle}
	}
	if err := entry.fsm.SubmitChallengeResponseVerdict(valid); err != nil {
		return translateFailure(handle, err)
	}
	return nil
}

// EndpointServerStart binds a listener under endpointPrivateKey restricted to
// allowedClientServiceId / clientAuthPublicKey and returns its derived
// ServiceId.
func (c *Context) EndpointServerStart(endpointPrivateKey identity.SigningKey, endpointName string, allowedClientServiceId identity.ServiceId, clientAuthPublicKey identity.AuthPublicKey) (identity.ServiceId, error) {
	if !c.bootstrapped {
		return identity.ServiceId{}, &NotBootstrappedError{}
	}
	endpointServiceId := endpointPrivateKey.ServiceId()
	if _, exists := c.endpointListeners[endpointServiceId]; exists {
		return identity.ServiceId{}, &InvalidStateError{Reason: fmt.Sprintf("endpoint %s already started", endpointServiceId)}
	}
	l, err := c.transport.Listener(endpointPrivateKey, c.endpointPort, []identity.AuthPublicKey{clientAuthPublicKey})
	if err != nil {
		return identity.ServiceId{}, fmt.Errorf("gosling: bind endpoint listener for %s: %w", endpointName, err)
	}
	c.endpointListeners[endpointServiceId] = &endpointListenerEntry{
		listener:      l,
		signingKey:    endpointPrivateKey,
		endpointName:  endpointName,
		allowedClient: allowedClientServiceId,
	}
	c.logger.Debug("gosling: endpoint server started", "endpoint", endpointName, "service_id", endpointServiceId)
	return endpointServiceId, nil
}

// EndpointServerStop removes endpointServiceId's listener from the index.
func (c *Context) EndpointServerStop(endpointServiceId identity.ServiceId) error {
	entry, ok := c.endpointListeners[endpointServiceId]
	if !ok {
		return &UnknownHandleError{}
	}
	delete(c.endpointListeners, endpointServiceId)
	if err := entry.listener.Close(); err != nil {
		return fmt.Errorf("gosling: close endpoint listener: %w", err)
	}
	return nil
}

// --- Update ---

// Update performs one runloop pass (spec §4.6, §5 Ordering guarantees):
// accept pending connections on the identity listener, then on every
// endpoint listener, drain transport events, then tick every FSM in
// handle-ascending order within each of the four FSM kinds.
func (c *Context) Update() []ContextEvent {
	var events []ContextEvent

	c.acceptIdentityConnection()
	c.acceptEndpointConnections()

	for _, tev := range c.transport.Update() {
		if tev.Kind == transport.EventBootstrapComplete {
			c.bootstrapped = true
		}
		events = append(events, fromTransportEvent(tev))
	}

	events = append(events, c.tickIdentityClients()...)
	events = append(events, c.tickIdentityServers()...)
	events = append(events, c.tickEndpointClients()...)
	events = append(events, c.tickEndpointServers()...)

	c.metrics.setInFlight(len(c.identityClients) + len(c.identityServers) + len(c.endpointClients) + len(c.endpointServers))
	return events
}

func (c *Context) acceptIdentityConnection() {
	if c.identityListener == nil {
		return
	}
	conn, ok, err := c.identityListener.Accept()
	if err != nil {
		c.logger.Warn("gosling: identity listener accept failed", "error", err)
		return
	}
	if !ok {
		return
	}
	session := rpc.NewStreamSession(conn)
	fsm := handshake.NewIdentityServerFSM(session, c.identityServiceId, c.logger)
	handle := c.allocHandle()
	c.identityServers[handle] = &identityServerEntry{session: session, fsm: fsm}
	c.metrics.started(fsmIdentityServer)
}

func (c *Context) acceptEndpointConnections() {
	for _, endpointServiceId := range c.sortedEndpointListenerKeys() {
		entry := c.endpointListeners[endpointServiceId]
		conn, ok, err := entry.listener.Accept()
		if err != nil {
			c.logger.Warn("gosling: endpoint listener accept failed", "endpoint", entry.endpointName, "error", err)
			continue
		}
		if !ok {
			continue
		}
		session := rpc.NewStreamSession(conn)
		fsm, err := handshake.NewEndpointServerFSM(session, conn, entry.allowedClient, endpointServiceId, c.logger)
		if err != nil {
			c.logger.Warn("gosling: construct endpoint-server fsm failed", "endpoint", entry.endpointName, "error", err)
			_ = session.Close()
			continue
		}
		handle := c.allocHandle()
		c.endpointServers[handle] = &endpointServerEntry{session: session, fsm: fsm}
		c.metrics.started(fsmEndpointServer)
	}
}

func (c *Context) sortedEndpointListenerKeys() []identity.ServiceId {
	keys := make([]identity.ServiceId, 0, len(c.endpointListeners))
	for k := range c.endpointListeners {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func sortedHandleKeysIC(m map[HandshakeHandle]*identityClientEntry) []HandshakeHandle {
	keys := make([]HandshakeHandle, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedHandleKeysIS(m map[HandshakeHandle]*identityServerEntry) []HandshakeHandle {
	keys := make([]HandshakeHandle, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedHandleKeysEC(m map[HandshakeHandle]*endpointClientEntry) []HandshakeHandle {
	keys := make([]HandshakeHandle, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedHandleKeysES(m map[HandshakeHandle]*endpointServerEntry) []HandshakeHandle {
	keys := make([]HandshakeHandle, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (c *Context) tickIdentityClients() []ContextEvent {
	var events []ContextEvent
	for _, handle := range sortedHandleKeysIC(c.identityClients) {
		entry := c.identityClients[handle]
		if err := entry.session.Update(); err != nil {
			events = append(events, ContextEvent{Kind: EventIdentityClientHandshakeFailed, Handle: handle, Err: translateFailure(handle, err)})
			_ = entry.session.Close()
			delete(c.identityClients, handle)
			c.metrics.failed(fsmIdentityClient)
			continue
		}
		ev, ok := entry.fsm.Update()
		if !ok {
			continue
		}
		events = append(events, fromIdentityClientEvent(handle, ev))
		if ev.Kind == handshake.IdentityClientHandshakeCompleted {
			c.metrics.completed(fsmIdentityClient)
		} else if ev.Kind == handshake.IdentityClientHandshakeFailed {
			c.metrics.failed(fsmIdentityClient)
		}
		if entry.fsm.Done() {
			delete(c.identityClients, handle)
		}
	}
	return events
}

func (c *Context) tickIdentityServers() []ContextEvent {
	var events []ContextEvent
	for _, handle := range sortedHandleKeysIS(c.identityServers) {
		entry := c.identityServers[handle]
		if err := entry.session.Update(entry.fsm); err != nil {
			events = append(events, ContextEvent{Kind: EventIdentityServerHandshakeFailed, Handle: handle, Err: translateFailure(handle, err)})
			_ = entry.session.Close()
			delete(c.identityServers, handle)
			c.metrics.failed(fsmIdentityServer)
			continue
		}
		ev, ok := entry.fsm.Update()
		if !ok {
			continue
		}
		events = append(events, fromIdentityServerEvent(handle, ev))
		switch ev.Kind {
		case handshake.IdentityServerHandshakeCompleted:
			c.metrics.completed(fsmIdentityServer)
		case handshake.IdentityServerHandshakeRejected:
			c.metrics.rejected(fsmIdentityServer)
		case handshake.IdentityServerHandshakeFailed:
			c.metrics.failed(fsmIdentityServer)
		}
		if entry.fsm.Done() {
			delete(c.identityServers, handle)
		}
	}
	return events
}

func (c *Context) tickEndpointClients() []ContextEvent {
	var events []ContextEvent
	for _, handle := range sortedHandleKeysEC(c.endpointClients) {
		entry := c.endpointClients[handle]
		if err := entry.session.Update(); err != nil {
			events = append(events, ContextEvent{Kind: EventEndpointClientHandshakeFailed, Handle: handle, Err: translateFailure(handle, err)})
			_ = entry.session.Close()
			delete(c.endpointClients, handle)
			c.metrics.failed(fsmEndpointClient)
			continue
		}
		ev, ok := entry.fsm.Update()
		if !ok {
			continue
		}
		events = append(events, fromEndpointClientEvent(handle, ev))
		if ev.Kind == handshake.EndpointClientHandshakeCompleted {
			c.metrics.completed(fsmEndpointClient)
		} else if ev.Kind == handshake.EndpointClientHandshakeFailed {
			c.metrics.failed(fsmEndpointClient)
		}
		if entry.fsm.Done() {
			delete(c.endpointClients, handle)
		}
	}
	return events
}

func (c *Context) tickEndpointServers() []ContextEvent {
	var events []ContextEvent
	for _, handle := range sortedHandleKeysES(c.endpointServers) {
		entry := c.endpointServers[handle]
		if err := entry.session.Update(entry.fsm); err != nil {
			events = append(events, ContextEvent{Kind: EventEndpointServerHandshakeFailed, Handle: handle, Err: translateFailure(handle, err)})
			_ = entry.session.Close()
			delete(c.endpointServers, handle)
			c.metrics.failed(fsmEndpointServer)
			continue
		}
		ev, ok := entry.fsm.Update()
		if !ok {
			continue
		}
		events = append(events, fromEndpointServerEvent(handle, ev))
		switch ev.Kind {
		case handshake.EndpointServerHandshakeCompleted:
			c.metrics.completed(fsmEndpointServer)
		case handshake.EndpointServerHandshakeRejected:
			c.metrics.rejected(fsmEndpointServer)
		case handshake.EndpointServerHandshakeFailed:
			c.metrics.failed(fsmEndpointServer)
		}
		if entry.fsm.Done() {
			delete(c.endpointServers, handle)
		}
	}
	return events
}
