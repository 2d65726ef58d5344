// Package mock provides an in-process transport.Transport implementation
// that needs no real onion-routing daemon, for tests and the self-contained
// demo binary. It mirrors the role of MockTorClient in the original source's
// cgosling tor_provider.rs: "mock tor provider for no-internet required
// in-process testing".
package mock

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/transport"
)

// Network is a shared in-memory directory of published listeners. Every
// mock Transport that should be able to reach another must be built against
// the same Network, the way two real peers share the same onion-routing
// network.
type Network struct {
	mu        sync.Mutex
	listeners map[identity.ServiceId]*publishedService
}

// NewNetwork returns an empty shared directory.
func NewNetwork() *Network {
	return &Network{listeners: make(map[identity.ServiceId]*publishedService)}
}

type publishedService struct {
	mu             sync.Mutex
	authorizedKeys map[identity.AuthPublicKey]bool // empty means unrestricted
	pending        []net.Conn
	closed         bool
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Listener  = (*mockListener)(nil)
)

// Transport is one peer's view of a Network.
type Transport struct {
	network *Network

	mu             sync.Mutex
	bootstrapped   bool
	events         []transport.Event
	clientAuthKeys map[identity.ServiceId]identity.AuthPrivateKey
}

// New returns a Transport attached to network.
func New(network *Network) *Transport {
	return &Transport{
		network:        network,
		clientAuthKeys: make(map[identity.ServiceId]identity.AuthPrivateKey),
	}
}

func (t *Transport) Bootstrap() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bootstrapped = true
	t.events = append(t.events,
		transport.Event{Kind: transport.EventBootstrapStatus, Progress: 100},
		transport.Event{Kind: transport.EventBootstrapComplete},
	)
	return nil
}

func (t *Transport) Update() []transport.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) == 0 {
		return nil
	}
	out := t.events
	t.events = nil
	return out
}

func (t *Transport) Connect(ctx context.Context, serviceID identity.ServiceId, virtPort uint16, circuitToken []byte) (io.ReadWriteCloser, error) {
	t.network.mu.Lock()
	svc, ok := t.network.listeners[serviceID]
	t.network.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport/mock: no listener published for %s", serviceID)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.closed {
		return nil, fmt.Errorf("transport/mock: listener for %s is closed", serviceID)
	}
	if len(svc.authorizedKeys) > 0 {
		t.mu.Lock()
		priv, have := t.clientAuthKeys[serviceID]
		t.mu.Unlock()
		if !have {
			return nil, fmt.Errorf("transport/mock: %s requires client authorization", serviceID)
		}
		pub, err := priv.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("transport/mock: derive client auth public key: %w", err)
		}
		if !svc.authorizedKeys[pub] {
			return nil, fmt.Errorf("transport/mock: client authorization key not authorized for %s", serviceID)
		}
	}

	local, remote := net.Pipe()
	svc.pending = append(svc.pending, remote)
	return local, nil
}

func (t *Transport) Listener(signingKey identity.SigningKey, virtPort uint16, authorizedClientAuthKeys []identity.AuthPublicKey) (transport.Listener, error) {
	serviceID := signingKey.ServiceId()
	authorized := make(map[identity.AuthPublicKey]bool, len(authorizedClientAuthKeys))
	for _, k := range authorizedClientAuthKeys {
		authorized[k] = true
	}
	svc := &publishedService{authorizedKeys: authorized}

	t.network.mu.Lock()
	t.network.listeners[serviceID] = svc
	t.network.mu.Unlock()

	t.mu.Lock()
	t.events = append(t.events, transport.Event{Kind: transport.EventListenerPublished})
	t.mu.Unlock()

	return &mockListener{network: t.network, serviceID: serviceID, svc: svc}, nil
}

func (t *Transport) AddClientAuth(serviceID identity.ServiceId, privateKey identity.AuthPrivateKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clientAuthKeys[serviceID] = privateKey
	return nil
}

func (t *Transport) RemoveClientAuth(serviceID identity.ServiceId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clientAuthKeys, serviceID)
	return nil
}

type mockListener struct {
	network   *Network
	serviceID identity.ServiceId
	svc       *publishedService
}

func (l *mockListener) Accept() (io.ReadWriteCloser, bool, error) {
	l.svc.mu.Lock()
	defer l.svc.mu.Unlock()
	if l.svc.closed {
		return nil, false, fmt.Errorf("transport/mock: listener for %s is closed", l.serviceID)
	}
	if len(l.svc.pending) == 0 {
		return nil, false, nil
	}
	conn := l.svc.pending[0]
	l.svc.pending = l.svc.pending[1:]
	return conn, true, nil
}

func (l *mockListener) Close() error {
	l.svc.mu.Lock()
	l.svc.closed = true
	l.svc.mu.Unlock()

	l.network.mu.Lock()
	delete(l.network.listeners, l.serviceID)
	l.network.mu.Unlock()
	return nil
}
