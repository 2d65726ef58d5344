package rpc

import (
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

type frameKind int

const (
	frameCall frameKind = iota
	frameResponse
)

// frame is what crosses a LocalSession pair's wire. It is bson-shaped enough
// to exercise real (de)serialization without needing an actual socket.
type frame struct {
	kind      frameKind
	cookie    RequestCookie
	namespace string
	function  string
	version   int
	args      bson.M
	errCode   ErrorCode
	result    bson.RawValue
}

var _ Session = (*LocalSession)(nil)

// LocalSession is an in-process Session implementation: two LocalSessions
// wired together over a pair of buffered channels stand in for an RPC
// transport the core doesn't otherwise need to know about. Used by every
// handshake FSM test; the Context and the demo binary use StreamSession.
type LocalSession struct {
	mu      sync.Mutex
	out     chan<- frame
	in      <-chan frame
	cookie  RequestCookie
	pending []Response
	closed  bool
}

// NewLocalSessionPair returns two LocalSessions wired to each other: frames
// sent on one arrive on the other.
func NewLocalSessionPair() (a, b *LocalSession) {
	abuf := make(chan frame, 64)
	bbuf := make(chan frame, 64)
	a = &LocalSession{out: abuf, in: bbuf}
	b = &LocalSession{out: bbuf, in: abuf}
	return a, b
}

func (s *LocalSession) ClientCall(namespace, function string, version int, args bson.M) (RequestCookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("rpc: session closed")
	}
	s.cookie++
	cookie := s.cookie
	f := frame{
		kind:      frameCall,
		cookie:    cookie,
		namespace: namespace,
		function:  function,
		version:   version,
		args:      args,
	}
	select {
	case s.out <- f:
		return cookie, nil
	default:
		return 0, fmt.Errorf("rpc: outbound queue full")
	}
}

func (s *LocalSession) ClientNextResponse() (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Response{}, false
	}
	r := s.pending[0]
	s.pending = s.pending[1:]
	return r, true
}

// Update drains all frames currently sitting on the inbound channel,
// dispatching calls to the matching ApiSet and queuing responses for
// ClientNextResponse, then polls each ApiSet once for deferred replies that
// have become ready.
func (s *LocalSession) Update(apiSets ...ApiSet) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("rpc: session closed")
	}

	for {
		var f frame
		var ok bool
		select {
		case f, ok = <-s.in:
		default:
			ok = false
		}
		if !ok {
			break
		}
		switch f.kind {
		case frameResponse:
			s.mu.Lock()
			s.pending = append(s.pending, Response{Cookie: f.cookie, Err: f.errCode, Result: f.result})
			s.mu.Unlock()
		case frameCall:
			s.dispatchCall(f, apiSets)
		}
	}

	for _, as := range apiSets {
		for {
			cookie, res, ok := as.NextResult()
			if !ok {
				break
			}
			s.sendResponse(cookie, res)
		}
	}
	return nil
}

func (s *LocalSession) dispatchCall(f frame, apiSets []ApiSet) {
	for _, as := range apiSets {
		if as.Namespace() != f.namespace {
			continue
		}
		res, ok := as.ExecFunction(f.function, f.version, f.args, f.cookie)
		if ok {
			s.sendResponse(f.cookie, res)
		}
		return
	}
	s.sendResponse(f.cookie, Failure(ErrInvalidArg))
}

func (s *LocalSession) sendResponse(cookie RequestCookie, res ExecResult) {
	f := frame{kind: frameResponse, cookie: cookie, errCode: res.Err, result: res.Result}
	select {
	case s.out <- f:
	default:
		// peer's inbound queue is full; the reply is dropped rather than
		// blocking the runloop (spec §9 allows discarding a reply on close,
		// and a full buffer here means the peer has stopped servicing it).
	}
}

func (s *LocalSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
