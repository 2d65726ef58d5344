package rpc

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

// echoApiSet replies immediately unless the call carries defer=true, in
// which case the reply is queued for a later NextResult poll.
type echoApiSet struct {
	namespace string
	deferred  []deferredReply
}

type deferredReply struct {
	cookie RequestCookie
	result ExecResult
}

func (e *echoApiSet) Namespace() string { return e.namespace }

func (e *echoApiSet) ExecFunction(name string, version int, args bson.M, cookie RequestCookie) (ExecResult, bool) {
	if wantDefer, _ := args["defer"].(bool); wantDefer {
		res, err := SuccessString("later")
		if err != nil {
			panic(err)
		}
		e.deferred = append(e.deferred, deferredReply{cookie: cookie, result: res})
		return ExecResult{}, false
	}
	res, err := SuccessDocument(bson.M{"echo": name})
	if err != nil {
		panic(err)
	}
	return res, true
}

func (e *echoApiSet) NextResult() (RequestCookie, ExecResult, bool) {
	if len(e.deferred) == 0 {
		return 0, ExecResult{}, false
	}
	d := e.deferred[0]
	e.deferred = e.deferred[1:]
	return d.cookie, d.result, true
}

func TestLocalSessionImmediateReply(t *testing.T) {
	client, server := NewLocalSessionPair()
	api := &echoApiSet{namespace: "gosling_identity"}

	cookie, err := client.ClientCall("gosling_identity", "begin_handshake", 1, bson.M{})
	if err != nil {
		t.Fatalf("ClientCall: %v", err)
	}

	if err := server.Update(api); err != nil {
		t.Fatalf("server.Update: %v", err)
	}
	if err := client.Update(); err != nil {
		t.Fatalf("client.Update: %v", err)
	}

	resp, ok := client.ClientNextResponse()
	if !ok {
		t.Fatal("expected a response to be ready")
	}
	if resp.Cookie != cookie {
		t.Fatalf("cookie mismatch: got %d, want %d", resp.Cookie, cookie)
	}
	if !resp.Success() {
		t.Fatalf("expected success, got error %v", resp.Err)
	}
	doc, err := resp.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc["echo"] != "begin_handshake" {
		t.Fatalf("unexpected reply document: %v", doc)
	}
}

func TestLocalSessionDeferredReply(t *testing.T) {
	client, server := NewLocalSessionPair()
	api := &echoApiSet{namespace: "gosling_endpoint"}

	cookie, err := client.ClientCall("gosling_endpoint", "send_response", 1, bson.M{"defer": true})
	if err != nil {
		t.Fatalf("ClientCall: %v", err)
	}

	if err := server.Update(api); err != nil {
		t.Fatalf("server.Update: %v", err)
	}
	if err := client.Update(); err != nil {
		t.Fatalf("client.Update: %v", err)
	}
	if _, ok := client.ClientNextResponse(); ok {
		t.Fatal("reply should still be deferred")
	}

	// Second Update on the server polls NextResult and flushes the reply.
	if err := server.Update(api); err != nil {
		t.Fatalf("server.Update (poll): %v", err)
	}
	if err := client.Update(); err != nil {
		t.Fatalf("client.Update: %v", err)
	}

	resp, ok := client.ClientNextResponse()
	if !ok {
		t.Fatal("expected deferred response to be ready")
	}
	if resp.Cookie != cookie {
		t.Fatalf("cookie mismatch: got %d, want %d", resp.Cookie, cookie)
	}
	s, err := resp.AsString()
	if err != nil {
		t.Fatalf("AsString: %v", err)
	}
	if s != "later" {
		t.Fatalf("unexpected deferred reply: %q", s)
	}
}

func TestLocalSessionUnknownNamespaceFails(t *testing.T) {
	client, server := NewLocalSessionPair()
	api := &echoApiSet{namespace: "gosling_identity"}

	if _, err := client.ClientCall("gosling_endpoint", "begin_handshake", 1, bson.M{}); err != nil {
		t.Fatalf("ClientCall: %v", err)
	}
	if err := server.Update(api); err != nil {
		t.Fatalf("server.Update: %v", err)
	}
	if err := client.Update(); err != nil {
		t.Fatalf("client.Update: %v", err)
	}

	resp, ok := client.ClientNextResponse()
	if !ok {
		t.Fatal("expected an error response")
	}
	if resp.Success() {
		t.Fatal("expected failure for unregistered namespace")
	}
	if resp.Err != ErrInvalidArg {
		t.Fatalf("expected ErrInvalidArg, got %v", resp.Err)
	}
}

func TestLocalSessionClosedRejectsCalls(t *testing.T) {
	client, _ := NewLocalSessionPair()
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := client.ClientCall("gosling_identity", "begin_handshake", 1, bson.M{}); err == nil {
		t.Fatal("expected ClientCall on closed session to fail")
	}
}
