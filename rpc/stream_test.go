package rpc

import (
	"net"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// TestStreamSessionCallAndReply drives both ends of a net.Pipe in tight
// busy-poll loops (net.Pipe is a synchronous, unbuffered rendezvous, so a
// single well-timed non-blocking attempt on each side isn't guaranteed to
// overlap; continuously retrying on both sides until the overall deadline
// is what makes the rendezvous deterministic here).
func TestStreamSessionCallAndReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewStreamSession(clientConn)
	server := NewStreamSession(serverConn)
	api := &echoApiSet{namespace: "gosling_identity"}

	cookie, err := client.ClientCall("gosling_identity", "begin_handshake", 1, bson.M{})
	if err != nil {
		t.Fatalf("ClientCall: %v", err)
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			server.Update(api)
		}
	}()
	defer close(stop)

	deadline := time.Now().Add(5 * time.Second)
	var resp Response
	var ok bool
	for time.Now().Before(deadline) {
		if err := client.Update(); err != nil {
			t.Fatalf("client.Update: %v", err)
		}
		resp, ok = client.ClientNextResponse()
		if ok {
			break
		}
	}
	if !ok {
		t.Fatal("timed out waiting for reply")
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
