// Package rpc describes the request/response RPC session external
// collaborator (spec §6): a non-blocking request/response layer the core
// drives one I/O attempt at a time. The wire format itself is assumed given;
// this package only defines the contract the FSMs consume plus the four
// gosling protocol message shapes.
package rpc

import "go.mongodb.org/mongo-driver/bson"

// RequestCookie identifies one outstanding RPC call.
type RequestCookie uint64

// ErrorCode enumerates the runtime error codes the protocol uses (spec §6).
type ErrorCode int

const (
	ErrBadVersion            ErrorCode = 1
	ErrRequestCookieRequired ErrorCode = 2
	ErrInvalidArg            ErrorCode = 3
	ErrFailure               ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrBadVersion:
		return "BadVersion"
	case ErrRequestCookieRequired:
		return "RequestCookieRequired"
	case ErrInvalidArg:
		return "InvalidArg"
	case ErrFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// Response is one reply surfaced by Session.ClientNextResponse. Absence of a
// ready Response (ok=false on the session method) stands in for the spec's
// explicit Pending variant: per spec §3 each FSM owns an exclusive session,
// so there is never more than one outstanding call to demultiplex and the
// FSM already knows which cookie it is waiting on.
type Response struct {
	Cookie RequestCookie
	Err    ErrorCode // zero value means success
	Result bson.RawValue
}

// Success reports whether this Response represents a successful reply.
func (r Response) Success() bool {
	return r.Err == 0
}

// Document unmarshals a successful Response's result as a document.
func (r Response) Document() (bson.M, error) {
	var m bson.M
	if err := r.Result.Unmarshal(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// AsString unmarshals a successful Response's result as a bare string, for
// gosling_identity.send_response/0's reply.
func (r Response) AsString() (string, error) {
	var s string
	if err := r.Result.Unmarshal(&s); err != nil {
		return "", err
	}
	return s, nil
}

// Session is the RPC session the core drives one I/O attempt per Context
// tick (spec §6, §9 "do not block the RPC runloop"). Implementations must
// never block.
type Session interface {
	// ClientCall issues an outbound RPC and returns the cookie that will tag
	// its eventual response.
	ClientCall(namespace, function string, version int, args bson.M) (RequestCookie, error)
	// ClientNextResponse returns the next arrived response, if any.
	ClientNextResponse() (Response, bool)
	// Update advances the session's send/receive state by one batch,
	// dispatching any inbound calls to the given ApiSets.
	Update(apiSets ...ApiSet) error
	// Close releases the session's underlying transport stream. A
	// partially-sent deferred reply may be discarded (spec §9).
	Close() error
}

// ExecResult is the outcome of ApiSet.ExecFunction / ApiSet.NextResult: an
// immediate success, an immediate error, or a deferred reply not yet ready.
type ExecResult struct {
	Deferred bool
	Err      ErrorCode
	Result   bson.RawValue
}

// Deferred is the sentinel ExecResult meaning "no reply yet; poll NextResult".
var Deferred = ExecResult{Deferred: true}

// SuccessDocument builds an immediate success ExecResult whose reply is a document.
func SuccessDocument(result bson.M) (ExecResult, error) {
	rv, err := newRawValue(result)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Result: rv}, nil
}

// SuccessString builds an immediate success ExecResult whose reply is a bare string.
func SuccessString(result string) (ExecResult, error) {
	rv, err := newRawValue(result)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Result: rv}, nil
}

// Failure builds an immediate error ExecResult.
func Failure(code ErrorCode) ExecResult {
	return ExecResult{Err: code}
}

func newRawValue(v interface{}) (bson.RawValue, error) {
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, err
	}
	return bson.RawValue{Type: t, Value: data}, nil
}

// ApiSet is a server-side handler for one RPC namespace (spec §6). FSMs
// implement ApiSet directly so the Context can register them with the
// session they own.
type ApiSet interface {
	Namespace() string
	// ExecFunction handles one inbound call. ok=false means the call was
	// accepted but the reply is deferred; the session will poll NextResult
	// for it on subsequent ticks.
	ExecFunction(name string, version int, args bson.M, cookie RequestCookie) (result ExecResult, ok bool)
	// NextResult returns a deferred reply that has become ready, if any.
	NextResult() (cookie RequestCookie, result ExecResult, ok bool)
}
