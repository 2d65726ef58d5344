package gosling

import (
	"fmt"

	"github.com/pcwizz/gosling-go/handshake"
	"github.com/pcwizz/gosling-go/rpc"
)

// The error taxonomy of spec §7. Each is a distinct type so callers can
// discriminate with errors.As without string matching.

// InvalidStateError: an FSM input or internal RPC dispatch occurred in a
// state disallowing it. Fatal to that handshake.
type InvalidStateError struct {
	Handle HandshakeHandle
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("gosling: invalid state for handle %d: %s", e.Handle, e.Reason)
}

// IncorrectUsageError: a caller invoked a submission entry point out of
// sequence, or against the wrong handle. Fatal to that handshake; the
// Context is unaffected.
type IncorrectUsageError struct {
	Handle HandshakeHandle
	Err    error
}

func (e *IncorrectUsageError) Error() string {
	return fmt.Sprintf("gosling: incorrect usage for handle %d: %v", e.Handle, e.Err)
}

func (e *IncorrectUsageError) Unwrap() error { return e.Err }

// RpcRemoteError: the remote peer answered an RPC with a runtime error code.
// Fatal to that handshake.
type RpcRemoteError struct {
	Handle HandshakeHandle
	Code   rpc.ErrorCode
}

func (e *RpcRemoteError) Error() string {
	return fmt.Sprintf("gosling: handle %d: remote rpc error %s", e.Handle, e.Code)
}

// RpcTransportError: the RPC layer reported an I/O or framing failure. Fatal
// to that handshake.
type RpcTransportError struct {
	Handle HandshakeHandle
	Err    error
}

func (e *RpcTransportError) Error() string {
	return fmt.Sprintf("gosling: handle %d: rpc transport failure: %v", e.Handle, e.Err)
}

func (e *RpcTransportError) Unwrap() error { return e.Err }

// BadArgumentError: wrong bson shape, wrong binary length, non-ASCII string
// where ASCII is required, or version mismatch. Fatal to that handshake.
type BadArgumentError struct {
	Handle HandshakeHandle
	Err    error
}

func (e *BadArgumentError) Error() string {
	return fmt.Sprintf("gosling: handle %d: bad argument: %v", e.Handle, e.Err)
}

func (e *BadArgumentError) Unwrap() error { return e.Err }

// NotBootstrappedError: client/server operation attempted before bootstrap
// completed. Non-fatal to the Context.
type NotBootstrappedError struct{}

func (e *NotBootstrappedError) Error() string {
	return "gosling: operation attempted before bootstrap completed"
}

// UnknownHandleError: submission or abort against a missing handle.
// Non-fatal to the Context.
type UnknownHandleError struct {
	Handle HandshakeHandle
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("gosling: unknown handle %d", e.Handle)
}

// translateFailure maps an FSM-internal error (from the handshake package)
// into the §7 taxonomy, attaching the handle that failed.
func translateFailure(handle HandshakeHandle, err error) error {
	switch e := err.(type) {
	case *handshake.RpcRemoteError:
		return &RpcRemoteError{Handle: handle, Code: e.Code}
	}
	switch {
	case isErr(err, handshake.ErrRpcTransport):
		return &RpcTransportError{Handle: handle, Err: err}
	case isErr(err, handshake.ErrBadArgument):
		return &BadArgumentError{Handle: handle, Err: err}
	case isErr(err, handshake.ErrIncorrectUsage):
		return &IncorrectUsageError{Handle: handle, Err: err}
	case isErr(err, handshake.ErrInvalidState):
		return &InvalidStateError{Handle: handle, Reason: err.Error()}
	default:
		return &InvalidStateError{Handle: handle, Reason: err.Error()}
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
