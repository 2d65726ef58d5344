package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

func bsontypeFromByte(b byte) bsontype.Type {
	return bsontype.Type(b)
}

// wireFrame is the one envelope type that crosses a StreamSession's
// underlying stream. A BSON document is self-length-prefixed (its first four
// bytes are its own little-endian length), so one marshaled wireFrame is
// already a complete, delimited wire message with no additional framing
// needed — this is not a new wire format, just the envelope the protocol's
// own chosen document encoding already provides for free.
type wireFrame struct {
	Kind       int32  `bson:"kind"`
	Cookie     uint64 `bson:"cookie"`
	Namespace  string `bson:"namespace,omitempty"`
	Function   string `bson:"function,omitempty"`
	Version    int32  `bson:"version,omitempty"`
	Args       bson.M `bson:"args,omitempty"`
	ErrorCode  int32  `bson:"error_code,omitempty"`
	ResultType byte   `bson:"result_type,omitempty"`
	ResultData []byte `bson:"result_data,omitempty"`
}

const (
	wireFrameCall     int32 = 0
	wireFrameResponse int32 = 1
)

// deadlineSetter is implemented by net.Conn and any other stream that
// supports bounding a read attempt with a read deadline.
type deadlineSetter interface {
	SetReadDeadline(time.Time) error
}

// StreamSession is the rpc.Session implementation used once a real
// transport.Transport hands back a connected byte stream: it frames calls
// and responses as individual BSON documents over the stream (§6's "wire
// format of the RPC substrate is assumed given" — this is the minimal
// concrete framing needed to exercise that substrate, not a pluggable
// protocol of its own).
type StreamSession struct {
	conn       io.ReadWriteCloser
	nextCookie RequestCookie
	readBuf    []byte
	pending    []Response
	closed     bool
	connErr    error
}

var _ Session = (*StreamSession)(nil)

// NewStreamSession wraps a connected stream as an rpc.Session.
func NewStreamSession(conn io.ReadWriteCloser) *StreamSession {
	return &StreamSession{conn: conn}
}

func (s *StreamSession) ClientCall(namespace, function string, version int, args bson.M) (RequestCookie, error) {
	if s.closed {
		return 0, fmt.Errorf("rpc: session closed")
	}
	s.nextCookie++
	cookie := s.nextCookie
	f := wireFrame{
		Kind:      wireFrameCall,
		Cookie:    uint64(cookie),
		Namespace: namespace,
		Function:  function,
		Version:   int32(version),
		Args:      args,
	}
	if err := s.writeFrame(f); err != nil {
		return 0, fmt.Errorf("rpc: write call: %w", err)
	}
	return cookie, nil
}

func (s *StreamSession) ClientNextResponse() (Response, bool) {
	if len(s.pending) == 0 {
		return Response{}, false
	}
	r := s.pending[0]
	s.pending = s.pending[1:]
	return r, true
}

// Update performs one non-blocking read attempt, parses any complete frames
// now available, dispatches inbound calls to apiSets, and flushes any
// deferred replies they report ready.
func (s *StreamSession) Update(apiSets ...ApiSet) error {
	if s.closed {
		return fmt.Errorf("rpc: session closed")
	}
	if err := s.pollRead(); err != nil {
		s.connErr = err
	}

	for {
		frame, ok, err := s.takeFrame()
		if err != nil {
			return fmt.Errorf("rpc: decode frame: %w", err)
		}
		if !ok {
			break
		}
		switch frame.Kind {
		case wireFrameResponse:
			s.pending = append(s.pending, Response{
				Cookie: RequestCookie(frame.Cookie),
				Err:    ErrorCode(frame.ErrorCode),
				Result: bson.RawValue{Type: bsontypeFromByte(frame.ResultType), Value: frame.ResultData},
			})
		case wireFrameCall:
			s.dispatchCall(frame, apiSets)
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
	return s.connErr
}

func (s *StreamSession) dispatchCall(frame wireFrame, apiSets []ApiSet) {
	for _, as := range apiSets {
		if as.Namespace() != frame.Namespace {
			continue
		}
		res, ok := as.ExecFunction(frame.Function, int(frame.Version), frame.Args, RequestCookie(frame.Cookie))
		if ok {
			s.sendResponse(RequestCookie(frame.Cookie), res)
		}
		return
	}
	s.sendResponse(RequestCookie(frame.Cookie), Failure(ErrInvalidArg))
}

func (s *StreamSession) sendResponse(cookie RequestCookie, res ExecResult) {
	f := wireFrame{
		Kind:       wireFrameResponse,
		Cookie:     uint64(cookie),
		ErrorCode:  int32(res.Err),
		ResultType: byte(res.Result.Type),
		ResultData: res.Result.Value,
	}
	if err := s.writeFrame(f); err != nil {
		s.connErr = fmt.Errorf("rpc: write response: %w", err)
	}
}

func (s *StreamSession) Close() error {
	s.closed = true
	return s.conn.Close()
}

func (s *StreamSession) writeFrame(f wireFrame) error {
	data, err := bson.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

// pollRead performs a single bounded read: if the underlying stream supports
// read deadlines (as net.Conn does), a deadline one millisecond ahead turns a
// would-block into a timeout error rather than blocking the runloop, while
// data already waiting (or arriving within that window) is still read.
func (s *StreamSession) pollRead() error {
	if ds, ok := s.conn.(deadlineSetter); ok {
		if err := ds.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		defer ds.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, 4096)
	n, err := s.conn.Read(buf)
	if n > 0 {
		s.readBuf = append(s.readBuf, buf[:n]...)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}

// takeFrame extracts one complete BSON document from the front of readBuf,
// if one has fully arrived.
func (s *StreamSession) takeFrame() (wireFrame, bool, error) {
	if len(s.readBuf) < 4 {
		return wireFrame{}, false, nil
	}
	length := int(binary.LittleEndian.Uint32(s.readBuf[:4]))
	if length < 4 || len(s.readBuf) < length {
		return wireFrame{}, false, nil
	}
	raw := s.readBuf[:length]
	s.readBuf = s.readBuf[length:]

	var f wireFrame
	if err := bson.Unmarshal(raw, &f); err != nil {
		return wireFrame{}, false, err
	}
	return f, true, nil
}
