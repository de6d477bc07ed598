package cnet

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/corvusdb/corvus/internal/cnet/proto"
	"github.com/corvusdb/corvus/internal/db"
	"github.com/stretchr/testify/require"
)

// fakeConn is a net.Conn that records everything written to it.
type fakeConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *fakeConn) Read(_ []byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr{} }
func (c *fakeConn) SetDeadline(_ time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(_ time.Time) error { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

// frames splits everything written so far into whole wire frames, length
// prefix included.
func (c *fakeConn) frames(t *testing.T) [][]byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	data := c.buf.Bytes()
	var out [][]byte
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 4)
		n := int(binary.BigEndian.Uint32(data))
		require.GreaterOrEqual(t, len(data), 4+n)
		frame := make([]byte, 4+n)
		copy(frame, data[:4+n])
		out = append(out, frame)
		data = data[4+n:]
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildRequest produces one request frame for the given opcode.
func buildRequest(t *testing.T, op int32, body func(tr *Transfer)) []byte {
	t.Helper()
	sink := &fakeConn{}
	tr := NewTransfer(sink, 0, nil)
	tr.WriteRequestHeader(op)
	if body != nil {
		body(tr)
	}
	require.NoError(t, tr.Flush())
	return append([]byte(nil), sink.buf.Bytes()...)
}

// frameReader positions a read-only codec after the length prefix of frame.
func frameReader(t *testing.T, frame []byte) *Transfer {
	t.Helper()
	tr := NewTransfer(nil, 0, nil)
	tr.SetBuffer(frame)
	_, err := tr.ReadInt() // packetLength
	require.NoError(t, err)
	return tr
}

// readResponse asserts frame is a response and returns its opcode plus the
// codec positioned at the status word.
func readResponse(t *testing.T, frame []byte) (int32, *Transfer) {
	t.Helper()
	tr := frameReader(t, frame)
	opDir, err := tr.ReadInt()
	require.NoError(t, err)
	require.False(t, proto.IsRequest(opDir), "expected a response frame")
	return proto.Opcode(opDir), tr
}

func newServerConn(factory db.SessionFactory) (*Conn, *fakeConn) {
	sink := &fakeConn{}
	c := NewConn(sink, factory, nil, Options{}, testLogger())
	return c, sink
}

func initFrame(t *testing.T, minVersion, maxVersion int32) []byte {
	t.Helper()
	return buildRequest(t, proto.OP_SESSION_INIT, func(tr *Transfer) {
		tr.WriteInt(minVersion)
		tr.WriteInt(maxVersion)
		tr.WriteString("t")
		tr.WriteString("corvus:t")
		tr.WriteString("sa")
		tr.WriteBytes(nil)
		tr.WriteBytes(nil)
		tr.WriteBytes(nil)
		tr.WriteInt(0)
	})
}

// doInit drives the handshake and clears the response buffer.
func doInit(t *testing.T, c *Conn, sink *fakeConn) {
	t.Helper()
	c.Handle(initFrame(t, proto.TCP_PROTOCOL_VERSION_1, proto.TCP_PROTOCOL_VERSION_1))
	frames := sink.frames(t)
	require.Len(t, frames, 1)
	op, tr := readResponse(t, frames[0])
	require.Equal(t, proto.OP_SESSION_INIT, op)
	status, err := tr.ReadInt()
	require.NoError(t, err)
	require.Equal(t, proto.STATUS_OK, status)
	version, err := tr.ReadInt()
	require.NoError(t, err)
	require.Equal(t, proto.TCP_PROTOCOL_VERSION_1, version)
	sink.reset()
}

// readErrorPayload parses the error fields following a STATUS_ERROR word.
func readErrorPayload(t *testing.T, tr *Transfer) *db.Error {
	t.Helper()
	sqlState, err := tr.ReadString()
	require.NoError(t, err)
	message, err := tr.ReadString()
	require.NoError(t, err)
	sql, err := tr.ReadString()
	require.NoError(t, err)
	code, err := tr.ReadInt()
	require.NoError(t, err)
	trace, err := tr.ReadString()
	require.NoError(t, err)
	return &db.Error{Code: code, SQLState: sqlState, Message: message, SQL: sql, Trace: trace}
}
