package cnet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvusdb/corvus/internal/cnet/proto"
	"github.com/corvusdb/corvus/internal/db"
	"github.com/corvusdb/corvus/internal/observability"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

const readBufferSize = 8192

// Options are the per-connection tuning knobs.
type Options struct {
	CachedObjects      int
	ResultSetFetchSize int
	IOBufferSize       int
	MaxPacketSize      int
	WriteDeadline      time.Duration
	BaseDir            string
	IfExists           bool
}

func (o *Options) setDefaults() {
	if o.CachedObjects == 0 {
		o.CachedObjects = 64
	}
	if o.ResultSetFetchSize == 0 {
		o.ResultSetFetchSize = 100
	}
	if o.IOBufferSize == 0 {
		o.IOBufferSize = 4096
	}
	if o.MaxPacketSize == 0 {
		o.MaxPacketSize = 16 * 1024 * 1024
	}
}

// Conn multiplexes logical database sessions over one socket. The same type
// services both roles: a server dispatches request frames against the
// engine, a client correlates response frames to registered callbacks.
//
// The read loop, reassembler and dispatcher run on one goroutine per
// connection; database work is deferred to the shared command handler pool.
// The write side of the codec is guarded by writeMu.
type Conn struct {
	tr   *Transfer
	sock net.Conn
	in   *inbound

	cache *smallMap
	lobs  *lru.Cache[int64, *cachedInputStream] // lazy; most connections never touch lobs

	sessions  *xsync.MapOf[int32, db.Session]
	callbacks *xsync.MapOf[int32, AsyncCallback]

	factory db.SessionFactory
	opts    Options

	session       db.Session
	ci            *db.ConnectionInfo
	sessionID     string
	clientVersion int32
	autoCommit    bool

	stop      atomic.Bool
	currentOp int32

	ready     chan struct{}
	readyOnce sync.Once

	cmdQueue  *commandQueue
	handler   *CommandHandler
	scheduled atomic.Bool

	writeMu sync.Mutex

	l *slog.Logger
}

func newConn(sock net.Conn, factory db.SessionFactory, handler *CommandHandler, opts Options, l *slog.Logger) *Conn {
	opts.setDefaults()
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	observability.ConnOpened()
	return &Conn{
		tr:         NewTransfer(sock, opts.WriteDeadline, key),
		sock:       sock,
		in:         newInbound(opts.MaxPacketSize),
		cache:      newSmallMap(opts.CachedObjects),
		sessions:   xsync.NewMapOf[int32, db.Session](),
		callbacks:  xsync.NewMapOf[int32, AsyncCallback](),
		factory:    factory,
		opts:       opts,
		autoCommit: true,
		cmdQueue:   &commandQueue{},
		handler:    handler,
		l:          l,
	}
}

// NewConn builds a server-side connection around an accepted socket.
func NewConn(sock net.Conn, factory db.SessionFactory, handler *CommandHandler, opts Options, l *slog.Logger) *Conn {
	return newConn(sock, factory, handler, opts, l)
}

// NewClientConn builds a client-side connection. Ready is fulfilled when the
// SESSION_SET_ID round trip completes.
func NewClientConn(sock net.Conn, sessionID string, opts Options, l *slog.Logger) *Conn {
	c := newConn(sock, nil, nil, opts, l)
	c.sessionID = sessionID
	c.ready = make(chan struct{})
	return c
}

func (c *Conn) Transfer() *Transfer { return c.tr }

// Ready reports client-side readiness; nil on server connections.
func (c *Conn) Ready() <-chan struct{} { return c.ready }

func (c *Conn) IsAutoCommit() bool { return c.autoCommit }

func (c *Conn) Stopped() bool { return c.stop.Load() }

// AddAsyncCallback registers a response handler under a request id.
func (c *Conn) AddAsyncCallback(id int32, ac AsyncCallback) {
	c.callbacks.Store(id, ac)
}

// runCallback fulfills and removes the callback registered under id.
func (c *Conn) runCallback(id int32) error {
	ac, ok := c.callbacks.LoadAndDelete(id)
	if !ok {
		return db.NewError(db.ErrGeneral, "no pending callback for request %d", id)
	}
	return ac.Run(c.tr)
}

// ReadLoop pumps the socket into the reassembler until the connection stops.
func (c *Conn) ReadLoop() {
	defer c.Close()
	buf := make([]byte, readBufferSize)
	for !c.stop.Load() {
		n, err := c.sock.Read(buf)
		if n > 0 {
			c.Handle(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.stop.Load() {
				c.l.Error("read socket", "err", err)
			}
			return
		}
	}
}

// Handle feeds one raw chunk through the reassembler and dispatches every
// whole packet it completed, in wire order.
func (c *Conn) Handle(chunk []byte) {
	if err := c.in.feed(chunk); err != nil {
		c.sendError(proto.OP_ERROR, err)
		c.stop.Store(true)
		return
	}
	c.parsePackets()
}

func (c *Conn) parsePackets() {
	for !c.stop.Load() {
		p, ok := c.in.next()
		if !ok {
			return
		}
		observability.PacketIn()
		c.tr.SetBuffer(p)
		if _, err := c.tr.ReadInt(); err != nil { // packetLength
			c.sendError(proto.OP_ERROR, err)
			continue
		}
		c.currentOp = proto.OP_ERROR
		if err := c.process(); err != nil {
			c.sendError(c.currentOp, err)
		}
	}
}

// ExecuteOneCommand drains one deferred command from this connection's
// queue, if any. Used by embedders that run their own worker loop.
func (c *Conn) ExecuteOneCommand() {
	cmd := c.cmdQueue.pop()
	if cmd == nil {
		return
	}
	c.runCommand(cmd)
}

func (c *Conn) runCommand(cmd *PreparedCommand) {
	start := time.Now()
	if observability.TracingEnabled() {
		_, span := observability.Tracer().Start(context.Background(), "cnet.command")
		defer span.End()
	}
	if err := cmd.Run(); err != nil {
		c.sendError(cmd.op, err)
	}
	observability.CommandDone(time.Since(start))
}

func (c *Conn) enqueue(cmd *PreparedCommand) {
	c.cmdQueue.push(cmd)
	if c.handler != nil {
		c.handler.schedule(c)
		return
	}
	// no shared pool wired; execute in place
	c.ExecuteOneCommand()
}

// withWrite runs fn holding the connection's write side. On failure any
// partially built frame is discarded so the next writer starts clean.
func (c *Conn) withWrite(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := fn(); err != nil {
		c.tr.Reset()
		return err
	}
	return nil
}

// sendError packs err into a wire error frame, replacing any partial
// response bytes. A failure to write the error frame stops the connection.
func (c *Conn) sendError(op int32, err error) {
	observability.ErrorSent()
	e := db.ConvertError(err)
	trace := e.Trace
	if trace == "" {
		trace = fmt.Sprintf("%+v", err)
	}
	werr := c.withWrite(func() error {
		c.tr.Reset()
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(proto.STATUS_ERROR).WriteString(e.SQLState).WriteString(e.Message)
		if e.SQL == "" {
			c.tr.WriteNullString()
		} else {
			c.tr.WriteString(e.SQL)
		}
		c.tr.WriteInt(e.Code).WriteString(trace)
		return c.tr.Flush()
	})
	if werr != nil {
		c.stop.Store(true)
	}
}

func (c *Conn) createSession() (db.Session, error) {
	session, err := c.factory.CreateSession(c.ci)
	if err != nil {
		return nil, err
	}
	if v, ok := c.ci.Property("IS_LOCAL"); ok {
		session.SetLocal(strings.EqualFold(v, "true"))
	}
	return session, nil
}

// getOrCreateSession resolves the logical session of a client connection id,
// creating it on first use. On a race the loser closes its session and
// adopts the winner.
func (c *Conn) getOrCreateSession(connectionID int32) (db.Session, error) {
	if s, ok := c.sessions.Load(connectionID); ok {
		return s, nil
	}
	ns, err := c.createSession()
	if err != nil {
		return nil, err
	}
	actual, loaded := c.sessions.LoadOrStore(connectionID, ns)
	if loaded && actual != ns {
		_ = ns.Close()
		return actual, nil
	}
	return ns, nil
}

// closeSession rolls the primary session back best-effort and closes it.
// The first error seen is retained; resources are released regardless.
func (c *Conn) closeSession() error {
	if c.session == nil {
		return nil
	}
	var first error
	if stmt, err := c.session.PrepareStatement("ROLLBACK", -1); err == nil {
		if _, err := stmt.Update(); err != nil {
			first = err
		}
	} else {
		first = err
	}
	if err := c.session.Close(); err != nil && first == nil {
		first = err
	}
	c.session = nil
	return first
}

// Close tears the connection down: primary and logical sessions, cached lob
// streams, then the socket.
func (c *Conn) Close() {
	if c.stop.Swap(true) {
		// already closing; still make sure the socket goes
		_ = c.sock.Close()
		return
	}
	if err := c.closeSession(); err != nil {
		c.l.Error("close session", "err", err)
	}
	c.sessions.Range(func(id int32, s db.Session) bool {
		if err := s.Close(); err != nil {
			c.l.Error("close session", "connection_id", id, "err", err)
		}
		c.sessions.Delete(id)
		return true
	})
	if c.lobs != nil {
		c.lobs.Purge()
	}
	_ = c.sock.Close()
	observability.ConnClosed()
}

// CancelStatement cancels a running statement on this connection if the
// session id matches.
func (c *Conn) CancelStatement(targetSessionID string, statementID int32) {
	if targetSessionID != c.sessionID {
		return
	}
	obj, err := c.cache.getObject(statementID, true)
	if err != nil || obj == nil {
		return
	}
	if stmt, ok := obj.(db.PreparedStatement); ok {
		stmt.Cancel()
	}
}

// status compares the session's modification id against the snapshot taken
// at request entry.
func (c *Conn) status(s db.Session, old int64) int32 {
	if s.IsClosed() {
		return proto.STATUS_CLOSED
	}
	if s.GetModificationID() == old {
		return proto.STATUS_OK
	}
	return proto.STATUS_OK_STATE_CHANGED
}

func (c *Conn) writeParameterMetaData(p db.CommandParameter) {
	c.tr.WriteInt(p.Type())
	c.tr.WriteLong(p.Precision())
	c.tr.WriteInt(p.Scale())
	c.tr.WriteInt(p.Nullable())
}

func (c *Conn) writeColumn(result db.Result, i int) {
	c.tr.WriteString(result.Alias(i))
	c.tr.WriteString(result.SchemaName(i))
	c.tr.WriteString(result.TableName(i))
	c.tr.WriteString(result.ColumnName(i))
	c.tr.WriteInt(result.ColumnType(i))
	c.tr.WriteLong(result.ColumnPrecision(i))
	c.tr.WriteInt(result.ColumnScale(i))
	c.tr.WriteInt(result.DisplaySize(i))
	c.tr.WriteBool(result.AutoIncrement(i))
	c.tr.WriteInt(result.Nullable(i))
}

// writeRow writes up to count rows: true plus the visible column values per
// row, false on exhaustion. If fetching the next row fails the terminator is
// still written so the result frame stays self-terminating; the caller
// flushes it and lets an error frame follow.
func (c *Conn) writeRow(result db.Result, count int) error {
	visible := result.VisibleColumnCount()
	for i := 0; i < count; i++ {
		ok, err := result.Next()
		if err != nil {
			c.tr.WriteBool(false)
			return err
		}
		if !ok {
			c.tr.WriteBool(false)
			break
		}
		c.tr.WriteBool(true)
		row := result.CurrentRow()
		for j := 0; j < visible; j++ {
			if werr := c.tr.WriteValue(row[j]); werr != nil {
				return werr
			}
		}
	}
	return nil
}

func (c *Conn) setParameters(stmt db.PreparedStatement) error {
	n, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	params := stmt.GetParameters()
	if int(n) > len(params) {
		return db.NewError(db.ErrGeneral, "too many parameters: %d > %d", n, len(params))
	}
	for i := 0; i < int(n); i++ {
		v, err := c.tr.ReadValue()
		if err != nil {
			return err
		}
		if err := params[i].SetValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) writeStatusOnly(op int32, session db.Session, old int64) error {
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(c.status(session, old))
		return c.tr.Flush()
	})
}

func (c *Conn) writeOK(op int32) error {
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(proto.STATUS_OK)
		return c.tr.Flush()
	})
}

func (c *Conn) writeBatchResult(op int32, session db.Session, results []int32, old int64) error {
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(c.status(session, old))
		for _, r := range results {
			c.tr.WriteInt(r)
		}
		return c.tr.Flush()
	})
}
