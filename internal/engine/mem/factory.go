// Package mem is a minimal in-process engine behind the db collaborator
// interfaces: named byte-keyed storage maps, an in-memory lob store and a
// pluggable statement handler. It backs the standalone daemon and the
// protocol tests; it is not a SQL engine.
package mem

import (
	"strings"
	"sync/atomic"

	"github.com/corvusdb/corvus/internal/db"
	"github.com/puzpuzpuz/xsync/v3"
)

// StatementFunc prepares a statement for a session. The default handler
// understands only the control statements the network layer itself issues;
// embedders plug in the real parser.
type StatementFunc func(s *Session, sql string, fetchSize int) (db.PreparedStatement, error)

type Factory struct {
	maps   *xsync.MapOf[string, *Map]
	lobs   *LobStore
	stmtFn StatementFunc
}

type Option func(*Factory)

// WithStatementFunc replaces the statement handler.
func WithStatementFunc(fn StatementFunc) Option {
	return func(f *Factory) { f.stmtFn = fn }
}

func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		maps: xsync.NewMapOf[string, *Map](),
		lobs: NewLobStore(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.stmtFn == nil {
		f.stmtFn = defaultStatements
	}
	return f
}

func (f *Factory) CreateSession(_ *db.ConnectionInfo) (db.Session, error) {
	return &Session{
		factory:    f,
		autoCommit: true,
		root:       true,
		tx:         &Transaction{},
	}, nil
}

// Lobs exposes the engine's lob store so embedders can register content.
func (f *Factory) Lobs() *LobStore { return f.lobs }

// GetMap returns the named storage map, creating it on first use.
func (f *Factory) GetMap(name string) *Map {
	m, _ := f.maps.LoadOrCompute(name, func() *Map {
		return NewMap(name)
	})
	return m
}

// defaultStatements covers the statements the connection layer itself
// needs: ROLLBACK on teardown and simple SET commands.
func defaultStatements(s *Session, sql string, _ int) (db.PreparedStatement, error) {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case upper == "ROLLBACK":
		return NewStatement(WithUpdate(func() (int32, error) { return 0, nil })), nil
	case strings.HasPrefix(upper, "SET "):
		return NewStatement(WithUpdate(func() (int32, error) {
			s.BumpModificationID()
			return 0, nil
		})), nil
	default:
		return nil, db.NewError(db.ErrFeatureNotSupported, "statement not supported: %s", sql)
	}
}

var _ db.SessionFactory = (*Factory)(nil)

// modCounter is a session-scoped modification counter.
type modCounter struct {
	v atomic.Int64
}

func (c *modCounter) get() int64  { return c.v.Load() }
func (c *modCounter) bump() int64 { return c.v.Add(1) }
