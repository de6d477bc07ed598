package mem

import (
	"sync/atomic"

	"github.com/corvusdb/corvus/internal/db"
)

// Statement is a configurable prepared statement. Statement handlers build
// one with the behavior the statement should have; everything not configured
// fails with a not-supported error.
type Statement struct {
	isQuery  bool
	queryFn  func(maxRows int) (db.Result, error)
	updateFn func() (int32, error)
	metaFn   func() (db.Result, error)
	params   []db.CommandParameter

	fetchSize    int
	connectionID int32
	cancelled    atomic.Bool
	closed       atomic.Bool
}

type StatementOption func(*Statement)

func WithQuery(fn func(maxRows int) (db.Result, error)) StatementOption {
	return func(st *Statement) {
		st.isQuery = true
		st.queryFn = fn
	}
}

func WithUpdate(fn func() (int32, error)) StatementOption {
	return func(st *Statement) { st.updateFn = fn }
}

func WithMetaData(fn func() (db.Result, error)) StatementOption {
	return func(st *Statement) { st.metaFn = fn }
}

func WithParameters(params ...db.CommandParameter) StatementOption {
	return func(st *Statement) { st.params = params }
}

func NewStatement(opts ...StatementOption) *Statement {
	st := &Statement{}
	for _, o := range opts {
		o(st)
	}
	return st
}

func (st *Statement) IsQuery() bool { return st.isQuery }

func (st *Statement) Query(maxRows int, _ bool) (db.Result, error) {
	if st.queryFn == nil {
		return nil, db.NewError(db.ErrFeatureNotSupported, "not a query")
	}
	return st.queryFn(maxRows)
}

func (st *Statement) Update() (int32, error) {
	if st.updateFn == nil {
		return 0, db.NewError(db.ErrFeatureNotSupported, "not an update")
	}
	return st.updateFn()
}

func (st *Statement) GetMetaData() (db.Result, error) {
	if st.metaFn == nil {
		return nil, db.NewError(db.ErrFeatureNotSupported, "no metadata")
	}
	return st.metaFn()
}

func (st *Statement) GetParameters() []db.CommandParameter { return st.params }

func (st *Statement) SetFetchSize(fetchSize int) { st.fetchSize = fetchSize }

func (st *Statement) SetConnectionID(id int32) { st.connectionID = id }

func (st *Statement) Cancel() { st.cancelled.Store(true) }

func (st *Statement) Cancelled() bool { return st.cancelled.Load() }

func (st *Statement) Close() error {
	st.closed.Store(true)
	return nil
}

func (st *Statement) Closed() bool { return st.closed.Load() }

var _ db.PreparedStatement = (*Statement)(nil)

// Parameter is a settable statement parameter with fixed metadata.
type Parameter struct {
	TypeTag      int32
	PrecisionVal int64
	ScaleVal     int32
	NullableVal  int32

	Value db.Value
}

func (p *Parameter) SetValue(v db.Value) error {
	p.Value = v
	return nil
}

func (p *Parameter) Type() int32      { return p.TypeTag }
func (p *Parameter) Precision() int64 { return p.PrecisionVal }
func (p *Parameter) Scale() int32     { return p.ScaleVal }
func (p *Parameter) Nullable() int32  { return p.NullableVal }

var _ db.CommandParameter = (*Parameter)(nil)
