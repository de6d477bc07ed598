package mem

import (
	"sync/atomic"

	"github.com/corvusdb/corvus/internal/db"
)

// Column is the metadata of one result column.
type Column struct {
	Alias         string
	Schema        string
	Table         string
	Name          string
	Type          int32
	Precision     int64
	Scale         int32
	DisplaySize   int32
	AutoIncrement bool
	Nullable      int32
}

// Rows is an in-memory result set.
type Rows struct {
	Columns []Column
	Data    [][]db.Value

	// NextErrAt makes Next fail with NextErr when it reaches the given row
	// index; -1 (set by NewRows) or a nil NextErr disables it.
	NextErrAt int
	NextErr   error

	pos    int
	closed atomic.Bool
}

func NewRows(cols []Column, data [][]db.Value) *Rows {
	return &Rows{Columns: cols, Data: data, NextErrAt: -1}
}

func (r *Rows) VisibleColumnCount() int { return len(r.Columns) }

func (r *Rows) RowCount() int { return len(r.Data) }

func (r *Rows) Next() (bool, error) {
	if r.NextErr != nil && r.pos == r.NextErrAt {
		return false, r.NextErr
	}
	if r.pos >= len(r.Data) {
		return false, nil
	}
	r.pos++
	return true, nil
}

func (r *Rows) CurrentRow() []db.Value { return r.Data[r.pos-1] }

func (r *Rows) Alias(i int) string          { return r.Columns[i].Alias }
func (r *Rows) SchemaName(i int) string     { return r.Columns[i].Schema }
func (r *Rows) TableName(i int) string      { return r.Columns[i].Table }
func (r *Rows) ColumnName(i int) string     { return r.Columns[i].Name }
func (r *Rows) ColumnType(i int) int32      { return r.Columns[i].Type }
func (r *Rows) ColumnPrecision(i int) int64 { return r.Columns[i].Precision }
func (r *Rows) ColumnScale(i int) int32     { return r.Columns[i].Scale }
func (r *Rows) DisplaySize(i int) int32     { return r.Columns[i].DisplaySize }
func (r *Rows) AutoIncrement(i int) bool    { return r.Columns[i].AutoIncrement }
func (r *Rows) Nullable(i int) int32        { return r.Columns[i].Nullable }

func (r *Rows) Reset() { r.pos = 0 }

func (r *Rows) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *Rows) Closed() bool { return r.closed.Load() }

var _ db.Result = (*Rows)(nil)
