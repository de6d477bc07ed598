package db

import (
	"github.com/shopspring/decimal"
)

// Value type tags. One byte on the wire, followed by a tag-specific body.
const (
	TagNull byte = iota
	TagBoolean
	TagInt
	TagLong
	TagDouble
	TagDecimal
	TagString
	TagBytes
	TagArray
	TagBlob
	TagClob
)

// Value is a typed SQL value as it travels through the wire codec.
type Value interface {
	Tag() byte
}

type ValueNull struct{}

type ValueBoolean bool

type ValueInt int32

type ValueLong int64

type ValueDouble float64

type ValueDecimal struct {
	D decimal.Decimal
}

type ValueString string

type ValueBytes []byte

type ValueArray []Value

// ValueLob references a large object by id. No bytes travel inline; the
// peer streams the content through READ_LOB using the id and the HMAC the
// server issued for it.
type ValueLob struct {
	Kind      byte // TagBlob or TagClob
	Length    int64
	LobID     int64
	HMAC      []byte
	Precision int64
}

func (ValueNull) Tag() byte    { return TagNull }
func (ValueBoolean) Tag() byte { return TagBoolean }
func (ValueInt) Tag() byte     { return TagInt }
func (ValueLong) Tag() byte    { return TagLong }
func (ValueDouble) Tag() byte  { return TagDouble }
func (ValueDecimal) Tag() byte { return TagDecimal }
func (ValueString) Tag() byte  { return TagString }
func (ValueBytes) Tag() byte   { return TagBytes }
func (ValueArray) Tag() byte   { return TagArray }

func (v ValueLob) Tag() byte { return v.Kind }
