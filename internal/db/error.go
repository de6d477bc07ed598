package db

import (
	"errors"
	"fmt"
)

// Error codes carried on the wire. Values follow the H2 lineage the protocol
// descends from, so drivers can keep their existing mappings.
const (
	ErrGeneral             = 50000
	ErrFeatureNotSupported = 50100
	ErrObjectClosed        = 90007
	ErrDriverVersion       = 90047
	ErrConnectionBroken    = 90067
	ErrHmacInvalid         = 90143
)

// Error is the SQLException-shaped record the wire error packet carries.
type Error struct {
	Code     int32
	SQLState string
	Message  string
	SQL      string
	Trace    string
}

func (e *Error) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("%s; SQL statement: %s [%d-%s]", e.Message, e.SQL, e.Code, e.SQLState)
	}
	return fmt.Sprintf("%s [%d-%s]", e.Message, e.Code, e.SQLState)
}

// NewError builds a domain error with the conventional five-digit SQL state
// derived from the code.
func NewError(code int32, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		SQLState: fmt.Sprintf("%05d", code),
		Message:  fmt.Sprintf(format, args...),
	}
}

// ConvertError coerces an arbitrary error into an *Error so it can be framed.
// Errors that already are (or wrap) an *Error pass through unchanged.
func ConvertError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return NewError(ErrGeneral, "%s", err.Error())
}
