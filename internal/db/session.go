package db

import "io"

// SessionFactory creates logical sessions from connection parameters. The
// SQL/storage engine provides the implementation.
type SessionFactory interface {
	CreateSession(ci *ConnectionInfo) (Session, error)
}

// Session is one logical database session. A connection owns a primary
// session plus one session per client connection id.
type Session interface {
	PrepareStatement(sql string, fetchSize int) (PreparedStatement, error)
	GetStorageMap(name string) (StorageMap, error)
	GetLobStorage() LobStorage
	GetTransaction() Transaction

	SetAutoCommit(autoCommit bool)
	IsAutoCommit() bool
	SetRoot(root bool)
	SetLocal(local bool)
	SetReplicationName(name string)

	// GetModificationID returns a monotonic counter bumped by every
	// state-affecting operation. The dispatcher snapshots it per request to
	// decide between STATUS_OK and STATUS_OK_STATE_CHANGED.
	GetModificationID() int64

	IsClosed() bool
	Close() error

	Commit(local bool, allLocalTransactionNames string) error
	Rollback() error
	AddSavepoint(name string) error
	RollbackToSavepoint(name string) error
	ValidateTransaction(localTransactionName string) (bool, error)
}

// Transaction is the distributed transaction handle of a session.
type Transaction interface {
	LocalTransactionNames() string
	AddLocalTransactionNames(names string)
}

// PreparedStatement is a parsed statement bound to a session.
type PreparedStatement interface {
	IsQuery() bool
	Query(maxRows int, scrollable bool) (Result, error)
	Update() (int32, error)
	GetMetaData() (Result, error)
	GetParameters() []CommandParameter
	SetFetchSize(fetchSize int)
	SetConnectionID(id int32)
	Cancel()
	Close() error
}

// CommandParameter is one bindable parameter of a prepared statement.
type CommandParameter interface {
	SetValue(v Value) error
	Type() int32
	Precision() int64
	Scale() int32
	Nullable() int32
}

// Result is a query result set or statement metadata.
type Result interface {
	VisibleColumnCount() int
	RowCount() int

	// Next advances to the next row. The bool reports whether a row is
	// available; a non-nil error means fetching failed mid-stream.
	Next() (bool, error)
	CurrentRow() []Value

	Alias(i int) string
	SchemaName(i int) string
	TableName(i int) string
	ColumnName(i int) string
	ColumnType(i int) int32
	ColumnPrecision(i int) int64
	ColumnScale(i int) int32
	DisplaySize(i int) int32
	AutoIncrement(i int) bool
	Nullable(i int) int32

	Reset()
	Close() error
}

// DataType encodes and decodes storage map keys and values.
type DataType interface {
	Read(buf []byte) (any, error)
	Write(v any) ([]byte, error)
}

// StorageMap is a named ordered map on the storage engine.
type StorageMap interface {
	Name() string
	KeyType() DataType
	ValueType() DataType
	Get(key any) (any, error)
	Put(key, value any) (any, error)
}

// Replication is the optional capability of a storage map that accepts
// leaf-page mutations from a replication peer.
type Replication interface {
	AddLeafPage(splitKey, page []byte) error
	RemoveLeafPage(key []byte) error
}

// LobStorage opens streams over stored large objects.
type LobStorage interface {
	GetInputStream(lobID int64, hmac []byte, byteCount int64) (io.ReadCloser, error)
}
