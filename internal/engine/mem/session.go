package mem

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/corvusdb/corvus/internal/db"
)

type Session struct {
	factory *Factory

	mu              sync.Mutex
	autoCommit      bool
	root            bool
	local           bool
	replicationName string

	mod    modCounter
	closed atomic.Bool

	tx *Transaction
}

func (s *Session) PrepareStatement(sql string, fetchSize int) (db.PreparedStatement, error) {
	if s.closed.Load() {
		return nil, db.NewError(db.ErrObjectClosed, "session is closed")
	}
	return s.factory.stmtFn(s, sql, fetchSize)
}

func (s *Session) GetStorageMap(name string) (db.StorageMap, error) {
	return s.factory.GetMap(name), nil
}

func (s *Session) GetLobStorage() db.LobStorage { return s.factory.lobs }

func (s *Session) GetTransaction() db.Transaction { return s.tx }

func (s *Session) SetAutoCommit(autoCommit bool) {
	s.mu.Lock()
	s.autoCommit = autoCommit
	s.mu.Unlock()
}

func (s *Session) IsAutoCommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoCommit
}

func (s *Session) SetRoot(root bool) {
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

func (s *Session) SetLocal(local bool) {
	s.mu.Lock()
	s.local = local
	s.mu.Unlock()
}

func (s *Session) SetReplicationName(name string) {
	s.mu.Lock()
	s.replicationName = name
	s.mu.Unlock()
}

func (s *Session) ReplicationName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicationName
}

func (s *Session) GetModificationID() int64 { return s.mod.get() }

// BumpModificationID marks a state-affecting operation.
func (s *Session) BumpModificationID() { s.mod.bump() }

func (s *Session) IsClosed() bool { return s.closed.Load() }

func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Session) Commit(_ bool, allLocalTransactionNames string) error {
	if allLocalTransactionNames != "" {
		s.tx.AddLocalTransactionNames(allLocalTransactionNames)
	}
	return nil
}

func (s *Session) Rollback() error { return nil }

func (s *Session) AddSavepoint(name string) error {
	s.tx.addSavepoint(name)
	return nil
}

func (s *Session) RollbackToSavepoint(name string) error {
	return s.tx.rollbackToSavepoint(name)
}

func (s *Session) ValidateTransaction(localTransactionName string) (bool, error) {
	return s.tx.contains(localTransactionName), nil
}

var _ db.Session = (*Session)(nil)

// Transaction tracks the local transaction names of a distributed branch.
type Transaction struct {
	mu         sync.Mutex
	names      []string
	savepoints []string
}

func (t *Transaction) LocalTransactionNames() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.names, ",")
}

func (t *Transaction) AddLocalTransactionNames(names string) {
	if names == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range strings.Split(names, ",") {
		if n != "" {
			t.names = append(t.names, n)
		}
	}
}

func (t *Transaction) contains(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.names {
		if n == name {
			return true
		}
	}
	return false
}

func (t *Transaction) addSavepoint(name string) {
	t.mu.Lock()
	t.savepoints = append(t.savepoints, name)
	t.mu.Unlock()
}

func (t *Transaction) rollbackToSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i] == name {
			t.savepoints = t.savepoints[:i]
			return nil
		}
	}
	return db.NewError(db.ErrGeneral, "savepoint not found: %s", name)
}

var _ db.Transaction = (*Transaction)(nil)
