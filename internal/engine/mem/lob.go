package mem

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/corvusdb/corvus/internal/db"
)

// LobStore keeps lob content in memory, keyed by lob id. Every stream open
// is counted so callers can assert the read cache serves sequential
// continuations without reopening.
type LobStore struct {
	mu    sync.RWMutex
	lobs  map[int64][]byte
	opens atomic.Int64
}

func NewLobStore() *LobStore {
	return &LobStore{lobs: make(map[int64][]byte)}
}

func (s *LobStore) Put(lobID int64, content []byte) {
	s.mu.Lock()
	s.lobs[lobID] = content
	s.mu.Unlock()
}

func (s *LobStore) GetInputStream(lobID int64, _ []byte, _ int64) (io.ReadCloser, error) {
	s.mu.RLock()
	content, ok := s.lobs[lobID]
	s.mu.RUnlock()
	if !ok {
		return nil, db.NewError(db.ErrGeneral, "lob %d not found", lobID)
	}
	s.opens.Add(1)
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Opens reports how many streams were opened against the store.
func (s *LobStore) Opens() int64 { return s.opens.Load() }

var _ db.LobStorage = (*LobStore)(nil)
