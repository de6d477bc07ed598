package mem

import (
	"sync"
	"sync/atomic"

	"github.com/corvusdb/corvus/internal/db"
)

// BytesType is the pass-through codec for byte-slice keys and values.
type BytesType struct{}

func (BytesType) Read(buf []byte) (any, error) {
	if len(buf) == 0 {
		return []byte(nil), nil
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (BytesType) Write(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, db.NewError(db.ErrGeneral, "unexpected value type %T", v)
	}
	return b, nil
}

var _ db.DataType = BytesType{}

// Map is an in-memory storage map with byte keys and values. It also carries
// the replication capability: leaf-page mutations are recorded so peers can
// verify they were applied.
type Map struct {
	name      string
	keyType   db.DataType
	valueType db.DataType

	mu   sync.RWMutex
	data map[string][]byte

	leafPagesAdded   atomic.Int64
	leafPagesRemoved atomic.Int64
}

func NewMap(name string) *Map {
	return &Map{
		name:      name,
		keyType:   BytesType{},
		valueType: BytesType{},
		data:      make(map[string][]byte),
	}
}

func (m *Map) Name() string { return m.name }

func (m *Map) KeyType() db.DataType { return m.keyType }

func (m *Map) ValueType() db.DataType { return m.valueType }

func (m *Map) Get(key any) (any, error) {
	k, ok := key.([]byte)
	if !ok {
		return nil, db.NewError(db.ErrGeneral, "unexpected key type %T", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, found := m.data[string(k)]
	if !found {
		return nil, nil
	}
	return v, nil
}

func (m *Map) Put(key, value any) (any, error) {
	k, ok := key.([]byte)
	if !ok {
		return nil, db.NewError(db.ErrGeneral, "unexpected key type %T", key)
	}
	v, ok := value.([]byte)
	if !ok {
		return nil, db.NewError(db.ErrGeneral, "unexpected value type %T", value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, found := m.data[string(k)]
	m.data[string(k)] = v
	if !found {
		return nil, nil
	}
	return old, nil
}

func (m *Map) AddLeafPage(_, _ []byte) error {
	m.leafPagesAdded.Add(1)
	return nil
}

func (m *Map) RemoveLeafPage(_ []byte) error {
	m.leafPagesRemoved.Add(1)
	return nil
}

// LeafPagesAdded reports how many leaf pages replication peers pushed.
func (m *Map) LeafPagesAdded() int64 { return m.leafPagesAdded.Load() }

// LeafPagesRemoved reports how many leaf pages replication peers removed.
func (m *Map) LeafPagesRemoved() int64 { return m.leafPagesRemoved.Load() }

var (
	_ db.StorageMap  = (*Map)(nil)
	_ db.Replication = (*Map)(nil)
)
