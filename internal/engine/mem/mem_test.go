package mem

import (
	"io"
	"testing"

	"github.com/corvusdb/corvus/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryCreateSession(t *testing.T) {
	f := NewFactory()
	s, err := f.CreateSession(db.NewConnectionInfo("corvus:t", "t"))
	require.NoError(t, err)
	assert.True(t, s.IsAutoCommit())
	assert.False(t, s.IsClosed())

	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	_, err = s.PrepareStatement("ROLLBACK", -1)
	assert.Error(t, err)
}

func TestDefaultStatements(t *testing.T) {
	f := NewFactory()
	s, err := f.CreateSession(nil)
	require.NoError(t, err)
	sess := s.(*Session)

	stmt, err := sess.PrepareStatement("ROLLBACK", -1)
	require.NoError(t, err)
	count, err := stmt.Update()
	require.NoError(t, err)
	assert.Equal(t, int32(0), count)

	old := sess.GetModificationID()
	stmt, err = sess.PrepareStatement("SET CACHE_SIZE 1024", -1)
	require.NoError(t, err)
	_, err = stmt.Update()
	require.NoError(t, err)
	assert.Greater(t, sess.GetModificationID(), old)

	_, err = sess.PrepareStatement("SELECT * FROM T", -1)
	require.Error(t, err)
	assert.Equal(t, int32(db.ErrFeatureNotSupported), db.ConvertError(err).Code)
}

func TestMapPutGet(t *testing.T) {
	f := NewFactory()
	s, err := f.CreateSession(nil)
	require.NoError(t, err)

	m, err := s.GetStorageMap("m1")
	require.NoError(t, err)

	old, err := m.Put([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	assert.Nil(t, old)

	old, err = m.Put([]byte("k"), []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), old)

	got, err := m.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	got, err = m.Get([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, got)

	// the same named map is shared across sessions
	s2, err := f.CreateSession(nil)
	require.NoError(t, err)
	m2, err := s2.GetStorageMap("m1")
	require.NoError(t, err)
	got, err = m2.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestLobStore(t *testing.T) {
	store := NewLobStore()
	store.Put(1, []byte("content"))

	in, err := store.GetInputStream(1, nil, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
	assert.Equal(t, int64(1), store.Opens())

	_, err = store.GetInputStream(2, nil, -1)
	assert.Error(t, err)
}

func TestTransactionNames(t *testing.T) {
	tx := &Transaction{}
	assert.Equal(t, "", tx.LocalTransactionNames())

	tx.AddLocalTransactionNames("a,b")
	tx.AddLocalTransactionNames("c")
	assert.Equal(t, "a,b,c", tx.LocalTransactionNames())
	assert.True(t, tx.contains("b"))
	assert.False(t, tx.contains("d"))
}

func TestSavepoints(t *testing.T) {
	f := NewFactory()
	s, err := f.CreateSession(nil)
	require.NoError(t, err)

	require.NoError(t, s.AddSavepoint("sp1"))
	require.NoError(t, s.AddSavepoint("sp2"))
	require.NoError(t, s.RollbackToSavepoint("sp1"))
	assert.Error(t, s.RollbackToSavepoint("sp2"))
}
