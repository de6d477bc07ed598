package cnet

import (
	"bytes"
	"io"
	"sync/atomic"
	"testing"

	"github.com/corvusdb/corvus/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmallMap(t *testing.T) {
	m := newSmallMap(4)
	m.addObject(1, "a")
	m.addObject(2, "b")

	obj, err := m.getObject(1, false)
	require.NoError(t, err)
	assert.Equal(t, "a", obj)

	obj, err = m.getObject(3, true)
	require.NoError(t, err)
	assert.Nil(t, obj)

	_, err = m.getObject(3, false)
	require.Error(t, err)
	assert.Equal(t, int32(db.ErrObjectClosed), db.ConvertError(err).Code)

	m.freeObject(1)
	_, err = m.getObject(1, false)
	assert.Error(t, err)
}

func TestSmallMapEviction(t *testing.T) {
	m := newSmallMap(2)
	m.addObject(1, "a")
	m.addObject(2, "b")
	m.addObject(3, "c")

	// oldest entry dropped, newest kept
	_, err := m.getObject(1, false)
	assert.Error(t, err)
	obj, err := m.getObject(3, false)
	require.NoError(t, err)
	assert.Equal(t, "c", obj)
}

func TestSmallMapReAdd(t *testing.T) {
	m := newSmallMap(4)
	m.addObject(1, "a")
	m.addObject(1, "a2")
	obj, err := m.getObject(1, false)
	require.NoError(t, err)
	assert.Equal(t, "a2", obj)
}

type closeRecorder struct {
	io.Reader
	closed atomic.Bool
}

func (c *closeRecorder) Close() error {
	c.closed.Store(true)
	return nil
}

func TestCachedInputStreamPosition(t *testing.T) {
	src := &closeRecorder{Reader: bytes.NewReader([]byte("0123456789"))}
	in := newCachedInputStream(src)

	buf := make([]byte, 4)
	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4), in.pos)

	require.NoError(t, in.skip(3))
	assert.Equal(t, int64(7), in.pos)

	n, err = in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "789", string(buf[:n]))
	assert.Equal(t, int64(10), in.pos)
}

func TestLobCacheEvictionClosesStream(t *testing.T) {
	cache, err := newLobCache(2)
	require.NoError(t, err)

	streams := make([]*closeRecorder, 3)
	for i := range streams {
		streams[i] = &closeRecorder{Reader: bytes.NewReader(nil)}
		cache.Add(int64(i), newCachedInputStream(streams[i]))
	}

	assert.True(t, streams[0].closed.Load())
	assert.False(t, streams[1].closed.Load())
	assert.False(t, streams[2].closed.Load())

	cache.Purge()
	assert.True(t, streams[1].closed.Load())
	assert.True(t, streams[2].closed.Load())
}
