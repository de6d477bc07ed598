package cnet

import (
	"io"

	"github.com/corvusdb/corvus/internal/db"
	lru "github.com/hashicorp/golang-lru/v2"
)

// smallMap is the per-connection object cache: a bounded map from the
// client-assigned integer id to a server-side object (statement, result,
// lob stream). When the size limit is exceeded the oldest entry that is not
// the one just added is dropped. Only touched from the dispatcher/worker
// sequence of one connection.
type smallMap struct {
	m     map[int32]any
	order []int32
	cap   int
}

func newSmallMap(capacity int) *smallMap {
	return &smallMap{
		m:   make(map[int32]any),
		cap: capacity,
	}
}

func (c *smallMap) addObject(id int32, obj any) {
	if _, ok := c.m[id]; !ok {
		c.order = append(c.order, id)
	}
	c.m[id] = obj
	for len(c.m) > c.cap && len(c.order) > 1 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if oldest == id {
			c.order = append(c.order, oldest)
			continue
		}
		delete(c.m, oldest)
	}
}

// getObject looks an object up. With ifAvailable set a miss returns nil;
// otherwise a miss means the peer referenced a closed or evicted object.
func (c *smallMap) getObject(id int32, ifAvailable bool) (any, error) {
	obj, ok := c.m[id]
	if !ok {
		if ifAvailable {
			return nil, nil
		}
		return nil, db.NewError(db.ErrObjectClosed, "object %d is closed", id)
	}
	return obj, nil
}

func (c *smallMap) freeObject(id int32) {
	if _, ok := c.m[id]; !ok {
		return
	}
	delete(c.m, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// cachedInputStream is a lob stream with a position. The invariant is that
// pos equals the total bytes returned from this stream, so sequential
// READ_LOB continuations can be served without reopening the storage.
type cachedInputStream struct {
	in  io.ReadCloser
	pos int64
}

func newCachedInputStream(in io.ReadCloser) *cachedInputStream {
	if in == nil {
		return &cachedInputStream{pos: -1}
	}
	return &cachedInputStream{in: in}
}

func (c *cachedInputStream) Read(p []byte) (int, error) {
	if c.in == nil {
		return 0, io.EOF
	}
	n, err := c.in.Read(p)
	if n > 0 {
		c.pos += int64(n)
	}
	return n, err
}

func (c *cachedInputStream) skip(n int64) error {
	if c.in == nil {
		return io.EOF
	}
	written, err := io.CopyN(io.Discard, c.in, n)
	c.pos += written
	return err
}

func (c *cachedInputStream) Close() error {
	if c.in == nil {
		return nil
	}
	return c.in.Close()
}

// newLobCache builds the per-connection LRU of open lob streams. Eviction
// closes the underlying stream so the cache lifetime bounds the stream
// lifetime.
func newLobCache(size int) (*lru.Cache[int64, *cachedInputStream], error) {
	return lru.NewWithEvict(size, func(_ int64, in *cachedInputStream) {
		_ = in.Close()
	})
}
