package cnet

import (
	"sync"

	"github.com/corvusdb/corvus/internal/db"
	"github.com/panjf2000/ants/v2"
)

// PreparedCommand is one deferred unit of database work: a statement bound
// to its session plus the action that executes it and writes the response
// frame. Exactly one execution attempt; failures are converted to wire
// errors by the worker.
type PreparedCommand struct {
	op      int32
	stmt    db.PreparedStatement
	session db.Session
	run     func() error
}

func NewPreparedCommand(op int32, stmt db.PreparedStatement, session db.Session, run func() error) *PreparedCommand {
	return &PreparedCommand{op: op, stmt: stmt, session: session, run: run}
}

func (c *PreparedCommand) Run() error {
	return c.run()
}

// commandQueue is the per-connection FIFO of deferred commands. The reactor
// enqueues, workers drain.
type commandQueue struct {
	mu    sync.Mutex
	items []*PreparedCommand
}

func (q *commandQueue) push(c *PreparedCommand) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

func (q *commandQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *commandQueue) pop() *PreparedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	c := q.items[0]
	q.items = q.items[1:]
	return c
}

// CommandHandler executes deferred commands on a shared goroutine pool.
// Commands of one connection run single-flight: a connection is scheduled at
// most once at a time and the scheduled task drains that connection's queue
// in FIFO order, so response order per connection equals dispatch order
// without cross-connection locks.
type CommandHandler struct {
	pool *ants.Pool
}

func NewCommandHandler(size int) (*CommandHandler, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &CommandHandler{pool: pool}, nil
}

// schedule submits a drain task for the connection unless one is already
// queued or running.
func (h *CommandHandler) schedule(c *Conn) {
	if !c.scheduled.CompareAndSwap(false, true) {
		return
	}
	if err := h.pool.Submit(func() { drain(c) }); err != nil {
		// pool closed; run inline so the reply is still produced
		drain(c)
	}
}

// drain runs the connection's queue to exhaustion. A command pushed between
// the empty check and clearing the flag must not be stranded, hence the
// re-acquire loop.
func drain(c *Conn) {
	for {
		for {
			cmd := c.cmdQueue.pop()
			if cmd == nil {
				break
			}
			c.runCommand(cmd)
		}
		c.scheduled.Store(false)
		if c.cmdQueue.empty() {
			return
		}
		if !c.scheduled.CompareAndSwap(false, true) {
			return
		}
	}
}

func (h *CommandHandler) Release() {
	h.pool.Release()
}
