package cnet

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/corvusdb/corvus/internal/db"
)

type ServerConfig struct {
	Addr            string
	WriteDeadline   time.Duration
	ShutdownTimeout time.Duration
	TLS             *tls.Config
	Conn            Options
	CommandHandlers int
}

// Server accepts TCP connections and runs one Conn read loop per socket.
// Database work is shared across the command handler pool.
type Server struct {
	conf    ServerConfig
	factory db.SessionFactory
	handler *CommandHandler

	ready chan struct{}

	l *slog.Logger
}

func NewServer(conf ServerConfig, factory db.SessionFactory, l *slog.Logger) (*Server, error) {
	size := conf.CommandHandlers
	if size <= 0 {
		size = 16
	}
	handler, err := NewCommandHandler(size)
	if err != nil {
		return nil, fmt.Errorf("create command handler pool: %w", err)
	}
	return &Server{
		conf:    conf,
		factory: factory,
		handler: handler,
		ready:   make(chan struct{}),
		l:       l,
	}, nil
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	var ln net.Listener
	var err error
	if s.conf.TLS != nil {
		ln, err = tls.Listen("tcp", s.conf.Addr, s.conf.TLS)
	} else {
		ln, err = net.Listen("tcp", s.conf.Addr)
	}
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}

	connWg := &sync.WaitGroup{}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	defer func() {
		timeout := s.conf.ShutdownTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		done := make(chan struct{})
		go func() {
			connWg.Wait()
			close(done)
		}()
		select {
		case <-time.After(timeout):
			s.l.Error("closing listener after timeout")
		case <-done:
			s.l.Info("closing listener after all connections done")
		}
		s.handler.Release()
		s.l.Info("corvus server stopped")
	}()

	close(s.ready)
	s.l.Info("corvus server started", "addr", ln.Addr())

	for {
		sock, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.l.Error("accept conn", "err", err)
			continue
		}

		opts := s.conf.Conn
		opts.WriteDeadline = s.conf.WriteDeadline
		c := NewConn(sock, s.factory, s.handler, opts, s.l)

		connWg.Add(1)
		go func() {
			defer connWg.Done()
			c.ReadLoop()
		}()
	}
}

// ReadyForConnections blocks until the listener is up, or the timeout.
func (s *Server) ReadyForConnections(timeout time.Duration) bool {
	select {
	case <-time.After(timeout):
		return false
	case <-s.ready:
		return true
	}
}
