package kernel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxMessageSize bounds a single request line. Extension requests carry a
// whole artifact, so the limit is generous.
const MaxMessageSize = 16 << 20

// Server accepts client connections on a unix socket and feeds their
// requests into the task queue.
type Server struct {
	socketPath string
	queue      *Queue
	log        *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
	ready chan struct{}
}

// NewServer creates a server for exec listening on socketPath.
func NewServer(socketPath string, exec Executor, audit AuditLogger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		queue:      NewQueue(exec, audit, log.Named("queue")),
		log:        log,
		conns:      make(map[net.Conn]struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the socket is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve listens until ctx is cancelled. A stale socket file left by a
// previous kernel is removed first.
func (s *Server) Serve(ctx context.Context) error {
	if err := removeStaleSocket(s.socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.log.Info("kernel listening", zap.String("socket", s.socketPath))
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.queue.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		s.closeConns()
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	err = g.Wait()
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	s.log.Info("kernel stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn serves newline-delimited requests until the client closes the
// connection. Task errors are returned as responses; only I/O failures end
// the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()[:8]
	log := s.log.With(zap.String("conn", connID))
	log.Debug("client connected")
	defer func() {
		_ = conn.Close()
		log.Debug("client disconnected")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var reply []byte
		req, err := DecodeRequest(line)
		if err != nil {
			log.Warn("malformed request", zap.Error(err))
			reply = EncodeResponse(nil, err)
		} else {
			value, err := s.queue.Submit(ctx, connID, req)
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			reply = EncodeResponse(value, err)
		}

		if _, err := conn.Write(reply); err != nil {
			log.Debug("response undeliverable", zap.Error(err))
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("connection read failed", zap.Error(err))
		if errors.Is(err, bufio.ErrTooLong) {
			_, _ = conn.Write(EncodeResponse(nil, Errorf(CodeMalformedRequest, "request exceeds %d bytes", MaxMessageSize)))
		}
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// removeStaleSocket deletes a socket file nobody is listening on. A live
// socket means another kernel owns the path.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return fmt.Errorf("another kernel is already listening on %s", path)
	}
	return os.Remove(path)
}
