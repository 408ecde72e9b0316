package command

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"firestige.xyz/netcap/internal/log"
)

// SocketServer serves command sessions over a Unix domain socket. Each
// connection is one session: lines are read until the peer closes its
// write side, and the output is written back on the same connection.
type SocketServer struct {
	path       string
	dispatcher *Dispatcher
	onQuit     func()
	logger     log.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

// NewSocketServer creates a server. onQuit, when set, is called after a
// session runs the quit command.
func NewSocketServer(path string, d *Dispatcher, onQuit func()) *SocketServer {
	return &SocketServer{
		path:       path,
		dispatcher: d,
		onQuit:     onQuit,
		logger:     log.GetLogger().WithField("component", "control-socket"),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start listens on the socket and accepts sessions in the background.
func (s *SocketServer) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.listener = listener
	s.logger.WithField("socket", s.path).Info("control socket listening")

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *SocketServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.logger.WithError(err).Warn("failed to accept connection")
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

func (s *SocketServer) serve(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	quit, err := s.dispatcher.Run(ctx, conn, conn)
	if err != nil {
		s.logger.WithError(err).Debug("control session ended")
	}
	if quit && s.onQuit != nil {
		s.onQuit()
	}
}

// Stop closes the listener and all sessions and removes the socket file.
func (s *SocketServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.RemoveAll(s.path)
	return nil
}

// Send runs command lines in a session on the socket at path and copies
// the session output to out.
func Send(ctx context.Context, path string, lines []string, out io.Writer, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var dialer net.Dialer
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dialer.DialContext(dctx, "unix", path)
	if err != nil {
		return fmt.Errorf("failed to connect to socket %s: %w", path, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, strings.Join(lines, "\n")+"\n"); err != nil {
		return fmt.Errorf("failed to send commands: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return fmt.Errorf("failed to close write side: %w", err)
		}
	}
	if _, err := io.Copy(out, conn); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}
