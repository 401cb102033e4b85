// Package bus implements the cross-process message channel between the
// enforcement daemon, the overlay surface process, and the CLI. Messages are
// JSON lines over a unix domain socket, delivered best-effort at-most-once:
// a send that fails is logged and dropped, never retried.
package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names a message type on the bus.
type Kind string

const (
	// Daemon -> overlay surface.
	KindCountdown Kind = "countdown"
	KindDecision  Kind = "decision"
	KindHide      Kind = "hide"

	// Overlay surface / CLI -> daemon.
	KindExtend             Kind = "extend"
	KindClose              Kind = "close"
	KindChallengeOpen      Kind = "challenge_open"
	KindChallengeSolved    Kind = "challenge_solved"
	KindChallengeDismissed Kind = "challenge_dismissed"
	KindRecheck            Kind = "recheck"
)

// Message is one frame on the bus. Fields beyond Kind are populated
// per-kind; every enforcement signal carries the package identifier.
type Message struct {
	Kind               Kind   `json:"kind"`
	PackageID          string `json:"package,omitempty"`
	Label              string `json:"label,omitempty"`
	Remaining          int    `json:"remaining,omitempty"`
	Total              int    `json:"total,omitempty"`
	Minutes            int    `json:"minutes,omitempty"`
	Answer             int    `json:"answer,omitempty"`
	ChallengeOfferable bool   `json:"challenge_offerable,omitempty"`
	Question           string `json:"question,omitempty"`
}

// Handler consumes inbound messages.
type Handler func(Message)

// Server owns the unix socket the daemon listens on. Connected peers (the
// overlay surface) receive broadcast frames; anything they write back is fed
// to the handler.
type Server struct {
	socketPath string
	handler    Handler
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// NewServer creates a bus server; Serve must be called to start it.
func NewServer(socketPath string, logger *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
	}
}

// SetHandler installs the inbound message handler. Must be called before
// Serve.
func (s *Server) SetHandler(handler Handler) {
	s.handler = handler
}

// Serve listens on the socket until the context is cancelled. A stale socket
// file from a previous run is removed first.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		listener.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("bus accept failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.readLoop(conn)
	}
}

// readLoop decodes frames from one peer until it disconnects.
func (s *Server) readLoop(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn("dropping malformed bus frame", zap.Error(err))
			continue
		}
		if s.handler != nil {
			s.handler(msg)
		}
	}
}

// Broadcast sends a frame to every connected peer. Failed peers are dropped;
// there is no retry and no delivery guarantee.
func (s *Server) Broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to encode bus frame", zap.Error(err))
		return
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := conn.Write(payload); err != nil {
			s.logger.Warn("dropping unreachable bus peer", zap.Error(err))
			delete(s.conns, conn)
			conn.Close()
		}
	}
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Client is one peer connection to the daemon's bus socket.
type Client struct {
	conn net.Conn

	mu sync.Mutex
}

// Dial connects to the daemon's socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon at %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one frame. Best-effort: the caller decides whether a failure
// matters.
func (c *Client) Send(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = c.conn.Write(payload)
	return err
}

// Listen consumes inbound frames until the connection drops or the context
// is cancelled. Used by the overlay surface to receive render frames.
func (c *Client) Listen(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		handler(msg)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}

// Close drops the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
