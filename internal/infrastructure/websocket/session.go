// Package websocket owns the one physical connection to the auction
// server: handshake, reconnection with backoff, and liveness status.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

type Options struct {
	URL   string
	Token string
	// ReconnectAttempts bounds the whole retry budget; exhausting it is
	// terminal and requires user-initiated re-entry.
	ReconnectAttempts int
	MinDelay          time.Duration
	MaxDelay          time.Duration
	HandshakeTimeout  time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.MinDelay == 0 {
		opts.MinDelay = time.Second
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return opts
}

// Hooks let the session owner react to lifecycle edges. All hooks are
// invoked without session locks held.
type Hooks struct {
	// OnMessage receives every decoded server frame, in delivery order.
	OnMessage func(msg *protocol.Message)
	// OnOpen fires after the session (re)opens and sends are possible.
	OnOpen func()
	// OnDrop fires when the connection is lost and a reconnect begins.
	OnDrop func()
	// OnClosed fires once when the session is down for good, either by
	// explicit disconnect or after the reconnect budget is spent.
	OnClosed func(terminal bool, err error)
}

// Session is the process-wide connection handle. One per authenticated
// user session; never duplicated per auction.
type Session struct {
	opts  Options
	hooks Hooks
	log   logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	status  domain.SessionStatus
	lastErr error
	stopped bool
	gen     int

	closedOnce sync.Once
}

func NewSession(opts Options, hooks Hooks, log logger.Logger) *Session {
	return &Session{
		opts:   opts.withDefaults(),
		hooks:  hooks,
		log:    log,
		status: domain.SessionConnecting,
	}
}

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect dials the server, retrying within the reconnect budget. On
// success the read loop runs until Disconnect or a terminal failure.
func (s *Session) Connect(ctx context.Context) error {
	s.setStatus(domain.SessionConnecting, nil)

	conn, err := s.dialWithRetry(ctx)
	if err != nil {
		s.setStatus(domain.SessionClosed, err)
		s.closeHook(true, err)
		return err
	}

	gen := s.adopt(conn)
	if s.hooks.OnOpen != nil {
		s.hooks.OnOpen()
	}
	go s.readLoop(conn, gen)
	return nil
}

// Disconnect tears the session down. The OnClosed hook runs synchronously
// so room memberships are cleared and pending bids rejected before return.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.status = domain.SessionClosed
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.closeHook(false, nil)
}

// Send encodes and writes one frame. Fails fast with ErrNotConnected
// unless the session is open.
func (s *Session) Send(kind protocol.Kind, payload interface{}) error {
	data, err := protocol.Encode(kind, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.SessionOpen || s.conn == nil {
		return domain.ErrNotConnected
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	// The token travels in the handshake header, never in the URL.
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, s.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (s *Session) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	delay := &backoff.Backoff{
		Min:    s.opts.MinDelay,
		Max:    s.opts.MaxDelay,
		Factor: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.ReconnectAttempts; attempt++ {
		if s.isStopped() {
			return nil, domain.ErrConnectionLost
		}

		conn, err := s.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		s.log.Warn("Connection attempt failed",
			"attempt", attempt, "max_attempts", s.opts.ReconnectAttempts, "error", err)

		if attempt == s.opts.ReconnectAttempts {
			break
		}
		select {
		case <-time.After(delay.Duration()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w (last error: %v)", domain.ErrSessionTerminal, lastErr)
}

func (s *Session) adopt(conn *websocket.Conn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.conn = conn
	s.status = domain.SessionOpen
	s.lastErr = nil
	return s.gen
}

func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleReadFailure(conn, gen)
			return
		}

		msg, decErr := protocol.DecodeServerMessage(raw)
		if decErr != nil {
			s.log.Warn("Dropping unrecognized frame", "error", decErr)
			continue
		}
		if s.hooks.OnMessage != nil {
			s.hooks.OnMessage(msg)
		}
	}
}

func (s *Session) handleReadFailure(conn *websocket.Conn, gen int) {
	conn.Close()

	s.mu.Lock()
	stale := s.stopped || gen != s.gen
	if !stale {
		s.status = domain.SessionDegraded
		s.conn = nil
	}
	s.mu.Unlock()
	if stale {
		return
	}

	s.log.Warn("Connection lost, reconnecting")
	if s.hooks.OnDrop != nil {
		s.hooks.OnDrop()
	}

	next, err := s.dialWithRetry(context.Background())
	if err != nil {
		s.setStatus(domain.SessionClosed, err)
		s.closeHook(true, err)
		return
	}

	nextGen := s.adopt(next)
	s.log.Info("Session reopened")
	if s.hooks.OnOpen != nil {
		s.hooks.OnOpen()
	}
	go s.readLoop(next, nextGen)
}

func (s *Session) setStatus(status domain.SessionStatus, err error) {
	s.mu.Lock()
	s.status = status
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}

func (s *Session) closeHook(terminal bool, err error) {
	s.closedOnce.Do(func() {
		if s.hooks.OnClosed != nil {
			s.hooks.OnClosed(terminal, err)
		}
	})
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
