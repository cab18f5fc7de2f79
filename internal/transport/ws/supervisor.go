package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"beatbattle-controller/internal/domain"
)

// RetryConfig bounds automatic reconnection.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// StateFunc observes connection state changes with an optional diagnostic.
type StateFunc func(state domain.ConnectionState, diagnostic string)

// Supervisor wraps a Client with bounded-attempt exponential backoff.
// Transport errors surface as reconnecting until the retry budget is
// exhausted, then as failed; Retry is always available and resets the budget.
// At most one reconnect timer and one live connection exist at a time.
type Supervisor struct {
	client *Client
	cfg    RetryConfig
	log    zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	attempts int
	state    domain.ConnectionState
	lastErr  string
	timer    *time.Timer
	closed   bool

	onState StateFunc
}

// NewSupervisor wires the supervisor to the client's disconnect hook.
func NewSupervisor(client *Client, cfg RetryConfig, log zerolog.Logger) *Supervisor {
	s := &Supervisor{
		client: client,
		cfg:    cfg.withDefaults(),
		log:    log,
		ctx:    context.Background(),
		state:  domain.ConnDisconnected,
	}
	client.OnDisconnect(s.handleDisconnect)
	return s
}

// OnStateChange registers the state observer. Set it before Start. The
// callback runs outside the supervisor's lock.
func (s *Supervisor) OnStateChange(fn StateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// Start performs the initial connect. A failure counts against the retry
// budget like any transport error.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.ctx = ctx
	s.mu.Unlock()

	s.setState(domain.ConnConnecting, "")
	if err := s.client.Open(ctx); err != nil {
		s.scheduleRetry(err)
		return
	}
	s.markConnected()
}

// State returns the current connection state.
func (s *Supervisor) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the diagnostic from the most recent transport failure.
func (s *Supervisor) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Retry is the manual affordance after the budget is exhausted (but works in
// any state). It resets the attempt counter and redials, closing any prior
// connection first.
func (s *Supervisor) Retry() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.attempts = 0
	ctx := s.ctx
	s.mu.Unlock()

	s.client.Disconnect()
	s.setState(domain.ConnConnecting, "")
	if err := s.client.Open(ctx); err != nil {
		s.scheduleRetry(err)
		return
	}
	s.markConnected()
}

// Close stops retrying and tears down the client.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.client.Close()
}

func (s *Supervisor) handleDisconnect(err error) {
	s.scheduleRetry(err)
}

func (s *Supervisor) scheduleRetry(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	if attempt >= s.cfg.MaxAttempts {
		s.mu.Unlock()
		s.log.Warn().Err(cause).Int("attempts", attempt).Msg("retry budget exhausted")
		s.setState(domain.ConnFailed, cause.Error())
		return
	}
	delay := s.backoff(attempt)
	// A newer retry always invalidates the previous timer.
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.attemptReconnect)
	s.mu.Unlock()

	s.log.Info().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
	s.setState(domain.ConnReconnecting, cause.Error())
}

func (s *Supervisor) attemptReconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	// The prior connection must be fully gone before a new one opens.
	s.client.Disconnect()
	if err := s.client.Open(ctx); err != nil {
		s.scheduleRetry(err)
		return
	}
	s.markConnected()
}

func (s *Supervisor) markConnected() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.setState(domain.ConnConnected, "")
}

func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.cfg.BaseDelay << (attempt - 1)
	if d > s.cfg.MaxDelay || d <= 0 {
		return s.cfg.MaxDelay
	}
	return d
}

func (s *Supervisor) setState(state domain.ConnectionState, diagnostic string) {
	s.mu.Lock()
	if s.closed && state != domain.ConnDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.lastErr = diagnostic
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(state, diagnostic)
	}
}
