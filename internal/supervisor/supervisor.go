package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/feed"
	"orderbook_go/internal/infra"
)

// Dialer opens a new feed transport.
type Dialer func(ctx context.Context) (feed.Transport, error)

// Supervisor keeps a feed connection alive and forwards decoded envelopes
// to the sink. Each Start runs one connection loop goroutine.
type Supervisor struct {
	dial    Dialer
	sink    domain.EnvelopeSink
	clock   Clock
	backoff Backoff
	metrics *infra.Metrics

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.RWMutex
	state    domain.ConnectionState
	onState  []func(domain.ConnectionState)
	onError  []func(error)
	lastErr  error
	attempts int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(s *Supervisor) { s.backoff = b.Normalized() }
}

// WithMetrics replaces the global metrics.
func WithMetrics(m *infra.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// New creates a stopped supervisor.
func New(dial Dialer, sink domain.EnvelopeSink, opts ...Option) *Supervisor {
	s := &Supervisor{
		dial:    dial,
		sink:    sink,
		clock:   RealClock{},
		backoff: DefaultBackoff(),
		metrics: infra.GlobalMetrics,
		state:   domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnStateChange registers a callback for every state transition.
func (s *Supervisor) OnStateChange(fn func(domain.ConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = append(s.onState, fn)
}

// OnError registers a callback for transport and dial errors.
func (s *Supervisor) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, fn)
}

// State returns the current connection state.
func (s *Supervisor) State() domain.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the most recent error reported, if any.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Attempts returns the consecutive reconnect attempts since the last open.
func (s *Supervisor) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Start connects unless already connecting or connected. A pending
// reconnect is cancelled and the attempt counter reset.
func (s *Supervisor) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State().Active() {
		return
	}
	s.stopLoop()

	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.connectionLoop(ctx)
}

// Stop cancels any pending reconnect, closes the transport and waits for
// the connection loop to exit. Close events of the old transport are not
// observed.
func (s *Supervisor) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLoop()
	s.setState(domain.StateDisconnected)
	slog.Info("Feed supervisor stopped")
}

func (s *Supervisor) stopLoop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

// connectionLoop handles connection and reconnection with exponential backoff
func (s *Supervisor) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed supervisor panic recovered", slog.Any("panic", r))
			s.setState(domain.StateDisconnected)
		}
	}()

	for {
		s.setState(domain.StateConnecting)

		opened := false
		t, err := s.dial(ctx)
		if ctx.Err() != nil {
			if err == nil {
				t.Close()
			}
			return
		}
		if err != nil {
			slog.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Int("attempt", s.Attempts()),
			)
			s.setState(domain.StateError)
			s.reportError(err)
			if !domain.IsRetriable(err) {
				s.setState(domain.StateDisconnected)
				return
			}
		} else {
			opened = s.runSession(ctx, t)
		}

		if ctx.Err() != nil {
			return
		}
		s.setState(domain.StateDisconnected)

		attempt := s.nextAttempt(opened)
		if s.backoff.Exhausted(attempt) {
			slog.Error("Feed reconnect stopped",
				slog.Any("error", domain.ErrReconnectExhausted),
				slog.Int("attempts", attempt-1),
			)
			s.reportError(domain.ErrReconnectExhausted)
			return
		}

		delay := s.backoff.CalculateBackoff(attempt)
		s.metrics.RecordReconnect(attempt)
		slog.Info("Feed reconnect scheduled",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}
	}
}

func (s *Supervisor) nextAttempt(opened bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opened {
		s.attempts = 0
	}
	s.attempts++
	return s.attempts
}

// runSession pumps transport events until the transport closes or ctx is
// cancelled. It reports whether the transport ever opened.
func (s *Supervisor) runSession(ctx context.Context, t feed.Transport) bool {
	defer t.Close()

	opened := false
	defer func() {
		if opened {
			s.metrics.DecrementConnections()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return opened
		case ev, ok := <-t.Events():
			if !ok || ctx.Err() != nil {
				return opened
			}
			switch ev.Type {
			case feed.EventOpened:
				if !opened {
					opened = true
					s.metrics.IncrementConnections()
				}
				s.mu.Lock()
				s.attempts = 0
				s.mu.Unlock()
				s.metrics.ResetReconnectAttempt()
				s.setState(domain.StateConnected)
			case feed.EventMessage:
				s.handleMessage(ev.Data)
			case feed.EventErrored:
				s.metrics.RecordTransportError()
				slog.Warn("Feed transport error", slog.Any("error", ev.Err))
				s.setState(domain.StateError)
				s.reportError(ev.Err)
				t.Close()
			case feed.EventClosed:
				slog.Info("Feed transport closed",
					slog.Int("code", ev.Code),
					slog.String("reason", ev.Reason),
				)
				return opened
			}
		}
	}
}

func (s *Supervisor) handleMessage(data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		s.metrics.RecordDecodeError()
		var de *domain.DecodeError
		stage := "unknown"
		if errors.As(err, &de) {
			stage = de.Stage
		}
		slog.Warn("Feed message dropped",
			slog.String("stage", stage),
			slog.Any("error", err),
		)
		return
	}
	s.sink.ApplyEnvelope(env)
}

func (s *Supervisor) reportError(err error) {
	s.mu.Lock()
	s.lastErr = err
	callbacks := append([]func(error){}, s.onError...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}

func (s *Supervisor) setState(state domain.ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	callbacks := append([]func(domain.ConnectionState){}, s.onState...)
	s.mu.Unlock()

	slog.Debug("Feed connection state", slog.String("state", string(state)))
	for _, fn := range callbacks {
		fn(state)
	}
}
