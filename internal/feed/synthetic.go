package feed

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"orderbook_go/internal/domain"
)

const (
	DefaultOpenDelay = 500 * time.Millisecond
	DefaultInterval  = 3 * time.Second
	DefaultJitter    = 2 * time.Second
)

// SyntheticConfig tunes the synthetic feed.
type SyntheticConfig struct {
	OpenDelay time.Duration
	Interval  time.Duration
	Jitter    time.Duration
}

func (c SyntheticConfig) withDefaults() SyntheticConfig {
	if c.OpenDelay <= 0 {
		c.OpenDelay = DefaultOpenDelay
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Synthetic is an in-process Transport that emits generated envelopes.
type Synthetic struct {
	cfg    SyntheticConfig
	gen    *Generator
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewSynthetic starts a synthetic transport. It opens after cfg.OpenDelay,
// emits one NEW_ORDER, then one generated envelope per interval.
func NewSynthetic(cfg SyntheticConfig, gen *Generator) *Synthetic {
	if gen == nil {
		gen = NewGenerator(0, 0, 0, nil)
	}
	s := &Synthetic{
		cfg:    cfg.withDefaults(),
		gen:    gen,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Events returns the event stream.
func (s *Synthetic) Events() <-chan Event {
	return s.events
}

// Send is accepted and ignored.
func (s *Synthetic) Send(data []byte) error {
	select {
	case <-s.done:
		return domain.ErrTransportClosed
	default:
		return nil
	}
}

// Close stops the interval. The transport emits Closed and closes Events.
func (s *Synthetic) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Synthetic) run() {
	defer close(s.events)
	defer func() {
		select {
		case s.events <- Event{Type: EventClosed, Code: CloseNormal, Reason: "closed"}:
		default:
		}
	}()

	timer := time.NewTimer(s.cfg.OpenDelay)
	defer timer.Stop()

	select {
	case <-s.done:
		return
	case <-timer.C:
	}

	if !s.emit(Event{Type: EventOpened}) {
		return
	}
	if !s.emitEnvelope(s.gen.NewOrderEnvelope()) {
		return
	}

	for {
		timer.Reset(s.nextDelay())
		select {
		case <-s.done:
			return
		case <-timer.C:
		}
		if !s.emitEnvelope(s.gen.Next()) {
			return
		}
	}
}

func (s *Synthetic) nextDelay() time.Duration {
	if s.cfg.Jitter <= 0 {
		return s.cfg.Interval
	}
	return s.cfg.Interval + time.Duration(rand.Int64N(int64(s.cfg.Jitter)))
}

func (s *Synthetic) emitEnvelope(env domain.Envelope) bool {
	data, err := domain.EncodeEnvelope(env)
	if err != nil {
		slog.Error("Synthetic feed encode failed", slog.Any("error", err))
		return true
	}
	return s.emit(Event{Type: EventMessage, Data: data})
}

func (s *Synthetic) emit(ev Event) bool {
	select {
	case <-s.done:
		return false
	case s.events <- ev:
		return true
	}
}
