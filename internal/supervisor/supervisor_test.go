package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/feed"
	"orderbook_go/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// fakeClock records every scheduled delay. When fire is false the returned
// channel never fires.
type fakeClock struct {
	mu     sync.Mutex
	fire   bool
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	if c.fire {
		ch <- time.Time{}
	}
	return ch
}

func (c *fakeClock) Now() time.Time { return time.Time{} }

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// fakeTransport is driven by the test through emit.
type fakeTransport struct {
	mu     sync.Mutex
	events chan feed.Event
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan feed.Event, 16)}
}

func (f *fakeTransport) Events() <-chan feed.Event { return f.events }
func (f *fakeTransport) Send([]byte) error         { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	select {
	case f.events <- feed.Event{Type: feed.EventClosed, Code: feed.CloseNormal}:
	default:
	}
	close(f.events)
	return nil
}

func (f *fakeTransport) emit(ev feed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- ev
	}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recordingSink struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (s *recordingSink) ApplyEnvelope(env domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

type stateLog struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (l *stateLog) add(s domain.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConnectionState(nil), l.states...)
}

var errDial = domain.NewNetworkError("dial", errors.New("refused"))

func failingDialer(count *atomic.Int32) Dialer {
	return func(ctx context.Context) (feed.Transport, error) {
		count.Add(1)
		return nil, errDial
	}
}

// queueDialer hands out fresh fake transports and publishes them to the test.
func queueDialer(out chan<- *fakeTransport) Dialer {
	return func(ctx context.Context) (feed.Transport, error) {
		ft := newFakeTransport()
		out <- ft
		return ft, nil
	}
}

func nextTransport(t *testing.T, ch <-chan *fakeTransport) *fakeTransport {
	t.Helper()
	select {
	case ft := <-ch:
		return ft
	case <-time.After(waitFor):
		t.Fatal("no dial observed")
		return nil
	}
}

func TestSupervisor_ReconnectBound(t *testing.T) {
	var dials atomic.Int32
	clock := &fakeClock{fire: true}
	metrics := &infra.Metrics{}

	var errs []error
	var errMu sync.Mutex
	s := New(failingDialer(&dials), &recordingSink{}, WithClock(clock), WithMetrics(metrics))
	s.OnError(func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		errs = append(errs, err)
	})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return dials.Load() == 6 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(clock.Delays()) == 5 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(6), dials.Load(), "initial dial plus five reconnects")
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, clock.Delays())
	for _, d := range clock.Delays() {
		assert.GreaterOrEqual(t, d, DefaultMinDelay)
	}
	assert.Equal(t, domain.StateDisconnected, s.State())
	assert.Equal(t, uint64(5), metrics.Snapshot().Reconnects)

	errMu.Lock()
	defer errMu.Unlock()
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[len(errs)-1], domain.ErrReconnectExhausted)
}

func TestSupervisor_FatalDialErrorStops(t *testing.T) {
	var dials atomic.Int32
	clock := &fakeClock{fire: true}
	s := New(func(ctx context.Context) (feed.Transport, error) {
		dials.Add(1)
		return nil, domain.NewFatalNetworkError("parse feed url", errors.New("bad url"))
	}, &recordingSink{}, WithClock(clock), WithMetrics(&infra.Metrics{}))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.State() == domain.StateDisconnected && dials.Load() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
	assert.Empty(t, clock.Delays())
}

func TestSupervisor_SessionLifecycle(t *testing.T) {
	dialed := make(chan *fakeTransport, 4)
	clock := &fakeClock{fire: false}
	sink := &recordingSink{}
	metrics := &infra.Metrics{}

	s := New(queueDialer(dialed), sink, WithClock(clock), WithMetrics(metrics))
	states := &stateLog{}
	s.OnStateChange(states.add)
	var lastErr atomic.Value
	s.OnError(func(err error) { lastErr.Store(err) })

	s.Start(context.Background())
	defer s.Stop()

	ft := nextTransport(t, dialed)
	ft.emit(feed.Event{Type: feed.EventOpened})
	require.Eventually(t, func() bool { return s.State() == domain.StateConnected }, waitFor, tick)
	assert.Equal(t, int32(1), metrics.Snapshot().ActiveConnections)

	ft.emit(feed.Event{Type: feed.EventMessage, Data: []byte(`{"kind":"NEW_ORDER","payload":{"id":"A","status":"Open","side":"Buy"}}`)})
	ft.emit(feed.Event{Type: feed.EventMessage, Data: []byte(`not json`)})
	ft.emit(feed.Event{Type: feed.EventMessage, Data: []byte(`{"kind":"NEW_ORDER","payload":{"id":"B","status":"Bogus"}}`)})
	require.Eventually(t, func() bool { return metrics.Snapshot().DecodeErrors == 2 }, waitFor, tick)
	assert.Equal(t, 1, sink.Len())

	transportErr := errors.New("socket reset")
	ft.emit(feed.Event{Type: feed.EventErrored, Err: transportErr})

	require.Eventually(t, func() bool { return ft.isClosed() }, waitFor, tick)
	require.Eventually(t, func() bool { return len(clock.Delays()) == 1 }, waitFor, tick)
	assert.Equal(t, []time.Duration{time.Second}, clock.Delays())
	assert.Equal(t, transportErr, lastErr.Load())
	assert.Equal(t, uint64(1), metrics.Snapshot().TransportErrors)
	assert.Equal(t, int32(0), metrics.Snapshot().ActiveConnections)

	assert.Equal(t, []domain.ConnectionState{
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateError,
		domain.StateDisconnected,
	}, states.get())
}

func TestSupervisor_OpenResetsAttempts(t *testing.T) {
	dialed := make(chan *fakeTransport, 8)
	clock := &fakeClock{fire: true}
	s := New(queueDialer(dialed), &recordingSink{}, WithClock(clock), WithMetrics(&infra.Metrics{}))

	s.Start(context.Background())
	defer s.Stop()

	// Two sessions close without opening, the third opens then closes.
	nextTransport(t, dialed).Close()
	nextTransport(t, dialed).Close()
	ft := nextTransport(t, dialed)
	ft.emit(feed.Event{Type: feed.EventOpened})
	require.Eventually(t, func() bool { return s.State() == domain.StateConnected }, waitFor, tick)
	ft.Close()
	nextTransport(t, dialed)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, clock.Delays())
}

func TestSupervisor_StopCancelsPendingReconnect(t *testing.T) {
	var dials atomic.Int32
	clock := &fakeClock{fire: false}
	s := New(failingDialer(&dials), &recordingSink{}, WithClock(clock), WithMetrics(&infra.Metrics{}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(clock.Delays()) == 1 }, waitFor, tick)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, domain.StateDisconnected, s.State())

	// Restart begins a fresh loop with a fresh attempt count.
	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return dials.Load() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(clock.Delays()) == 2 }, waitFor, tick)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.Delays())
}

func TestSupervisor_StopClosesTransportWithoutCallbacks(t *testing.T) {
	dialed := make(chan *fakeTransport, 2)
	s := New(queueDialer(dialed), &recordingSink{}, WithClock(&fakeClock{}), WithMetrics(&infra.Metrics{}))

	s.Start(context.Background())
	ft := nextTransport(t, dialed)
	ft.emit(feed.Event{Type: feed.EventOpened})
	require.Eventually(t, func() bool { return s.State() == domain.StateConnected }, waitFor, tick)

	states := &stateLog{}
	s.OnStateChange(states.add)
	s.Stop()

	assert.True(t, ft.isClosed())
	assert.Equal(t, []domain.ConnectionState{domain.StateDisconnected}, states.get())
	assert.Empty(t, dialed, "no reconnect after Stop")
}

func TestSupervisor_StartWhileConnectedIsNoop(t *testing.T) {
	dialed := make(chan *fakeTransport, 2)
	s := New(queueDialer(dialed), &recordingSink{}, WithClock(&fakeClock{}), WithMetrics(&infra.Metrics{}))

	s.Start(context.Background())
	defer s.Stop()
	ft := nextTransport(t, dialed)
	ft.emit(feed.Event{Type: feed.EventOpened})
	require.Eventually(t, func() bool { return s.State() == domain.StateConnected }, waitFor, tick)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, dialed)
	assert.Equal(t, domain.StateConnected, s.State())
}

func TestSupervisor_WithSyntheticFeed(t *testing.T) {
	sink := &recordingSink{}
	gen := feed.NewGenerator(1, 0, 0, nil)
	s := New(func(ctx context.Context) (feed.Transport, error) {
		return feed.NewSynthetic(feed.SyntheticConfig{OpenDelay: time.Millisecond, Interval: time.Millisecond}, gen), nil
	}, sink, WithMetrics(&infra.Metrics{}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return sink.Len() >= 5 }, waitFor, tick)
	assert.Equal(t, domain.StateConnected, s.State())
	s.Stop()
	assert.Equal(t, domain.StateDisconnected, s.State())
}
