package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/infra"

	"github.com/shopspring/decimal"
)

// Update is the change notification pushed to listeners after every
// observable state transition. Orders is a private deep copy.
type Update struct {
	Version uint64         `json:"version"`
	Cause   string         `json:"cause"`
	Orders  []domain.Order `json:"orders"`
}

// Listener receives updates in mutation order. It runs while the engine
// lock is held and must not call back into the engine.
type Listener func(Update)

// PriceUpdate carries the optional new prices of a local price edit.
type PriceUpdate struct {
	AskPrice *decimal.Decimal `json:"askPrice,omitempty"`
	BidPrice *decimal.Decimal `json:"bidPrice,omitempty"`
}

// Engine owns the live order set and reconciles feed envelopes with local
// intents. Terminal orders are removed, never retained.
type Engine struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	version uint64

	listeners map[int]Listener
	nextSub   int

	recorder domain.AuditRecorder
	metrics  *infra.Metrics
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder attaches an audit journal.
func WithRecorder(r domain.AuditRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics overrides the metrics sink (defaults to infra.GlobalMetrics).
func WithMetrics(m *infra.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for history entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		orders:    make(map[string]*domain.Order),
		listeners: make(map[int]Listener),
		metrics:   infra.GlobalMetrics,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers l and returns a function that removes it.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.listeners[id] = l
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// ApplyEnvelope merges one feed envelope into the live set.
// Last applied envelope wins for a given id; the feed carries no sequence.
func (e *Engine) ApplyEnvelope(env domain.Envelope) {
	if !env.Kind.Known() {
		slog.Warn("Ignoring envelope",
			slog.Any("error", domain.ErrUnknownKind),
			slog.String("kind", string(env.Kind)),
		)
		e.metrics.RecordUnknownKind()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch env.Kind {
	case domain.KindNewOrder, domain.KindUpdateOrder:
		if env.Order == nil {
			return
		}
		if e.reconcile(e.orders, *env.Order) {
			e.commit(string(env.Kind))
		}

	case domain.KindDeleteOrder:
		if env.Order == nil {
			return
		}
		existing, ok := e.orders[env.Order.ID]
		if !ok {
			return
		}
		delete(e.orders, existing.ID)
		e.record(*existing, domain.SourceRemote, domain.ActionRemove)
		e.commit(string(env.Kind))

	case domain.KindBatchOrders:
		if env.Batch == nil {
			return
		}
		working := make(map[string]*domain.Order, len(e.orders)+len(env.Batch))
		for id, o := range e.orders {
			working[id] = o
		}
		changed := false
		for _, o := range env.Batch {
			if e.reconcile(working, o) {
				changed = true
			}
		}
		if changed {
			e.orders = working
			e.commit(string(env.Kind))
		}
	}

	e.metrics.RecordEnvelope()
}

// reconcile applies the upsert-or-remove rule for one incoming order to set.
// Stored values are replaced, never mutated in place, so a batch working
// copy can share pointers with the live map. Must be called with lock held.
func (e *Engine) reconcile(set map[string]*domain.Order, incoming domain.Order) bool {
	in := incoming.Normalized()
	if !in.Status.Valid() {
		slog.Warn("Ignoring order with invalid status",
			slog.String("id", in.ID),
			slog.String("status", string(in.Status)),
		)
		return false
	}
	existing, ok := set[in.ID]

	if in.Status.IsTerminal() {
		if !ok {
			return false
		}
		delete(set, in.ID)
		final := mergeRemote(*existing, in, e.now())
		e.record(final, domain.SourceRemote, domain.ActionRemove)
		return true
	}

	if !ok {
		set[in.ID] = &in
		e.record(in, domain.SourceRemote, domain.ActionInsert)
		return true
	}

	merged := mergeRemote(*existing, in, e.now())
	set[in.ID] = &merged
	e.record(merged, domain.SourceRemote, domain.ActionUpdate)
	return true
}

// mergeRemote takes every field from incoming except history, which stays
// append-only: the stored entries are kept and one entry is appended when
// status or prices changed. The incoming history is not trusted.
func mergeRemote(existing, incoming domain.Order, now time.Time) domain.Order {
	out := incoming.Clone()
	out.History = existing.Clone().History
	if out.History == nil {
		out.History = []domain.HistoryEntry{}
	}
	if existing.Status != incoming.Status ||
		!existing.AskPrice.Equal(incoming.AskPrice) ||
		!existing.BidPrice.Equal(incoming.BidPrice) {
		out.AppendHistory(now, incoming.Status)
	}
	return out
}

// ApplyLocalUpdate edits ask and/or bid of an order. Prices are rounded to
// two decimals; the history entry keeps the current status.
func (e *Engine) ApplyLocalUpdate(id string, upd PriceUpdate) error {
	if upd.AskPrice == nil && upd.BidPrice == nil {
		return fmt.Errorf("update %s: no price given: %w", id, domain.ErrInvalidPrice)
	}
	if (upd.AskPrice != nil && upd.AskPrice.IsNegative()) || (upd.BidPrice != nil && upd.BidPrice.IsNegative()) {
		return fmt.Errorf("update %s: %w", id, domain.ErrInvalidPrice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.orders[id]
	if !ok {
		e.metrics.RecordIntentRejected()
		return fmt.Errorf("update %s: %w", id, domain.ErrOrderNotFound)
	}

	o := existing.Clone()
	if upd.AskPrice != nil {
		o.AskPrice = domain.RoundQuantity(*upd.AskPrice)
	}
	if upd.BidPrice != nil {
		o.BidPrice = domain.RoundQuantity(*upd.BidPrice)
	}
	o.AppendHistory(e.now(), o.Status)
	e.orders[id] = &o

	e.record(o, domain.SourceLocal, domain.ActionPrice)
	e.metrics.RecordIntent()
	e.commit("LOCAL_UPDATE")
	return nil
}

// ApplyLocalCancel cancels an order and prunes it from the live set.
// Eligibility (only Open orders) is checked by callers, not here.
func (e *Engine) ApplyLocalCancel(id string) error {
	return e.transition(id, domain.StatusCanceled, domain.ActionCancel, "LOCAL_CANCEL")
}

// ApplyLocalAccept moves an order to Pending. It stays in the live set.
func (e *Engine) ApplyLocalAccept(id string) error {
	return e.transition(id, domain.StatusPending, domain.ActionAccept, "LOCAL_ACCEPT")
}

func (e *Engine) transition(id string, status domain.Status, action domain.AuditAction, cause string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.orders[id]
	if !ok {
		e.metrics.RecordIntentRejected()
		return fmt.Errorf("%s %s: %w", action, id, domain.ErrOrderNotFound)
	}

	o := existing.Clone()
	o.AppendHistory(e.now(), status)
	o.SetStatus(status)

	if status.IsTerminal() {
		delete(e.orders, id)
	} else {
		e.orders[id] = &o
	}

	e.record(o, domain.SourceLocal, action)
	e.metrics.RecordIntent()
	e.commit(cause)
	return nil
}

// commit bumps the version and notifies listeners. Must be called with lock held.
func (e *Engine) commit(cause string) {
	e.version++
	e.metrics.SetLiveOrders(int64(len(e.orders)))
	if len(e.listeners) == 0 {
		return
	}

	upd := Update{Version: e.version, Cause: cause, Orders: e.snapshotLocked()}
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		e.listeners[id](upd)
	}
}

func (e *Engine) record(o domain.Order, source domain.AuditSource, action domain.AuditAction) {
	if e.recorder == nil {
		return
	}
	rec := domain.NewAuditRecord(o, source, action, e.now())
	rec.Version = e.version + 1
	if err := e.recorder.Record(rec); err != nil {
		slog.Warn("Failed to record audit entry",
			slog.String("order_id", o.ID),
			slog.String("action", string(action)),
			slog.Any("error", err),
		)
	}
}

// Snapshot returns a deep copy of the live set ordered by id.
func (e *Engine) Snapshot() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []domain.Order {
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of one order.
func (e *Engine) Get(id string) (domain.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return o.Clone(), true
}

// Len returns the number of live orders.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.orders)
}

// Version counts observable state transitions since creation.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// DumpState writes the entire live set to a file (for post-mortem).
func (e *Engine) DumpState(filename string) error {
	slog.Info("Dumping order book state...", slog.String("file", filename))

	e.mu.RLock()
	data := struct {
		Version uint64         `json:"version"`
		Orders  []domain.Order `json:"orders"`
	}{
		Version: e.version,
		Orders:  e.snapshotLocked(),
	}
	e.mu.RUnlock()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		return fmt.Errorf("write state dump: %w", err)
	}
	return nil
}
