package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/engine"
)

// Book is the engine surface the service reads and mutates.
type Book interface {
	Snapshot() []domain.Order
	Get(id string) (domain.Order, bool)
	Version() uint64
	ApplyLocalUpdate(id string, upd engine.PriceUpdate) error
	ApplyLocalCancel(id string) error
	ApplyLocalAccept(id string) error
}

// Connection is the supervisor surface exposed to users.
type Connection interface {
	State() domain.ConnectionState
	LastError() error
	Attempts() int
	Start(ctx context.Context)
	Stop()
}

// StatusFilter selects orders by status. A nil filter matches everything.
type StatusFilter map[domain.Status]bool

// DefaultStatusFilter shows only open orders.
func DefaultStatusFilter() StatusFilter {
	return StatusFilter{domain.StatusOpen: true}
}

// ParseStatusFilter parses a comma separated status list. Empty means the
// default filter, "all" disables filtering.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultStatusFilter(), nil
	}
	if strings.EqualFold(raw, "all") {
		return nil, nil
	}

	f := StatusFilter{}
	for _, part := range strings.Split(raw, ",") {
		s := domain.Status(strings.TrimSpace(part))
		if s == "" {
			continue
		}
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		f[s] = true
	}
	if len(f) == 0 {
		return DefaultStatusFilter(), nil
	}
	return f, nil
}

// Match reports whether s passes the filter.
func (f StatusFilter) Match(s domain.Status) bool {
	return f == nil || f[s]
}

// ConnectionInfo describes the feed connection for display.
type ConnectionInfo struct {
	State     domain.ConnectionState `json:"state"`
	Attempts  int                    `json:"attempts"`
	LastError string                 `json:"lastError,omitempty"`
}

// OrderService is the read model and intent gateway over the engine.
type OrderService struct {
	book  Book
	audit domain.AuditReader
	conn  Connection
}

// NewOrderService creates a new OrderService. audit and conn may be nil.
func NewOrderService(book Book, audit domain.AuditReader, conn Connection) *OrderService {
	return &OrderService{book: book, audit: audit, conn: conn}
}

// ListOrders returns the filtered orders, newest first.
func (s *OrderService) ListOrders(filter StatusFilter) []domain.Order {
	return View(s.book.Snapshot(), filter)
}

// View filters orders and sorts them by CreatedAt descending, ties by id.
func View(orders []domain.Order, filter StatusFilter) []domain.Order {
	result := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if filter.Match(o.Status) {
			result = append(result, o)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result
}

// Version returns the engine version the view was built from.
func (s *OrderService) Version() uint64 {
	return s.book.Version()
}

// GetOrder returns one live order.
func (s *OrderService) GetOrder(id string) (domain.Order, error) {
	o, ok := s.book.Get(id)
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}
	return o, nil
}

// AuditTrail returns the journal rows for an order, including pruned ones.
func (s *OrderService) AuditTrail(id string) ([]domain.AuditRecord, error) {
	if s.audit == nil {
		return []domain.AuditRecord{}, nil
	}
	return s.audit.ForOrder(id)
}

// RecentAudit returns the newest journal rows across all orders.
func (s *OrderService) RecentAudit(limit int) ([]domain.AuditRecord, error) {
	if s.audit == nil {
		return []domain.AuditRecord{}, nil
	}
	return s.audit.Recent(limit)
}

// UpdatePrice edits ask and/or bid of an open order.
func (s *OrderService) UpdatePrice(id string, upd engine.PriceUpdate) (domain.Order, error) {
	if err := s.requireOpen(id); err != nil {
		return domain.Order{}, err
	}
	if err := s.book.ApplyLocalUpdate(id, upd); err != nil {
		return domain.Order{}, fmt.Errorf("update price of %s: %w", id, err)
	}
	return s.GetOrder(id)
}

// Cancel cancels an open order. The order leaves the live set.
func (s *OrderService) Cancel(id string) error {
	if err := s.requireOpen(id); err != nil {
		return err
	}
	if err := s.book.ApplyLocalCancel(id); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

// Accept moves an open order to Pending.
func (s *OrderService) Accept(id string) (domain.Order, error) {
	if err := s.requireOpen(id); err != nil {
		return domain.Order{}, err
	}
	if err := s.book.ApplyLocalAccept(id); err != nil {
		return domain.Order{}, fmt.Errorf("accept %s: %w", id, err)
	}
	return s.GetOrder(id)
}

func (s *OrderService) requireOpen(id string) error {
	o, err := s.GetOrder(id)
	if err != nil {
		return err
	}
	if o.Status != domain.StatusOpen {
		return fmt.Errorf("order %s is %s: %w", id, o.Status, domain.ErrOrderNotOpen)
	}
	return nil
}

// Connection returns the feed connection status.
func (s *OrderService) Connection() ConnectionInfo {
	if s.conn == nil {
		return ConnectionInfo{State: domain.StateDisconnected}
	}
	info := ConnectionInfo{State: s.conn.State(), Attempts: s.conn.Attempts()}
	if err := s.conn.LastError(); err != nil {
		info.LastError = err.Error()
	}
	return info
}

// StartConnection asks the supervisor to connect.
func (s *OrderService) StartConnection(ctx context.Context) ConnectionInfo {
	if s.conn != nil {
		s.conn.Start(ctx)
	}
	return s.Connection()
}

// StopConnection disconnects the feed.
func (s *OrderService) StopConnection() ConnectionInfo {
	if s.conn != nil {
		s.conn.Stop()
	}
	return s.Connection()
}
