package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusOpen      Status = "Open"
	StatusPending   Status = "Pending"
	StatusPartial   Status = "Partial"
	StatusCompleted Status = "Completed"
	StatusCanceled  Status = "Canceled"
	StatusFailed    Status = "Failed"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusOpen,
	StatusPending,
	StatusCanceled,
	StatusFailed,
	StatusPartial,
	StatusCompleted,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusPartial, StatusCompleted, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s ends an order's life in the live set.
func (s Status) IsTerminal() bool {
	return IsTerminal(s)
}

// IsTerminal is true for Completed, Canceled and Failed.
// Orders in a terminal status are pruned from the live set, never kept.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// QuantityPlaces is the number of fractional digits kept for sizes and prices.
const QuantityPlaces = 2

// RoundQuantity rounds q to two fractional digits, half away from zero.
func RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Round(QuantityPlaces)
}

// HistoryEntry records one transition of an order.
type HistoryEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	AskPrice  *decimal.Decimal `json:"askPrice,omitempty"`
	BidPrice  *decimal.Decimal `json:"bidPrice,omitempty"`
	Status    Status           `json:"status"`
}

// Order is the unit of exchange activity held in the live order set.
type Order struct {
	ID                  string          `json:"id"`
	CreatedAt           time.Time       `json:"createdAt"`
	Side                Side            `json:"side"`
	SequenceNumber      int             `json:"sequenceNumber"`
	CounterpartyAddress string          `json:"counterpartyAddress"`
	Size                decimal.Decimal `json:"size"`
	AskPrice            decimal.Decimal `json:"askPrice"`
	BidPrice            decimal.Decimal `json:"bidPrice"`
	IsPartial           bool            `json:"isPartial"`
	Status              Status          `json:"status"`
	History             []HistoryEntry  `json:"history"`
}

// Normalized returns a copy of o with quantities rounded, history defaulted
// to an empty slice and IsPartial derived from Status.
func (o Order) Normalized() Order {
	out := o.Clone()
	out.Size = RoundQuantity(out.Size)
	out.AskPrice = RoundQuantity(out.AskPrice)
	out.BidPrice = RoundQuantity(out.BidPrice)
	out.IsPartial = out.Status == StatusPartial
	if out.History == nil {
		out.History = []HistoryEntry{}
	}
	return out
}

// Clone returns a deep copy of o. The history slice is never shared.
func (o Order) Clone() Order {
	out := o
	if o.History != nil {
		out.History = make([]HistoryEntry, len(o.History))
		for i, h := range o.History {
			out.History[i] = h.clone()
		}
	}
	return out
}

func (h HistoryEntry) clone() HistoryEntry {
	out := h
	if h.AskPrice != nil {
		v := *h.AskPrice
		out.AskPrice = &v
	}
	if h.BidPrice != nil {
		v := *h.BidPrice
		out.BidPrice = &v
	}
	return out
}

// LastHistoryAt returns the timestamp of the newest history entry, or the
// zero time when the history is empty.
func (o Order) LastHistoryAt() time.Time {
	if len(o.History) == 0 {
		return time.Time{}
	}
	return o.History[len(o.History)-1].Timestamp
}

// AppendHistory adds an entry capturing the order's current ask/bid with the
// given status. The timestamp never goes backwards relative to the last entry.
func (o *Order) AppendHistory(at time.Time, status Status) {
	if last := o.LastHistoryAt(); at.Before(last) {
		at = last
	}
	ask := o.AskPrice
	bid := o.BidPrice
	o.History = append(o.History, HistoryEntry{
		Timestamp: at,
		AskPrice:  &ask,
		BidPrice:  &bid,
		Status:    status,
	})
}

// SetStatus updates the status and keeps IsPartial in sync with it.
func (o *Order) SetStatus(s Status) {
	o.Status = s
	o.IsPartial = s == StatusPartial
}
