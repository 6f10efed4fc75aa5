package api

import (
	"orderbook_go/internal/domain"

	"github.com/shopspring/decimal"
)

// OrdersResponse is the filtered order view.
type OrdersResponse struct {
	Version uint64         `json:"version"`
	Count   int            `json:"count"`
	Orders  []domain.Order `json:"orders"`
}

// PriceRequest edits ask and/or bid.
type PriceRequest struct {
	AskPrice *decimal.Decimal `json:"askPrice"`
	BidPrice *decimal.Decimal `json:"bidPrice"`
}

// CancelResponse acknowledges a cancel; the order is gone from the view.
type CancelResponse struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
}

// UpdateMessage is pushed to WebSocket clients on every book change.
type UpdateMessage struct {
	Type    string         `json:"type"`
	Version uint64         `json:"version"`
	Cause   string         `json:"cause"`
	Orders  []domain.Order `json:"orders"`
}

// ConnectionMessage is pushed when the feed connection state changes.
type ConnectionMessage struct {
	Type  string                 `json:"type"`
	State domain.ConnectionState `json:"state"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

const (
	MessageSnapshot   = "snapshot"
	MessageUpdate     = "update"
	MessageConnection = "connection"
)
