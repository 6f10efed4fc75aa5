package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditSource tells where an accepted mutation came from.
type AuditSource string

const (
	SourceRemote AuditSource = "remote"
	SourceLocal  AuditSource = "local"
)

// AuditAction names the mutation recorded in the journal.
type AuditAction string

const (
	ActionInsert AuditAction = "insert"
	ActionUpdate AuditAction = "update"
	ActionRemove AuditAction = "remove"
	ActionPrice  AuditAction = "price"
	ActionCancel AuditAction = "cancel"
	ActionAccept AuditAction = "accept"
)

// AuditRecord is one accepted mutation of one order.
// Records outlive the order: pruned orders keep their trail.
type AuditRecord struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	OrderID    string          `gorm:"index" json:"orderId"`
	Source     AuditSource     `json:"source"`
	Action     AuditAction     `json:"action"`
	Status     Status          `json:"status"`
	AskPrice   decimal.Decimal `gorm:"type:text" json:"askPrice"`
	BidPrice   decimal.Decimal `gorm:"type:text" json:"bidPrice"`
	Version    uint64          `json:"version"`
	RecordedAt time.Time       `gorm:"index" json:"recordedAt"`
}

// NewAuditRecord captures the order's current status and prices.
func NewAuditRecord(o Order, source AuditSource, action AuditAction, at time.Time) AuditRecord {
	return AuditRecord{
		OrderID:    o.ID,
		Source:     source,
		Action:     action,
		Status:     o.Status,
		AskPrice:   o.AskPrice,
		BidPrice:   o.BidPrice,
		RecordedAt: at,
	}
}
