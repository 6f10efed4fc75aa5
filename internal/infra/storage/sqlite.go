package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"orderbook_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN keeps the journal in process memory.
const MemoryDSN = ":memory:"

// Journal is the audit trail of accepted order mutations.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens the journal. An empty path or MemoryDSN keeps it in memory.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		path = MemoryDSN
	}
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Every pooled connection to :memory: would be its own database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access journal pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.AuditRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one audit row.
func (j *Journal) Record(rec domain.AuditRecord) error {
	rec.ID = 0
	return j.db.Create(&rec).Error
}

// ForOrder returns the trail of one order, oldest first.
func (j *Journal) ForOrder(orderID string) ([]domain.AuditRecord, error) {
	var recs []domain.AuditRecord
	err := j.db.Where("order_id = ?", orderID).Order("id asc").Find(&recs).Error
	return recs, err
}

// Recent returns the newest rows across all orders, newest first.
func (j *Journal) Recent(limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []domain.AuditRecord
	err := j.db.Order("id desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// Count returns the number of rows.
func (j *Journal) Count() (int64, error) {
	var n int64
	err := j.db.Model(&domain.AuditRecord{}).Count(&n).Error
	return n, err
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
