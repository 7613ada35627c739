// record/store.go
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TradeEvent is one audit row, written on entry and on exit. Rows are only
// ever inserted, never updated.
type TradeEvent struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	Type   string `gorm:"size:8;index"` // ENTRY or EXIT
	Symbol string `gorm:"size:32"`
	Side   string `gorm:"size:8"`

	Score      float64
	RewardRisk float64
	Regime     string `gorm:"size:8"`

	EntryPrice float64
	Quantity   float64
	ActualRisk float64

	PnlUSDT float64
	PnlR    float64
	Reason  string `gorm:"size:8"` // TP or SL, exit rows only
	Balance float64

	MetricsJSON string // contributing metrics at decision time
}

const (
	EventEntry = "ENTRY"
	EventExit  = "EXIT"
)

// Store is the append-only trade event log, backed by SQLite.
type Store struct {
	db *gorm.DB
}

// NewStore opens (creating if needed) the event database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create record directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	if err := db.AutoMigrate(&TradeEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate record store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Single-writer workload; no reason to hold more connections.
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// Append inserts one event.
func (s *Store) Append(ev *TradeEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(ev).Error
}

// Recent returns the latest n events, newest first.
func (s *Store) Recent(n int) ([]TradeEvent, error) {
	var events []TradeEvent
	err := s.db.Order("id DESC").Limit(n).Find(&events).Error
	return events, err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
