// Package ledger is a secondary, non-authoritative audit trail: every
// trade the Trading State Machine executes is also recorded here for
// historical query and reporting. Restart correctness depends only on
// internal/store's JSON snapshot; the ledger is additive and its
// failure never blocks a trading cycle.
//
// Grounded on the donor's internal/database/database.go (GORM model
// definitions, AutoMigrate, Save/Create/Find query shape), trimmed to
// SQLite only — the donor's postgres branch served its Telegram-bot
// deployment story, which this system has no use for.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ot-clark/cryptoedge/internal/domain"
)

// TradeRecord is one fill: an entry or an exit. Grounded on the donor's
// database.Trade, renamed and re-typed around domain.Trade's actual
// fields.
type TradeRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TradeID     string `gorm:"index"`
	PositionID  string `gorm:"index"`
	MarketID    string `gorm:"index"`
	Action      string // "open" or "close"
	Side        string // "long" or "short"
	Price       decimal.Decimal `gorm:"type:decimal(10,6)"`
	Notional    decimal.Decimal `gorm:"type:decimal(20,6)"`
	Shares      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Edge        decimal.Decimal `gorm:"type:decimal(10,6)"`
	Pnl         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Timestamp   time.Time
	CreatedAt   time.Time
}

// PositionSnapshot is a point-in-time record of the balance/exposure
// aggregates, written once per cycle so the ledger can answer "what was
// the account worth at time T" without replaying the JSON store.
type PositionSnapshot struct {
	ID           uint `gorm:"primaryKey;autoIncrement"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,6)"`
	TotalExposure decimal.Decimal `gorm:"type:decimal(20,6)"`
	OpenPositions int
	RecordedAt   time.Time
	CreatedAt    time.Time
}

// Ledger wraps a SQLite-backed GORM handle.
type Ledger struct {
	db *gorm.DB
}

// Open creates (or reopens) the ledger database at path, migrating its
// schema. Mirrors the donor's New(dbPath) but drops the postgres branch.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &PositionSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// RecordTrade appends one fill to the audit trail.
func (l *Ledger) RecordTrade(t domain.Trade) error {
	record := TradeRecord{
		TradeID:    t.ID,
		PositionID: t.PositionID,
		MarketID:   t.MarketID,
		Action:     string(t.Action),
		Side:       string(t.Side),
		Price:      t.Price,
		Notional:   t.Notional,
		Shares:     t.Shares,
		Edge:       decimal.NewFromFloat(t.Edge),
		Timestamp:  t.Timestamp,
	}
	if t.Pnl != nil {
		record.Pnl = *t.Pnl
	}
	return l.db.Create(&record).Error
}

// RecordSnapshot appends one balance/exposure point.
func (l *Ledger) RecordSnapshot(balance, totalExposure decimal.Decimal, openPositions int, recordedAt time.Time) error {
	snap := PositionSnapshot{
		Balance:       balance,
		TotalExposure: totalExposure,
		OpenPositions: openPositions,
		RecordedAt:    recordedAt,
	}
	return l.db.Create(&snap).Error
}

// RecentTrades returns the most recent limit trades, newest first.
func (l *Ledger) RecentTrades(limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := l.db.Order("timestamp DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// TradesForMarket returns every recorded trade for one market, oldest first.
func (l *Ledger) TradesForMarket(marketID string) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := l.db.Where("market_id = ?", marketID).Order("timestamp ASC").Find(&trades).Error
	return trades, err
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
