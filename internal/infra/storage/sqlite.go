// Package storage persists the instrument registry and the order journal in
// a local SQLite file.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// InstrumentRecord is the stored form of a domain.Instrument.
type InstrumentRecord struct {
	Symbol    string `gorm:"primaryKey"`
	TickSize  int64  // micros
	LotSize   int64  // sats
	UpdatedAt time.Time
}

// OrderEventRecord is one order status transition.
type OrderEventRecord struct {
	ID            uint   `gorm:"primaryKey"`
	CorrelationID string `gorm:"index;size:36"`
	Symbol        string `gorm:"index"`
	Side          uint8
	Price         int64
	Qty           int64
	Status        int32
	StatusName    string
	Reason        string
	At            int64 `gorm:"index"` // unix micros
}

func toRecord(ev domain.OrderEvent) OrderEventRecord {
	return OrderEventRecord{
		CorrelationID: ev.CorrelationID,
		Symbol:        ev.Symbol,
		Side:          uint8(ev.Side),
		Price:         int64(ev.Price),
		Qty:           int64(ev.Qty),
		Status:        int32(ev.Status),
		StatusName:    ev.Status.String(),
		Reason:        ev.Reason,
		At:            int64(ev.At),
	}
}

func (r OrderEventRecord) event() domain.OrderEvent {
	return domain.OrderEvent{
		CorrelationID: r.CorrelationID,
		Symbol:        r.Symbol,
		Side:          domain.Side(r.Side),
		Price:         quant.PriceMicros(r.Price),
		Qty:           quant.QtySats(r.Qty),
		Status:        domain.OrderStatus(r.Status),
		Reason:        r.Reason,
		At:            quant.TimeStamp(r.At),
	}
}

// Storage wraps the gorm handle.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&InstrumentRecord{}, &OrderEventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Instrument Operations
// ======================================================================================

// SaveInstruments upserts the given instruments in one transaction.
func (s *Storage) SaveInstruments(instruments []domain.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	now := time.Now()
	recs := make([]InstrumentRecord, len(instruments))
	for i, inst := range instruments {
		recs[i] = InstrumentRecord{
			Symbol:    inst.Symbol,
			TickSize:  int64(inst.TickSize),
			LotSize:   int64(inst.LotSize),
			UpdatedAt: now,
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&recs).Error
	})
}

// LoadInstruments returns every stored instrument ordered by symbol.
func (s *Storage) LoadInstruments() ([]domain.Instrument, error) {
	var recs []InstrumentRecord
	if err := s.db.Order("symbol").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Instrument, len(recs))
	for i, r := range recs {
		out[i] = domain.Instrument{
			Symbol:   r.Symbol,
			TickSize: quant.PriceMicros(r.TickSize),
			LotSize:  quant.QtySats(r.LotSize),
		}
	}
	return out, nil
}

// GetInstrument returns the stored instrument, or false if there is none.
func (s *Storage) GetInstrument(symbol string) (domain.Instrument, bool, error) {
	var r InstrumentRecord
	err := s.db.First(&r, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Instrument{}, false, nil // Not found is not an error
	}
	if err != nil {
		return domain.Instrument{}, false, err
	}
	return domain.Instrument{Symbol: r.Symbol, TickSize: quant.PriceMicros(r.TickSize), LotSize: quant.QtySats(r.LotSize)}, true, nil
}

// ======================================================================================
// Order Journal Operations
// ======================================================================================

// InsertOrderEvents writes a batch of transitions.
func (s *Storage) InsertOrderEvents(events []domain.OrderEvent) error {
	if len(events) == 0 {
		return nil
	}
	recs := make([]OrderEventRecord, len(events))
	for i, ev := range events {
		recs[i] = toRecord(ev)
	}
	return s.db.CreateInBatches(&recs, 200).Error
}

// OrderHistory returns the transitions of one order in the order they were written.
func (s *Storage) OrderHistory(correlationID string) ([]domain.OrderEvent, error) {
	var recs []OrderEventRecord
	if err := s.db.Where("correlation_id = ?", correlationID).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.OrderEvent, len(recs))
	for i, r := range recs {
		out[i] = r.event()
	}
	return out, nil
}

// CountOrderEvents returns the number of journaled transitions.
func (s *Storage) CountOrderEvents() (int64, error) {
	var n int64
	err := s.db.Model(&OrderEventRecord{}).Count(&n).Error
	return n, err
}
