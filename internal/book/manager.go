package book

import (
	"log/slog"
	"sync"

	"hft_go/internal/domain"
)

// Manager owns one OrderBook per instrument, created on first reference.
type Manager struct {
	mu       sync.RWMutex
	books    map[string]*OrderBook
	registry *domain.InstrumentRegistry
	logger   *slog.Logger
}

func NewManager(registry *domain.InstrumentRegistry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		books:    make(map[string]*OrderBook, registry.Len()),
		registry: registry,
		logger:   logger.With(slog.String("module", "book")),
	}
}

// Book returns the book for symbol, creating it if the instrument is registered.
func (m *Manager) Book(symbol string) (*OrderBook, error) {
	m.mu.RLock()
	b, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return b, nil
	}

	inst, err := m.registry.Lookup(symbol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.books[symbol]; ok {
		return b, nil
	}
	b = NewOrderBook(inst, m.logger)
	m.books[symbol] = b
	return b, nil
}

// Get returns an existing book without creating one.
func (m *Manager) Get(symbol string) (*OrderBook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[symbol]
	return b, ok
}

// ResetAll empties every book. Called when the session is re-established.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.books {
		b.Reset()
	}
	m.logger.Info("BOOKS_RESET", slog.Int("count", len(m.books)))
}

// Snapshots copies up to depth levels of every book.
func (m *Manager) Snapshots(depth int) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b.Snapshot(depth))
	}
	return out
}
