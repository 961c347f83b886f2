package strategy

import (
	"fmt"
	"log/slog"
	"sync"

	"hft_go/internal/aggregator"
	"hft_go/internal/book"
	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// PriceVsSMAStrategy buys while the last trade is above the window average
// and sells while it is below. It only emits when the side flips.
type PriceVsSMAStrategy struct {
	window string
	qty    quant.QtySats

	mu   sync.Mutex
	last map[string]signal
}

func NewPriceVsSMAStrategy(window string, qty quant.QtySats) (*PriceVsSMAStrategy, error) {
	if window == "" {
		return nil, fmt.Errorf("price vs sma: window name is required")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("price vs sma: order quantity must be positive")
	}
	return &PriceVsSMAStrategy{window: window, qty: qty, last: make(map[string]signal)}, nil
}

func (s *PriceVsSMAStrategy) Name() string { return "price_vs_sma" }

func (s *PriceVsSMAStrategy) Evaluate(b book.Snapshot, a aggregator.Snapshot) []domain.OrderIntent {
	avg, ok := a.Average(s.window)
	if !ok || !avg.Ready() || a.Last <= 0 {
		return nil
	}

	last := float64(a.Last)
	var side domain.Side
	switch {
	case last > avg.Value:
		side = domain.SideBuy
	case last < avg.Value:
		side = domain.SideSell
	default:
		return nil
	}

	s.mu.Lock()
	prev := s.last[a.Symbol]
	s.last[a.Symbol] = signal{side: side}
	s.mu.Unlock()
	if prev.side == side {
		return nil
	}

	slog.Info("STRATEGY_ACTION",
		slog.String("strategy", s.Name()),
		slog.String("symbol", a.Symbol),
		slog.String("side", side.String()),
		slog.String("last", a.Last.String()),
		slog.Float64("sma", avg.Value))

	return []domain.OrderIntent{{
		Symbol: a.Symbol,
		Side:   side,
		Price:  a.Last,
		Qty:    s.qty,
		Reason: fmt.Sprintf("last %s vs %s", a.Last, s.window),
	}}
}
