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

type crossState struct {
	prevFast float64
	prevSlow float64
	primed   bool
}

// SMACrossStrategy buys on a golden cross of the fast window over the slow
// one and sells on a dead cross. The averages come from the aggregator, so
// the strategy itself only keeps the previous pair per symbol.
type SMACrossStrategy struct {
	fast string
	slow string
	qty  quant.QtySats

	mu     sync.Mutex
	states map[string]*crossState
}

// NewSMACrossStrategy crosses the aggregator windows named fast and slow.
func NewSMACrossStrategy(fast, slow string, qty quant.QtySats) (*SMACrossStrategy, error) {
	if fast == "" || slow == "" || fast == slow {
		return nil, fmt.Errorf("sma cross: need two distinct windows, got %q and %q", fast, slow)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("sma cross: order quantity must be positive")
	}
	return &SMACrossStrategy{
		fast:   fast,
		slow:   slow,
		qty:    qty,
		states: make(map[string]*crossState),
	}, nil
}

func (s *SMACrossStrategy) Name() string { return "sma_cross" }

// Evaluate checks for a cross since the previous call for the same symbol.
func (s *SMACrossStrategy) Evaluate(b book.Snapshot, a aggregator.Snapshot) []domain.OrderIntent {
	fast, ok := a.Average(s.fast)
	if !ok || !fast.Ready() {
		return nil
	}
	slow, ok := a.Average(s.slow)
	if !ok || !slow.Ready() {
		return nil
	}

	s.mu.Lock()
	st, ok := s.states[a.Symbol]
	if !ok {
		st = &crossState{}
		s.states[a.Symbol] = st
	}
	prevFast, prevSlow, primed := st.prevFast, st.prevSlow, st.primed
	st.prevFast, st.prevSlow, st.primed = fast.Value, slow.Value, true
	s.mu.Unlock()

	if !primed {
		return nil
	}

	var side domain.Side
	switch {
	// Golden Cross: fast goes above slow
	case prevFast <= prevSlow && fast.Value > slow.Value:
		side = domain.SideBuy
	// Dead Cross: fast goes below slow
	case prevFast >= prevSlow && fast.Value < slow.Value:
		side = domain.SideSell
	default:
		return nil
	}

	price, ok := refPrice(b, a, side)
	if !ok {
		return nil
	}
	slog.Info("STRATEGY_ACTION",
		slog.String("strategy", s.Name()),
		slog.String("symbol", a.Symbol),
		slog.String("side", side.String()),
		slog.Float64("fast", fast.Value),
		slog.Float64("slow", slow.Value))

	return []domain.OrderIntent{{
		Symbol: a.Symbol,
		Side:   side,
		Price:  price,
		Qty:    s.qty,
		Reason: fmt.Sprintf("%s crossed %s", s.fast, s.slow),
	}}
}
