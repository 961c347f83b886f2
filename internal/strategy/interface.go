package strategy

import (
	"hft_go/internal/aggregator"
	"hft_go/internal/book"
	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// Strategy is the interface that all trading strategies must implement.
// It is called by the engine shard that owns the symbol after each batch of
// market data, so calls for different symbols may run concurrently.
type Strategy interface {
	Name() string
	// Evaluate returns the orders the strategy wants. Intents still go through
	// the risk manager before reaching the gateway.
	Evaluate(b book.Snapshot, a aggregator.Snapshot) []domain.OrderIntent
}

// Multi runs several strategies and concatenates their intents.
type Multi []Strategy

func (m Multi) Name() string { return "multi" }

func (m Multi) Evaluate(b book.Snapshot, a aggregator.Snapshot) []domain.OrderIntent {
	var out []domain.OrderIntent
	for _, s := range m {
		out = append(out, s.Evaluate(b, a)...)
	}
	return out
}

// signal remembers the last side a strategy traded per symbol, so a signal
// only produces an order when it changes.
type signal struct {
	side domain.Side
}

// refPrice is the price a strategy quotes at: the last trade, or the touch on
// the side it would cross when nothing has traded yet.
func refPrice(b book.Snapshot, a aggregator.Snapshot, side domain.Side) (quant.PriceMicros, bool) {
	if a.Last > 0 {
		return a.Last, true
	}
	top := b.Top()
	if side == domain.SideBuy && top.HasAsk {
		return top.Ask.Price, true
	}
	if side == domain.SideSell && top.HasBid {
		return top.Bid.Price, true
	}
	return 0, false
}
