package strategy_test

import (
	"testing"

	"hft_go/internal/aggregator"
	"hft_go/internal/book"
	"hft_go/internal/domain"
	"hft_go/internal/strategy"
	"hft_go/pkg/quant"
)

func newAggregator(t testing.TB) *aggregator.Aggregator {
	t.Helper()
	agg, err := aggregator.New([]aggregator.WindowSpec{
		{Name: "fast", Kind: aggregator.KindSMA, Size: 3},
		{Name: "slow", Kind: aggregator.KindSMA, Size: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	return agg
}

func TestSMACrossStrategy(t *testing.T) {
	agg := newAggregator(t)
	strat, err := strategy.NewSMACrossStrategy("fast", "slow", quant.ToQtySats(0.01))
	if err != nil {
		t.Fatal(err)
	}

	// Helper to push price and evaluate
	push := func(price float64) []domain.OrderIntent {
		agg.OnTick(domain.Tick{Symbol: "BTC", Price: quant.ToPriceMicros(price), Qty: quant.ToQtySats(1)})
		snap, _ := agg.Snapshot("BTC")
		return strat.Evaluate(book.Snapshot{Symbol: "BTC"}, snap)
	}

	// T1-T5: All 100, windows fill and the first pair is recorded
	for i := 0; i < 5; i++ {
		if intents := push(100); len(intents) > 0 {
			t.Errorf("T%d: Expected no intents, got %v", i+1, intents)
		}
	}

	// T6: fast (133.3) crosses above slow (120) => BUY
	intents := push(200)
	if len(intents) != 1 {
		t.Fatalf("T6: Expected 1 intent (BUY), got %d", len(intents))
	}
	if intents[0].Side != domain.SideBuy || intents[0].Price != quant.ToPriceMicros(200) {
		t.Errorf("T6: Expected BUY at 200, got %s at %s", intents[0].Side, intents[0].Price)
	}
	if intents[0].Qty != quant.ToQtySats(0.01) || intents[0].Symbol != "BTC" {
		t.Errorf("T6: Unexpected intent %+v", intents[0])
	}

	// T7: fast 116.7 still above slow 110, no cross
	if intents := push(50); len(intents) != 0 {
		t.Errorf("T7: Expected no intents, got %v", intents)
	}

	// T8: fast 86.7 drops below slow 92 => SELL
	intents = push(10)
	if len(intents) != 1 {
		t.Fatalf("T8: Expected 1 intent (SELL), got %d", len(intents))
	}
	if intents[0].Side != domain.SideSell {
		t.Errorf("T8: Expected SELL, got %s", intents[0].Side)
	}
}

func TestSMACrossStrategy_PerSymbolState(t *testing.T) {
	agg := newAggregator(t)
	strat, _ := strategy.NewSMACrossStrategy("fast", "slow", 1)

	for i := 0; i < 5; i++ {
		agg.OnTick(domain.Tick{Symbol: "BTC", Price: 100})
		snap, _ := agg.Snapshot("BTC")
		strat.Evaluate(book.Snapshot{}, snap)
	}
	// ETH has never been evaluated, so a first look cannot be a cross.
	for _, p := range []quant.PriceMicros{100, 100, 100, 100, 200} {
		agg.OnTick(domain.Tick{Symbol: "ETH", Price: p})
	}
	snap, _ := agg.Snapshot("ETH")
	if intents := strat.Evaluate(book.Snapshot{}, snap); len(intents) != 0 {
		t.Errorf("Expected no intents on first evaluation, got %v", intents)
	}
}

func TestSMACrossStrategy_NoPriceNoOrder(t *testing.T) {
	strat, _ := strategy.NewSMACrossStrategy("fast", "slow", 1)
	snap := aggregator.Snapshot{Symbol: "BTC", Averages: []aggregator.Average{
		{Spec: aggregator.WindowSpec{Name: "fast", Size: 1}, Value: 1, Samples: 1},
		{Spec: aggregator.WindowSpec{Name: "slow", Size: 1}, Value: 2, Samples: 1},
	}}
	strat.Evaluate(book.Snapshot{}, snap)
	snap.Averages[0].Value = 3
	if intents := strat.Evaluate(book.Snapshot{}, snap); len(intents) != 0 {
		t.Errorf("Expected no intent without a reference price, got %v", intents)
	}

	// With an ask on the book the cross is quoted at the touch.
	b := book.Snapshot{Symbol: "BTC", Depth: book.Depth{Asks: []book.PriceLevel{{Price: 105, Qty: 1}}}}
	snap.Averages[0].Value = 1
	strat.Evaluate(b, snap)
	snap.Averages[0].Value = 3
	intents := strat.Evaluate(b, snap)
	if len(intents) != 1 || intents[0].Price != 105 {
		t.Errorf("Expected BUY at the ask, got %v", intents)
	}
}

func TestNewSMACrossStrategy_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		fast, slow string
		qty        quant.QtySats
	}{
		{"same window", "a", "a", 1},
		{"missing window", "", "b", 1},
		{"zero qty", "a", "b", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := strategy.NewSMACrossStrategy(tt.fast, tt.slow, tt.qty); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPriceVsSMAStrategy(t *testing.T) {
	agg := newAggregator(t)
	strat, err := strategy.NewPriceVsSMAStrategy("slow", 1)
	if err != nil {
		t.Fatal(err)
	}
	push := func(price float64) []domain.OrderIntent {
		agg.OnTick(domain.Tick{Symbol: "BTC", Price: quant.ToPriceMicros(price)})
		snap, _ := agg.Snapshot("BTC")
		return strat.Evaluate(book.Snapshot{}, snap)
	}

	for i := 0; i < 4; i++ {
		if intents := push(100); len(intents) != 0 {
			t.Fatalf("Window not full yet, got %v", intents)
		}
	}
	if intents := push(100); len(intents) != 0 {
		t.Errorf("Price equals SMA, expected nothing, got %v", intents)
	}
	if intents := push(110); len(intents) != 1 || intents[0].Side != domain.SideBuy {
		t.Errorf("Expected BUY above SMA, got %v", intents)
	}
	if intents := push(120); len(intents) != 0 {
		t.Errorf("Still above SMA, expected no repeat, got %v", intents)
	}
	if intents := push(50); len(intents) != 1 || intents[0].Side != domain.SideSell {
		t.Errorf("Expected SELL below SMA, got %v", intents)
	}
}

func TestMulti(t *testing.T) {
	agg := newAggregator(t)
	a, _ := strategy.NewPriceVsSMAStrategy("fast", 1)
	b, _ := strategy.NewPriceVsSMAStrategy("slow", 2)
	m := strategy.Multi{a, b}

	for _, p := range []float64{100, 100, 100, 100, 100, 150} {
		agg.OnTick(domain.Tick{Symbol: "BTC", Price: quant.ToPriceMicros(p)})
	}
	snap, _ := agg.Snapshot("BTC")
	intents := m.Evaluate(book.Snapshot{}, snap)
	if len(intents) != 2 || intents[0].Qty != 1 || intents[1].Qty != 2 {
		t.Errorf("Expected one intent from each strategy, got %v", intents)
	}
}

// BenchmarkSMACrossStrategy_Evaluate measures the per-batch decision cost.
func BenchmarkSMACrossStrategy_Evaluate(b *testing.B) {
	agg := newAggregator(b)
	strat, _ := strategy.NewSMACrossStrategy("fast", "slow", 1)
	for i := 0; i < 50; i++ {
		agg.OnTick(domain.Tick{Symbol: "BTC", Price: quant.PriceMicros(50_000_000_000 + int64(i*1000))})
	}
	snap, _ := agg.Snapshot("BTC")
	bs := book.Snapshot{Symbol: "BTC"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		strat.Evaluate(bs, snap)
	}
}
