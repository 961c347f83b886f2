package aggregator

import (
	"math"
	"testing"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

const eps = 1e-9

func tick(symbol string, price, qty float64) domain.Tick {
	return domain.Tick{
		Symbol: symbol,
		Price:  quant.ToPriceMicros(price),
		Qty:    quant.ToQtySats(qty),
		Side:   domain.SideBuy,
	}
}

func newTestAggregator(t *testing.T, specs ...WindowSpec) *Aggregator {
	t.Helper()
	a, err := New(specs)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func TestSMA_Scenario(t *testing.T) {
	spec := WindowSpec{Name: "sma3", Kind: KindSMA, Size: 3}
	a := newTestAggregator(t, spec)

	if _, ok := a.Current("BTC", spec); ok {
		t.Error("Current must be false before any sample")
	}

	for _, p := range []float64{10, 20, 30} {
		a.OnTick(tick("BTC", p, 1))
	}
	if got, _ := a.Current("BTC", spec); math.Abs(got-20) > eps {
		t.Errorf("Expected SMA 20, got %v", got)
	}

	a.OnTick(tick("BTC", 40, 1))
	if got, _ := a.Current("BTC", spec); math.Abs(got-30) > eps {
		t.Errorf("Expected SMA 30 after eviction, got %v", got)
	}
}

func TestSMA_PartialWindow(t *testing.T) {
	spec := WindowSpec{Name: "sma5", Kind: KindSMA, Size: 5}
	a := newTestAggregator(t, spec)

	a.OnTick(tick("BTC", 10, 1))
	a.OnTick(tick("BTC", 13, 1))
	if got, ok := a.Current("BTC", spec); !ok || math.Abs(got-11.5) > eps {
		t.Errorf("Expected mean of received samples 11.5, got %v (%v)", got, ok)
	}

	snap, _ := a.Snapshot("BTC")
	avg, _ := snap.Average("sma5")
	if avg.Ready() || avg.Samples != 2 {
		t.Errorf("Expected 2 samples, not ready, got %+v", avg)
	}
}

func TestConstantStream(t *testing.T) {
	sma := WindowSpec{Name: "sma", Kind: KindSMA, Size: 7}
	wma := WindowSpec{Name: "wma", Kind: KindWMA, Size: 7}
	a := newTestAggregator(t, sma, wma)

	for i := 0; i < 50; i++ {
		a.OnTick(tick("ETH", 7.5, 1))
	}
	for _, spec := range []WindowSpec{sma, wma} {
		if got, _ := a.Current("ETH", spec); math.Abs(got-7.5) > eps {
			t.Errorf("%s of constant stream = %v, want 7.5", spec, got)
		}
	}
}

func TestWMA_FavoursRecent(t *testing.T) {
	wma := WindowSpec{Name: "wma", Kind: KindWMA, Size: 5}
	sma := WindowSpec{Name: "sma", Kind: KindSMA, Size: 5}

	tests := []struct {
		name   string
		p1, p2 float64
	}{
		{"rising", 10, 20},
		{"falling", 20, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAggregator(t, wma, sma)
			a.OnTick(tick("BTC", tt.p1, 1))
			a.OnTick(tick("BTC", tt.p2, 1))

			w, _ := a.Current("BTC", wma)
			m, _ := a.Current("BTC", sma)
			if math.Abs(w-tt.p2) >= math.Abs(m-tt.p2) {
				t.Errorf("WMA %v should be closer to %v than mean %v", w, tt.p2, m)
			}
		})
	}
}

func TestWMA_AfterWrap(t *testing.T) {
	spec := WindowSpec{Name: "wma", Kind: KindWMA, Size: 3}
	a := newTestAggregator(t, spec)
	for _, p := range []float64{1, 2, 3, 4} {
		a.OnTick(tick("BTC", p, 1))
	}
	// window [2 3 4] weighted 1 2 3
	want := (2*1.0 + 3*2.0 + 4*3.0) / 6.0
	if got, _ := a.Current("BTC", spec); math.Abs(got-want) > eps {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestSnapshot_Stats(t *testing.T) {
	a := newTestAggregator(t, WindowSpec{Name: "sma", Kind: KindSMA, Size: 2})
	a.OnTick(tick("BTC", 100, 1))
	a.OnTick(tick("BTC", 90, 2))
	a.OnTick(tick("BTC", 95, 0.5))
	a.OnTick(tick("ETH", 5, 1))

	snap, ok := a.Snapshot("BTC")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snap.Volume != quant.ToQtySats(3.5) {
		t.Errorf("Expected volume 3.5, got %s", snap.Volume)
	}
	if snap.High != quant.ToPriceMicros(100) || snap.Low != quant.ToPriceMicros(90) || snap.Last != quant.ToPriceMicros(95) {
		t.Errorf("unexpected high/low/last %s/%s/%s", snap.High, snap.Low, snap.Last)
	}
	if snap.Ticks != 3 {
		t.Errorf("Expected 3 ticks, got %d", snap.Ticks)
	}
	if _, ok := a.Snapshot("DOGE"); ok {
		t.Error("unknown symbol should not have a snapshot")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		specs []WindowSpec
	}{
		{"empty", nil},
		{"zero size", []WindowSpec{{Name: "a", Kind: KindSMA}}},
		{"bad kind", []WindowSpec{{Name: "a", Size: 3}}},
		{"duplicate", []WindowSpec{{Name: "a", Kind: KindSMA, Size: 3}, {Name: "a", Kind: KindWMA, Size: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.specs); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAggregator_VolumeSaturates(t *testing.T) {
	spec := WindowSpec{Name: "sma3", Kind: KindSMA, Size: 3}
	a := newTestAggregator(t, spec)

	huge := domain.Tick{Symbol: "SHIB", Price: 10, Qty: quant.QtySats(5_000_000_000_000_000_000), Side: domain.SideBuy}
	a.OnTick(huge)
	a.OnTick(huge) // would overflow int64
	a.OnTick(domain.Tick{Symbol: "SHIB", Price: 40, Qty: 1, Side: domain.SideSell})

	snap, ok := a.Snapshot("SHIB")
	if !ok {
		t.Fatal("Expected snapshot")
	}
	if snap.Volume != quant.QtySats(math.MaxInt64) || !snap.VolumeCapped {
		t.Errorf("Expected capped volume, got %d capped=%v", snap.Volume, snap.VolumeCapped)
	}
	// Every tick is counted the same way by windows and statistics.
	avg, _ := snap.Average("sma3")
	if snap.Ticks != 3 || avg.Samples != 3 {
		t.Errorf("Expected 3 ticks and 3 samples, got %d and %d", snap.Ticks, avg.Samples)
	}
	if snap.Last != 40 || snap.High != 40 || snap.Low != 10 {
		t.Errorf("Unexpected stats last=%d high=%d low=%d", snap.Last, snap.High, snap.Low)
	}
	if math.Abs(avg.Value-20) > eps {
		t.Errorf("Expected SMA 20, got %f", avg.Value)
	}
}

func BenchmarkOnTick(b *testing.B) {
	a, _ := New([]WindowSpec{
		{Name: "fast", Kind: KindSMA, Size: 20},
		{Name: "slow", Kind: KindSMA, Size: 50},
		{Name: "wma", Kind: KindWMA, Size: 20},
	})
	tk := tick("BTC", 50000, 1)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tk.Price = quant.PriceMicros(50_000_000_000 + int64(i%1000)*1000)
		a.OnTick(tk)
	}
}
