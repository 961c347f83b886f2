package book

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

func testInstrument() domain.Instrument {
	return domain.Instrument{
		Symbol:   "BTC-USD",
		TickSize: quant.ToPriceMicros(0.01),
		LotSize:  quant.ToQtySats(1),
	}
}

func px(v float64) quant.PriceMicros { return quant.ToPriceMicros(v) }
func qty(v float64) quant.QtySats    { return quant.ToQtySats(v) }

func bookKind(err error) domain.BookErrorKind {
	var be *domain.BookError
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

func TestOrderBook_TopOfBookScenario(t *testing.T) {
	b := NewOrderBook(testInstrument(), nil)

	if err := b.ApplyAdd(domain.SideBid, px(100.00), qty(10)); err != nil {
		t.Fatalf("add bid: %v", err)
	}
	if err := b.ApplyAdd(domain.SideAsk, px(100.05), qty(5)); err != nil {
		t.Fatalf("add ask: %v", err)
	}
	if err := b.ApplyModify(domain.SideBid, px(100.00), qty(3)); err != nil {
		t.Fatalf("modify bid: %v", err)
	}

	top := b.TopOfBook()
	if !top.HasBid || !top.HasAsk {
		t.Fatalf("Expected both sides, got %+v", top)
	}
	if top.Bid.Price != px(100.00) || top.Bid.Qty != qty(3) {
		t.Errorf("Expected bid 100.00 @ 3, got %s @ %s", top.Bid.Price, top.Bid.Qty)
	}
	if top.Ask.Price != px(100.05) || top.Ask.Qty != qty(5) {
		t.Errorf("Expected ask 100.05 @ 5, got %s @ %s", top.Ask.Price, top.Ask.Qty)
	}
	if spread, _ := top.Spread(); spread != px(0.05) {
		t.Errorf("Expected spread 0.05, got %s", spread)
	}
}

func TestOrderBook_Ordering(t *testing.T) {
	b := NewOrderBook(testInstrument(), nil)
	for _, p := range []float64{99, 101, 100, 98} {
		_ = b.ApplyAdd(domain.SideBid, px(p), qty(1))
	}
	for _, p := range []float64{105, 103, 104} {
		_ = b.ApplyAdd(domain.SideAsk, px(p), qty(1))
	}

	d := b.Depth(0)
	wantBids := []float64{101, 100, 99, 98}
	wantAsks := []float64{103, 104, 105}
	for i, w := range wantBids {
		if d.Bids[i].Price != px(w) {
			t.Errorf("bid[%d] = %s, want %v", i, d.Bids[i].Price, w)
		}
	}
	for i, w := range wantAsks {
		if d.Asks[i].Price != px(w) {
			t.Errorf("ask[%d] = %s, want %v", i, d.Asks[i].Price, w)
		}
	}

	top2 := b.Depth(2)
	if len(top2.Bids) != 2 || len(top2.Asks) != 2 {
		t.Errorf("Depth(2) returned %d bids, %d asks", len(top2.Bids), len(top2.Asks))
	}
}

func TestOrderBook_AddAggregates(t *testing.T) {
	b := NewOrderBook(testInstrument(), nil)
	_ = b.ApplyAdd(domain.SideBid, px(100), qty(2))
	_ = b.ApplyAdd(domain.SideBid, px(100), qty(3))

	top := b.TopOfBook()
	if top.Bid.Qty != qty(5) || top.Bid.OrderCount != 2 {
		t.Errorf("Expected 5 across 2 orders, got %s across %d", top.Bid.Qty, top.Bid.OrderCount)
	}

	if err := b.ApplyCancel(domain.SideBid, px(100), qty(2)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	top = b.TopOfBook()
	if top.Bid.Qty != qty(3) || top.Bid.OrderCount != 1 {
		t.Errorf("Expected 3 across 1 order, got %s across %d", top.Bid.Qty, top.Bid.OrderCount)
	}

	if err := b.ApplyCancel(domain.SideBid, px(100), qty(3)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if bids, _ := b.Len(); bids != 0 {
		t.Errorf("Expected empty bid side, got %d levels", bids)
	}
}

func TestOrderBook_Errors(t *testing.T) {
	tests := []struct {
		name  string
		apply func(b *OrderBook) error
		kind  domain.BookErrorKind
	}{
		{"modify unknown level", func(b *OrderBook) error { return b.ApplyModify(domain.SideBid, px(50), qty(1)) }, domain.BookUnknownLevel},
		{"cancel unknown level", func(b *OrderBook) error { return b.ApplyCancel(domain.SideAsk, px(50), qty(1)) }, domain.BookUnknownLevel},
		{"cancel exceeds resting", func(b *OrderBook) error { return b.ApplyCancel(domain.SideBid, px(100), qty(11)) }, domain.BookNegativeQuantity},
		{"negative modify", func(b *OrderBook) error { return b.ApplyModify(domain.SideBid, px(100), -1) }, domain.BookNegativeQuantity},
		{"zero add", func(b *OrderBook) error { return b.ApplyAdd(domain.SideBid, px(99), 0) }, domain.BookInvalidDelta},
		{"off tick", func(b *OrderBook) error { return b.ApplyAdd(domain.SideBid, px(99.001), qty(1)) }, domain.BookInvalidDelta},
		{"off lot", func(b *OrderBook) error { return b.ApplyAdd(domain.SideBid, px(99), qty(1.5)) }, domain.BookInvalidDelta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewOrderBook(testInstrument(), nil)
			_ = b.ApplyAdd(domain.SideBid, px(100), qty(10))
			before := b.Depth(0)

			err := tt.apply(b)
			if got := bookKind(err); got != tt.kind {
				t.Fatalf("Expected %s, got %v", tt.kind, err)
			}
			after := b.Depth(0)
			if len(after.Bids) != len(before.Bids) || after.Bids[0] != before.Bids[0] {
				t.Errorf("book changed on rejected delta: %+v -> %+v", before, after)
			}
		})
	}
}

func TestOrderBook_CrossedResets(t *testing.T) {
	b := NewOrderBook(testInstrument(), nil)
	_ = b.ApplyAdd(domain.SideBid, px(100), qty(1))
	_ = b.ApplyAdd(domain.SideAsk, px(101), qty(1))

	err := b.ApplyAdd(domain.SideBid, px(101), qty(1))
	if bookKind(err) != domain.BookCrossed {
		t.Fatalf("Expected crossed error, got %v", err)
	}
	bids, asks := b.Len()
	if bids != 0 || asks != 0 {
		t.Errorf("Expected empty book after cross, got %d bids / %d asks", bids, asks)
	}
	top := b.TopOfBook()
	if top.HasBid || top.HasAsk {
		t.Errorf("Expected empty top of book, got %+v", top)
	}
}

func TestOrderBook_SnapshotIsCopy(t *testing.T) {
	b := NewOrderBook(testInstrument(), nil)
	_ = b.ApplyAdd(domain.SideBid, px(100), qty(1))
	b.ApplyTrade(px(100), qty(1))

	snap := b.Snapshot(10)
	snap.Bids[0].Qty = qty(999)

	if b.TopOfBook().Bid.Qty != qty(1) {
		t.Error("mutating a snapshot must not affect the book")
	}
	if snap.LastPrice != px(100) || snap.Version == 0 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

// Random deltas must never leave a zero level or break side ordering.
func TestOrderBook_InvariantsUnderRandomDeltas(t *testing.T) {
	b := NewOrderBook(testInstrument(), nil)
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 5000; i++ {
		side := domain.SideBid
		base := 90.0
		if r.IntN(2) == 0 {
			side = domain.SideAsk
			base = 101.0
		}
		price := px(base + float64(r.IntN(10)))
		q := qty(float64(1 + r.IntN(5)))
		switch r.IntN(3) {
		case 0:
			_ = b.ApplyAdd(side, price, q)
		case 1:
			_ = b.ApplyModify(side, price, q)
		case 2:
			_ = b.ApplyCancel(side, price, q)
		}
	}

	d := b.Depth(0)
	for i, lvl := range d.Bids {
		if lvl.Qty <= 0 {
			t.Fatalf("bid level %s has qty %s", lvl.Price, lvl.Qty)
		}
		if i > 0 && lvl.Price >= d.Bids[i-1].Price {
			t.Fatalf("bids not strictly descending at %d", i)
		}
	}
	for i, lvl := range d.Asks {
		if lvl.Qty <= 0 {
			t.Fatalf("ask level %s has qty %s", lvl.Price, lvl.Qty)
		}
		if i > 0 && lvl.Price <= d.Asks[i-1].Price {
			t.Fatalf("asks not strictly ascending at %d", i)
		}
	}
	if top := b.TopOfBook(); top.HasBid && top.HasAsk && top.Bid.Price >= top.Ask.Price {
		t.Fatalf("book crossed: %+v", top)
	}
}

func TestOrderBook_ConcurrentReaders(t *testing.T) {
	b := NewOrderBook(testInstrument(), nil)
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					snap := b.Snapshot(5)
					if top := snap.Top(); top.HasBid && top.HasAsk && top.Bid.Price >= top.Ask.Price {
						t.Error("reader observed crossed snapshot")
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		_ = b.ApplyAdd(domain.SideBid, px(float64(90+i%5)), qty(1))
		_ = b.ApplyAdd(domain.SideAsk, px(float64(100+i%5)), qty(1))
		_ = b.ApplyCancel(domain.SideBid, px(float64(90+i%5)), qty(1))
	}
	close(done)
	wg.Wait()
}

func TestManager(t *testing.T) {
	reg, err := domain.NewInstrumentRegistry([]domain.Instrument{testInstrument()})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	m := NewManager(reg, nil)

	b1, err := m.Book("BTC-USD")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	b2, _ := m.Book("BTC-USD")
	if b1 != b2 {
		t.Error("Book should return the same instance")
	}
	if _, err := m.Book("ETH-USD"); !errors.Is(err, domain.ErrUnknownInstrument) {
		t.Errorf("Expected ErrUnknownInstrument, got %v", err)
	}

	_ = b1.ApplyAdd(domain.SideBid, px(100), qty(1))
	m.ResetAll()
	if bids, _ := b1.Len(); bids != 0 {
		t.Error("ResetAll should empty every book")
	}
	if len(m.Snapshots(5)) != 1 {
		t.Error("Expected one snapshot")
	}
}

func BenchmarkOrderBook_ApplyAdd(b *testing.B) {
	ob := NewOrderBook(testInstrument(), nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ob.ApplyAdd(domain.SideBid, quant.PriceMicros(int64(90_000_000+(i%100)*10_000)), qty(1))
	}
}
