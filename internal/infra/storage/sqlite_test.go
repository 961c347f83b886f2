package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadInstruments(t *testing.T) {
	s := setupTestDB(t)

	insts := []domain.Instrument{
		{Symbol: "ETH-USD", TickSize: 10_000, LotSize: 100_000},
		{Symbol: "BTC-USD", TickSize: 10_000, LotSize: 10_000},
	}
	// 1. Create
	if err := s.SaveInstruments(insts); err != nil {
		t.Fatalf("SaveInstruments failed: %v", err)
	}

	// 2. Update one
	insts[1].TickSize = 100_000
	if err := s.SaveInstruments(insts[1:]); err != nil {
		t.Fatalf("SaveInstruments update failed: %v", err)
	}

	loaded, err := s.LoadInstruments()
	if err != nil {
		t.Fatalf("LoadInstruments failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(loaded))
	}
	if loaded[0].Symbol != "BTC-USD" || loaded[0].TickSize != 100_000 {
		t.Errorf("unexpected first instrument: %+v", loaded[0])
	}

	got, ok, err := s.GetInstrument("ETH-USD")
	if err != nil || !ok {
		t.Fatalf("GetInstrument failed: ok=%v err=%v", ok, err)
	}
	if got.LotSize != 100_000 {
		t.Errorf("expected lot size 100000, got %d", got.LotSize)
	}

	if _, ok, err := s.GetInstrument("NOPE"); ok || err != nil {
		t.Errorf("expected not found without error, got ok=%v err=%v", ok, err)
	}
}

func TestOrderHistory(t *testing.T) {
	s := setupTestDB(t)
	id := "6f1c2b1e-4a0d-4c39-9a43-2e0b8f2d7c11"
	events := []domain.OrderEvent{
		{CorrelationID: id, Symbol: "BTC-USD", Side: domain.SideBuy, Price: quant.ToPriceMicros(100), Qty: quant.ToQtySats(1), Status: domain.OrderStatusSent, At: 1},
		{CorrelationID: "other", Symbol: "BTC-USD", Side: domain.SideSell, Status: domain.OrderStatusSent, At: 2},
		{CorrelationID: id, Symbol: "BTC-USD", Side: domain.SideBuy, Price: quant.ToPriceMicros(100), Qty: quant.ToQtySats(1), Status: domain.OrderStatusFilled, At: 3},
	}
	if err := s.InsertOrderEvents(events); err != nil {
		t.Fatalf("InsertOrderEvents failed: %v", err)
	}

	hist, err := s.OrderHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 events, got %d", len(hist))
	}
	if hist[0].Status != domain.OrderStatusSent || hist[1].Status != domain.OrderStatusFilled {
		t.Errorf("unexpected order of statuses: %s, %s", hist[0].Status, hist[1].Status)
	}
	if hist[1] != events[2] {
		t.Errorf("round trip mismatch: %+v != %+v", hist[1], events[2])
	}
}

func TestJournal_FlushOnShutdown(t *testing.T) {
	s := setupTestDB(t)
	j := NewJournal(s, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go j.Run(ctx)

	for i := 0; i < 5; i++ {
		j.Record(domain.OrderEvent{CorrelationID: "c", Symbol: "BTC-USD", Status: domain.OrderStatusSent, At: quant.TimeStamp(i)})
	}
	cancel()
	j.Wait()

	n, err := s.CountOrderEvents()
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || j.Written() != 5 {
		t.Errorf("expected 5 events written, got db=%d written=%d", n, j.Written())
	}
}

func TestJournal_DropsWhenFull(t *testing.T) {
	s := setupTestDB(t)
	j := NewJournal(s, 2, nil) // not running, so nothing drains

	for i := 0; i < 5; i++ {
		j.Record(domain.OrderEvent{CorrelationID: "c", At: quant.TimeStamp(i)})
	}
	if j.Dropped() != 3 {
		t.Errorf("expected 3 dropped, got %d", j.Dropped())
	}
}

func TestJournal_PeriodicFlush(t *testing.T) {
	s := setupTestDB(t)
	j := NewJournal(s, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		j.Wait()
	}()
	go j.Run(ctx)

	j.Record(domain.OrderEvent{CorrelationID: "c", Status: domain.OrderStatusAcked})

	deadline := time.Now().Add(2 * time.Second)
	for j.Written() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event was not flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
