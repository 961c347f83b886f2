package engine

import (
	"context"
	"testing"

	"hft_go/internal/domain"
	"hft_go/internal/event"
	"hft_go/internal/infra"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
)

func benchEngine(b *testing.B, inbox int) *Engine {
	b.Helper()
	reg, err := domain.NewInstrumentRegistry([]domain.Instrument{
		{Symbol: "BTC-USD", TickSize: quant.ToPriceMicros(0.01), LotSize: quant.ToQtySats(0.001)},
	})
	if err != nil {
		b.Fatal(err)
	}
	return New(Config{Shards: 1, InboxSize: inbox, DumpDir: b.TempDir()}, Deps{
		Registry: reg,
		Metrics:  infra.NewMetrics(),
	})
}

// BenchmarkSequencer_ProcessEvent measures the hot path of one shard.
func BenchmarkSequencer_ProcessEvent(b *testing.B) {
	e := benchEngine(b, 16)
	sh := e.shards[0]

	ev := event.Acquire()
	ev.Type = event.TypeMarketData
	ev.Msg = wire.Message{Type: wire.MsgTrade, Symbol: "BTC-USD", Side: domain.SideBuy,
		Price: quant.ToPriceMicros(50000), Qty: quant.ToQtySats(1), Time: 1000}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ev.Seq = uint64(i + 1)
		sh.nextSeq = uint64(i + 1) // Align sequence to avoid gap panic
		sh.processEvent(ev)
	}

	event.Release(ev)
}

// BenchmarkEngine_FullPipeline includes pooling and channel overhead.
func BenchmarkEngine_FullPipeline(b *testing.B) {
	e := benchEngine(b, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	e.OnSessionActive(1)

	msg := &wire.Message{Type: wire.MsgBookAdd, Symbol: "BTC-USD", Side: domain.SideBid, Qty: quant.ToQtySats(1)}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		msg.Price = quant.PriceMicros(int64(1+i%500) * 10_000)
		e.OnMessage(1, msg)
	}

	b.StopTimer()
	cancel()
	<-done
}
