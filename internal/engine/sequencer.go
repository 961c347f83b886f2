package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"hft_go/internal/book"
	"hft_go/internal/domain"
	"hft_go/internal/event"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
	"hft_go/pkg/safe"
)

// Sequencer is one engine shard: a single goroutine that is the only writer
// of the books and aggregator windows of the instruments hashed to it.
type Sequencer struct {
	id      int
	e       *Engine
	inbox   chan *event.Event
	enqSeq  atomic.Uint64
	nextSeq uint64
	epoch   uint64
	symbols []string
	touched map[string]struct{}
	logger  *slog.Logger

	markets map[string]*domain.MarketState
	mu      sync.RWMutex // Used only for external reads of markets
}

func newSequencer(id int, e *Engine) *Sequencer {
	return &Sequencer{
		id:      id,
		e:       e,
		inbox:   make(chan *event.Event, e.cfg.InboxSize),
		nextSeq: 1,
		touched: make(map[string]struct{}),
		markets: make(map[string]*domain.MarketState),
		logger:  e.logger.With(slog.Int("shard", id)),
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Debug("Sequencer started", slog.Int("instruments", len(s.symbols)))
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Sequencer stopping...")
			return
		case ev := <-s.inbox:
			s.runBatch(ev)
		}
	}
}

// runBatch applies first plus whatever is already queued, up to BatchSize,
// then lets the strategy look at every instrument the batch touched.
func (s *Sequencer) runBatch(first *event.Event) {
	s.safeProcess(first)
	for i := 1; i < s.e.cfg.BatchSize; i++ {
		select {
		case ev := <-s.inbox:
			s.safeProcess(ev)
		default:
			i = s.e.cfg.BatchSize
		}
	}
	s.safeEvaluate()
}

func (s *Sequencer) safeProcess(ev *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Uint64("seq", ev.Seq))
			s.e.deps.Metrics.RecordPanic()
			s.DumpState(s.dumpPath())
			// Skip the poisoned event and keep serving the other instruments.
			s.nextSeq = ev.Seq + 1
		}
		event.Release(ev)
	}()
	s.processEvent(ev)
}

func (s *Sequencer) processEvent(ev *event.Event) {
	// 1. Sequence Gap Check
	if ev.Seq != s.nextSeq {
		panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.Seq))
	}

	// 2. Logic Dispatch
	switch ev.Type {
	case event.TypeReset:
		s.reset(ev.Epoch)
	case event.TypeMarketData:
		if ev.Epoch != s.epoch {
			s.e.deps.Metrics.RecordStaleDrop()
			break
		}
		s.apply(&ev.Msg)
		if ev.ReceivedNs > 0 {
			s.e.deps.Metrics.RecordEvent(time.Now().UnixNano() - ev.ReceivedNs)
		}
	default:
		s.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}

	// 3. Increment Sequence
	s.nextSeq++
}

func (s *Sequencer) reset(epoch uint64) {
	s.epoch = epoch
	n := 0
	for _, sym := range s.symbols {
		if b, ok := s.e.deps.Books.Get(sym); ok {
			b.Reset()
			s.e.deps.Metrics.RecordBookReset()
			n++
		}
	}
	clear(s.touched)
	s.logger.Info("BOOKS_RESET", slog.Uint64("epoch", epoch), slog.Int("books", n))
}

func (s *Sequencer) apply(msg *wire.Message) {
	b, err := s.e.deps.Books.Book(msg.Symbol)
	if err != nil {
		s.logger.Warn("UNKNOWN_INSTRUMENT", slog.String("symbol", msg.Symbol))
		return
	}

	switch msg.Type {
	case wire.MsgBookAdd:
		err = b.ApplyAdd(msg.Side, msg.Price, msg.Qty)
	case wire.MsgBookModify:
		err = b.ApplyModify(msg.Side, msg.Price, msg.Qty)
	case wire.MsgBookCancel:
		err = b.ApplyCancel(msg.Side, msg.Price, msg.Qty)
	case wire.MsgBookClear:
		b.Reset()
		s.e.deps.Metrics.RecordBookReset()
	case wire.MsgTrade:
		b.ApplyTrade(msg.Price, msg.Qty)
		tick := domain.Tick{Symbol: msg.Symbol, Price: msg.Price, Qty: msg.Qty, Side: msg.Side, Time: msg.Time}
		if s.e.deps.Aggregator != nil {
			s.e.deps.Aggregator.OnTick(tick)
		}
		s.handleTrade(tick, msg.Seq)
	}
	if err != nil {
		s.onBookError(err)
	}
	s.touched[msg.Symbol] = struct{}{}
}

func (s *Sequencer) onBookError(err error) {
	var be *domain.BookError
	if !errors.As(err, &be) {
		s.logger.Error("BOOK_APPLY_FAILED", slog.Any("error", err))
		return
	}
	s.e.deps.Metrics.RecordBookViolation()
	switch {
	case be.ForcesResync():
		s.logger.Error("BOOK_INTEGRITY",
			slog.String("symbol", be.Symbol),
			slog.String("kind", be.Kind.String()),
			slog.Any("error", err))
		if s.e.deps.Resync != nil {
			s.e.deps.Resync.RequestResync(err)
		}
	case be.Kind == domain.BookCrossed:
		// The book has already logged and reset itself.
		s.e.deps.Metrics.RecordBookReset()
	default:
		s.logger.Warn("BOOK_DELTA_REJECTED", slog.String("symbol", be.Symbol), slog.Any("error", err))
	}
}

func (s *Sequencer) handleTrade(t domain.Tick, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.markets[t.Symbol]
	if !ok {
		state = &domain.MarketState{Symbol: t.Symbol}
		s.markets[t.Symbol] = state
	}
	total, ok := safe.SaturatingAdd(int64(state.TotalQtySats), int64(t.Qty))
	if !ok && !state.VolumeCapped {
		s.logger.Warn("VOLUME_SATURATED", slog.String("symbol", t.Symbol), slog.Uint64("seq", seq))
	}
	state.PriceMicros = t.Price
	state.TotalQtySats = quant.QtySats(total)
	state.VolumeCapped = state.VolumeCapped || !ok
	state.LastUpdateUnixM = t.Time
	state.LastSeq = seq
}

func (s *Sequencer) safeEvaluate() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.String("stage", "strategy"))
			s.e.deps.Metrics.RecordPanic()
			s.DumpState(s.dumpPath())
			clear(s.touched)
		}
	}()
	s.evaluate()
}

func (s *Sequencer) evaluate() {
	strat := s.e.deps.Strategy
	if strat == nil || len(s.touched) == 0 {
		clear(s.touched)
		return
	}
	for sym := range s.touched {
		delete(s.touched, sym)
		b, ok := s.e.deps.Books.Get(sym)
		if !ok {
			continue
		}
		bs := b.Snapshot(s.e.cfg.DepthLevels)
		var intents []domain.OrderIntent
		if s.e.deps.Aggregator != nil {
			as, _ := s.e.deps.Aggregator.Snapshot(sym)
			intents = strat.Evaluate(bs, as)
		}
		for _, in := range intents {
			s.e.route(routedIntent{intent: in, ref: referencePrice(bs)})
		}
	}
}

// referencePrice values an order at the last trade, or the mid when the
// instrument has not traded yet.
func referencePrice(bs book.Snapshot) quant.PriceMicros {
	if bs.LastPrice > 0 {
		return bs.LastPrice
	}
	if mid, ok := bs.Top().Mid(); ok {
		return mid
	}
	return 0
}

// GetMarketState returns a snapshot of the market state (external read).
func (s *Sequencer) GetMarketState(symbol string) (domain.MarketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.markets[symbol]
	if !ok {
		return domain.MarketState{}, false
	}
	return *state, true // Return copy
}

func (s *Sequencer) dumpPath() string {
	return filepath.Join(s.e.cfg.DumpDir, fmt.Sprintf("panic_dump_shard%d.json", s.id))
}

// DumpState writes the shard's internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	books := make([]book.Snapshot, 0, len(s.symbols))
	for _, sym := range s.symbols {
		if b, ok := s.e.deps.Books.Get(sym); ok {
			books = append(books, b.Snapshot(0))
		}
	}

	s.mu.RLock()
	data := struct {
		Shard   int                            `json:"shard"`
		NextSeq uint64                         `json:"next_seq"`
		Epoch   uint64                         `json:"epoch"`
		Markets map[string]*domain.MarketState `json:"markets"`
		Books   []book.Snapshot                `json:"books"`
	}{
		Shard:   s.id,
		NextSeq: s.nextSeq,
		Epoch:   s.epoch,
		Markets: s.markets,
		Books:   books,
	}
	b, err := json.MarshalIndent(data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
