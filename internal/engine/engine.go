// Package engine routes inbound market data to per-instrument shards and
// turns the resulting book and tick state into risk-checked orders.
package engine

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hft_go/internal/aggregator"
	"hft_go/internal/book"
	"hft_go/internal/domain"
	"hft_go/internal/event"
	"hft_go/internal/gateway"
	"hft_go/internal/infra"
	"hft_go/internal/risk"
	"hft_go/internal/strategy"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
)

// OrderGateway is the part of the gateway the engine drives.
type OrderGateway interface {
	Submit(ctx context.Context, intent domain.OrderIntent) (gateway.PendingOrder, error)
	OnExecutionReport(m *wire.Message) (bool, error)
	ExpireTimeouts(now time.Time) int
	Evict(now time.Time) int
}

// RiskChecker approves or trims intents.
type RiskChecker interface {
	Evaluate(intent domain.OrderIntent, refPrice quant.PriceMicros) risk.Decision
}

// Resyncer drops the session so books can be rebuilt from a fresh snapshot.
type Resyncer interface {
	RequestResync(cause error)
}

// Config sizes the shards and the order path.
type Config struct {
	Shards              int
	InboxSize           int
	BatchSize           int
	DepthLevels         int // book depth handed to strategies
	IntentBuffer        int
	SubmitTimeout       time.Duration
	MaintenanceInterval time.Duration
	DumpDir             string
}

func (c *Config) applyDefaults() {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = 10
	}
	if c.IntentBuffer <= 0 {
		c.IntentBuffer = 256
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 100 * time.Millisecond
	}
	if c.DumpDir == "" {
		c.DumpDir = "."
	}
}

// Deps are the collaborators of the engine. Gateway and Resync may be bound
// later with Bind, since both usually wrap the session that feeds the engine.
type Deps struct {
	Registry   *domain.InstrumentRegistry
	Books      *book.Manager
	Aggregator *aggregator.Aggregator
	Strategy   strategy.Strategy
	Risk       RiskChecker
	Gateway    OrderGateway
	Resync     Resyncer
	Metrics    *infra.Metrics
	Logger     *slog.Logger
}

type routedIntent struct {
	intent domain.OrderIntent
	ref    quant.PriceMicros
}

// Engine fans session traffic out to shards. It implements session.Handler.
type Engine struct {
	cfg  Config
	deps Deps

	shards  []*Sequencer
	epoch   atomic.Uint64
	intents chan routedIntent
	stopped chan struct{}
	stopOne sync.Once
	logger  *slog.Logger
}

// New builds the engine and assigns every registered instrument to a shard.
func New(cfg Config, deps Deps) *Engine {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = infra.NewMetrics()
	}
	if deps.Books == nil {
		deps.Books = book.NewManager(deps.Registry, deps.Logger)
	}
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		intents: make(chan routedIntent, cfg.IntentBuffer),
		stopped: make(chan struct{}),
		logger:  deps.Logger.With(slog.String("module", "engine")),
	}
	e.shards = make([]*Sequencer, cfg.Shards)
	for i := range e.shards {
		e.shards[i] = newSequencer(i, e)
	}
	for _, sym := range deps.Registry.Symbols() {
		sh := e.shardFor(sym)
		sh.symbols = append(sh.symbols, sym)
	}
	return e
}

// Bind sets the collaborators that depend on the session. Call before Run.
func (e *Engine) Bind(gw OrderGateway, rs Resyncer) {
	e.deps.Gateway = gw
	e.deps.Resync = rs
}

func shardIndex(symbol string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

func (e *Engine) shardFor(symbol string) *Sequencer {
	return e.shards[shardIndex(symbol, len(e.shards))]
}

// Run starts the shards, the order router and the maintenance timer, and
// blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	event.Warmup()
	e.logger.Info("Engine started", slog.Int("shards", len(e.shards)))

	var wg sync.WaitGroup
	for _, sh := range e.shards {
		wg.Add(1)
		go func(sh *Sequencer) {
			defer wg.Done()
			sh.Run(ctx)
		}(sh)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runRouter(ctx)
	}()

	ticker := time.NewTicker(e.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stopOne.Do(func() { close(e.stopped) })
			wg.Wait()
			e.logger.Info("Engine stopped")
			return nil
		case now := <-ticker.C:
			e.maintain(now)
		}
	}
}

func (e *Engine) maintain(now time.Time) {
	gw := e.deps.Gateway
	if gw == nil {
		return
	}
	if n := gw.ExpireTimeouts(now); n > 0 {
		e.logger.Warn("ORDERS_TIMED_OUT", slog.Int("count", n))
	}
	gw.Evict(now)
}

// OnSessionActive starts a new epoch: every shard empties its books before
// it sees any message of the new connection.
func (e *Engine) OnSessionActive(epoch uint64) {
	e.epoch.Store(epoch)
	for _, sh := range e.shards {
		ev := event.Acquire()
		ev.Type = event.TypeReset
		ev.Epoch = epoch
		e.enqueue(sh, ev)
	}
}

// OnMessage routes market data to the owning shard and execution reports
// straight to the gateway.
func (e *Engine) OnMessage(epoch uint64, msg *wire.Message) {
	switch {
	case msg.Type == wire.MsgExecReport:
		if e.deps.Gateway == nil {
			return
		}
		if _, err := e.deps.Gateway.OnExecutionReport(msg); err != nil {
			e.logger.Warn("EXEC_REPORT_ERROR", slog.Any("error", err))
		}
	case msg.Type.IsMarketData():
		if _, ok := e.deps.Registry.Get(msg.Symbol); !ok {
			e.logger.Warn("UNKNOWN_INSTRUMENT", slog.String("symbol", msg.Symbol), slog.String("type", msg.Type.String()))
			return
		}
		ev := event.Acquire()
		ev.Type = event.TypeMarketData
		ev.Epoch = epoch
		ev.ReceivedNs = time.Now().UnixNano()
		ev.Msg = *msg
		e.enqueue(e.shardFor(msg.Symbol), ev)
	}
}

func (e *Engine) enqueue(sh *Sequencer, ev *event.Event) {
	ev.Seq = sh.enqSeq.Add(1)
	select {
	case sh.inbox <- ev:
	case <-e.stopped:
		event.Release(ev)
	}
}

// GetMarketState returns a copy of the last trade state of symbol.
func (e *Engine) GetMarketState(symbol string) (domain.MarketState, bool) {
	return e.shardFor(symbol).GetMarketState(symbol)
}

// Books exposes the book manager for read-only consumers.
func (e *Engine) Books() *book.Manager { return e.deps.Books }

func (e *Engine) route(ri routedIntent) {
	select {
	case e.intents <- ri:
	default:
		e.logger.Warn("INTENT_DROPPED",
			slog.String("symbol", ri.intent.Symbol),
			slog.String("side", ri.intent.Side.String()),
			slog.String("reason", "router queue full"))
	}
}

// runRouter owns the path from intent to gateway. It runs apart from the
// session goroutine, which the gateway waits on while sending.
func (e *Engine) runRouter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ri := <-e.intents:
			e.routeIntent(ctx, ri)
		}
	}
}

func (e *Engine) routeIntent(ctx context.Context, ri routedIntent) {
	intent := ri.intent
	if e.deps.Risk != nil {
		d := e.deps.Risk.Evaluate(ri.intent, ri.ref)
		if !d.Approved {
			e.deps.Metrics.RecordRiskRejection()
			e.logger.Warn("RISK_REJECTED",
				slog.String("symbol", intent.Symbol),
				slog.String("side", intent.Side.String()),
				slog.String("qty", intent.Qty.String()),
				slog.String("reason", d.Reason))
			return
		}
		intent = d.Intent
	}
	if e.deps.Gateway == nil {
		e.logger.Warn("INTENT_DROPPED", slog.String("symbol", intent.Symbol), slog.String("reason", "no gateway"))
		return
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()
	po, err := e.deps.Gateway.Submit(sctx, intent)
	if err != nil {
		e.logger.Warn("ORDER_SUBMIT_FAILED",
			slog.String("symbol", intent.Symbol),
			slog.String("correlation_id", po.CorrelationID),
			slog.Any("error", err))
	}
}
