package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hft_go/internal/aggregator"
	"hft_go/internal/book"
	"hft_go/internal/domain"
	"hft_go/internal/engine"
	"hft_go/internal/execution"
	"hft_go/internal/gateway"
	"hft_go/internal/infra"
	"hft_go/internal/infra/auth"
	"hft_go/internal/infra/storage"
	"hft_go/internal/risk"
	"hft_go/internal/session"
	"hft_go/internal/strategy"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config   *infra.Config
	Logger   *slog.Logger
	Metrics  *infra.Metrics
	Storage  *storage.Storage // nil when storage is disabled
	Journal  *storage.Journal
	Registry *domain.InstrumentRegistry
	Risk     *risk.Manager
	Engine   *engine.Engine
	Gateway  *gateway.Gateway
	Session  *session.Session
	Paper    *execution.Paper // set in paper mode
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization: config, logger, storage.
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	slog.Info("Bootstrapping", slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version))

	b.Metrics = infra.NewMetrics()

	// 3. Initialize Storage (DB)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		b.Journal = storage.NewJournal(store, cfg.Storage.JournalBuffer, b.Logger)
		slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))
	}
	return nil
}

// Build wires the trading components. Initialize must have succeeded.
func (b *Bootstrap) Build() error {
	cfg := b.Config

	// 4. Instrument registry
	var repo domain.InstrumentRepository
	if b.Storage != nil {
		repo = b.Storage
	}
	instruments, err := loadInstruments(cfg, repo)
	if err != nil {
		return err
	}
	b.Registry, err = domain.NewInstrumentRegistry(instruments)
	if err != nil {
		return &domain.ConfigError{Field: "instruments", Err: err}
	}

	// 5. Books, aggregator, strategy, risk
	books := book.NewManager(b.Registry, b.Logger)
	agg, err := newAggregator(cfg.MarketData.Windows)
	if err != nil {
		return err
	}
	strat, err := newStrategy(cfg)
	if err != nil {
		return err
	}
	b.Risk, err = risk.NewManager(risk.Config{
		MaxPosition:     cfg.Risk.MaxPosition,
		MaxLossPerTrade: cfg.Risk.MaxLossPerTrade,
		StopLossPct:     cfg.Risk.StopLossPct,
		InitialCapital:  cfg.Risk.InitialCapital,
	}, b.Registry, b.Logger)
	if err != nil {
		return err
	}

	// 6. Engine (the session handler)
	b.Engine = engine.New(engine.Config{
		Shards:              cfg.Engine.Shards,
		InboxSize:           cfg.Engine.InboxSize,
		BatchSize:           cfg.Engine.BatchSize,
		DepthLevels:         cfg.MarketData.DepthLevels,
		IntentBuffer:        cfg.Engine.IntentBuffer,
		SubmitTimeout:       cfg.Engine.SubmitTimeout,
		MaintenanceInterval: cfg.Engine.MaintenanceInterval,
		DumpDir:             cfg.Engine.DumpDir,
	}, engine.Deps{
		Registry:   b.Registry,
		Books:      books,
		Aggregator: agg,
		Strategy:   strat,
		Risk:       b.Risk,
		Metrics:    b.Metrics,
		Logger:     b.Logger,
	})

	// 7. Session
	protocol, err := wire.ParseProtocol(cfg.Exchange.Protocol)
	if err != nil {
		return &domain.ConfigError{Field: "exchange.protocol", Err: err}
	}
	wireOpts := codecOptions(cfg)
	codec, err := wire.NewCodec(protocol, wireOpts...)
	if err != nil {
		return err
	}
	dialer, err := session.NewDialer(cfg.Exchange.Endpoint, cfg.Exchange.DialTimeout)
	if err != nil {
		return err
	}
	signer := auth.NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Passphrase)
	b.Session = session.New(session.Config{
		HeartbeatInterval:  cfg.Session.HeartbeatInterval,
		HeartbeatTolerance: cfg.Session.HeartbeatTolerance,
		LogonTimeout:       cfg.Session.LogonTimeout,
		LogoutTimeout:      cfg.Session.LogoutTimeout,
		MaxRetries:         cfg.Session.MaxRetries,
		BackoffBase:        cfg.Session.BackoffBase,
		BackoffMax:         cfg.Session.BackoffMax,
		BackoffJitter:      cfg.Session.BackoffJitter,
		SequenceCheck:      cfg.Session.SequenceCheck,
		WriteTimeout:       cfg.Session.WriteTimeout,
	}, dialer, codec, b.Engine,
		session.WithMetrics(b.Metrics),
		session.WithLogger(b.Logger),
		session.WithFrameOptions(wireOpts...),
		session.WithCredentials(func(ts quant.TimeStamp) (string, string) {
			return signer.APIKey(), signer.Sign(ts)
		}))

	// 8. Gateway, sending through the session or the paper executor
	var sender gateway.Sender = b.Session
	if cfg.Exchange.Paper {
		b.Paper, err = newPaper(cfg, b.Registry, b.Logger)
		if err != nil {
			return err
		}
		sender = b.Paper
	}
	gwOpts := []gateway.Option{
		gateway.WithFillListener(b.Risk),
		gateway.WithMetrics(b.Metrics),
		gateway.WithLogger(b.Logger),
	}
	if b.Journal != nil {
		gwOpts = append(gwOpts, gateway.WithJournal(b.Journal))
	}
	b.Gateway = gateway.New(gateway.Config{
		ResponseTimeout: cfg.Gateway.ResponseTimeout,
		Retention:       cfg.Gateway.Retention,
		MaxHistory:      cfg.Gateway.MaxHistory,
	}, sender, b.Registry, gwOpts...)
	if b.Paper != nil {
		b.Paper.Bind(b.Gateway.OnExecutionReport)
	}

	b.Engine.Bind(b.Gateway, b.Session)

	slog.Info("Components wired",
		slog.Int("instruments", b.Registry.Len()),
		slog.String("protocol", string(protocol)),
		slog.String("strategy", cfg.Strategy.Name),
		slog.Bool("paper", b.Paper != nil))
	return nil
}

// Run starts every component and blocks until ctx is cancelled or the
// session fails for good. On cancellation the session logs out first.
func (b *Bootstrap) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	if b.Journal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Journal.Run(runCtx)
		}()
	}
	if b.Paper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Paper.Run(runCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Engine.Run(runCtx)
	}()

	sessErr := make(chan error, 1)
	go func() { sessErr <- b.Session.Run(runCtx) }()

	var err error
	select {
	case err = <-sessErr:
		if err != nil {
			slog.Error("SESSION_FAILED", slog.Any("error", err))
		}
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		b.Session.Logout()
		select {
		case err = <-sessErr:
		case <-time.After(b.Config.Session.LogoutTimeout + time.Second):
			cancel()
			err = <-sessErr
		}
	}

	cancel()
	wg.Wait()
	b.logSummary()
	if b.Storage != nil {
		if cerr := b.Storage.Close(); cerr != nil {
			slog.Warn("Failed to close database", slog.Any("error", cerr))
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bootstrap) logSummary() {
	snap := b.Metrics.Snapshot()
	attrs := []any{
		slog.Int("open_orders", len(b.Gateway.Open())),
		slog.String("capital", b.Risk.Capital().StringFixed(2)),
		slog.Uint64("events", snap.EventsProcessed),
		slog.Uint64("orders_submitted", snap.OrdersSubmitted),
		slog.Uint64("orders_filled", snap.OrdersFilled),
		slog.Uint64("reconnects", snap.Reconnects),
	}
	if b.Journal != nil {
		attrs = append(attrs, slog.Uint64("journal_written", b.Journal.Written()),
			slog.Uint64("journal_dropped", b.Journal.Dropped()))
	}
	if b.Paper != nil {
		attrs = append(attrs, slog.Int("paper_fills", len(b.Paper.Fills())))
	}
	slog.Info("Shutdown summary", attrs...)
}

// loadInstruments merges stored instruments with the configured ones. The
// config wins on conflicts and is written back.
func loadInstruments(cfg *infra.Config, repo domain.InstrumentRepository) ([]domain.Instrument, error) {
	configured, err := cfg.DomainInstruments()
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return configured, nil
	}

	stored, err := repo.LoadInstruments()
	if err != nil {
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	if err := repo.SaveInstruments(configured); err != nil {
		return nil, fmt.Errorf("save instruments: %w", err)
	}

	seen := make(map[string]bool, len(configured))
	for _, inst := range configured {
		seen[inst.Symbol] = true
	}
	out := configured
	for _, inst := range stored {
		if !seen[inst.Symbol] {
			out = append(out, inst)
		}
	}
	return out, nil
}

func newAggregator(windows []infra.WindowConfig) (*aggregator.Aggregator, error) {
	specs := make([]aggregator.WindowSpec, 0, len(windows))
	for _, w := range windows {
		kind, err := aggregator.ParseKind(w.Kind)
		if err != nil {
			return nil, &domain.ConfigError{Field: "market_data.windows", Err: err}
		}
		specs = append(specs, aggregator.WindowSpec{Name: w.Name, Kind: kind, Size: w.Size})
	}
	agg, err := aggregator.New(specs)
	if err != nil {
		return nil, &domain.ConfigError{Field: "market_data.windows", Err: err}
	}
	return agg, nil
}

func newStrategy(cfg *infra.Config) (strategy.Strategy, error) {
	if cfg.Strategy.Name == "none" {
		return nil, nil
	}
	qty, err := quant.ParseQtySats(cfg.Strategy.Qty.String())
	if err != nil {
		return nil, &domain.ConfigError{Field: "strategy.qty", Err: err}
	}
	switch cfg.Strategy.Name {
	case "sma_cross":
		return strategy.NewSMACrossStrategy(cfg.Strategy.Fast, cfg.Strategy.Slow, qty)
	case "price_sma":
		return strategy.NewPriceVsSMAStrategy(cfg.Strategy.Window, qty)
	}
	return nil, &domain.ConfigError{Field: "strategy.name", Err: fmt.Errorf("unknown strategy %q", cfg.Strategy.Name)}
}

// newPaper funds every quote asset of the registry with the initial capital.
func newPaper(cfg *infra.Config, registry *domain.InstrumentRegistry, logger *slog.Logger) (*execution.Paper, error) {
	capital, err := quant.ParsePriceMicros(cfg.Risk.InitialCapital.String())
	if err != nil {
		return nil, &domain.ConfigError{Field: "risk.initial_capital", Err: err}
	}
	p := execution.NewPaper(0, logger)
	funded := make(map[string]bool)
	for _, inst := range registry.All() {
		_, quote, err := execution.SplitSymbol(inst.Symbol)
		if err != nil {
			return nil, &domain.ConfigError{Field: "instruments", Err: err}
		}
		if !funded[quote] {
			p.DepositCash(quote, capital)
			funded[quote] = true
		}
	}
	return p, nil
}

func codecOptions(cfg *infra.Config) []wire.Option {
	var opts []wire.Option
	if cfg.Exchange.MaxPayload > 0 {
		opts = append(opts, wire.WithMaxPayload(cfg.Exchange.MaxPayload))
	}
	if cfg.Exchange.FIXBeginString != "" {
		opts = append(opts, wire.WithFIXBeginString(cfg.Exchange.FIXBeginString))
	}
	if d := cfg.Exchange.FIXDelimiter; d != "" {
		opts = append(opts, wire.WithFIXDelimiter(d[0]))
	}
	return opts
}
