// Package risk approves, trims or rejects order intents against position,
// loss and capital limits.
package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// Config holds the limits. Zero disables the corresponding check, except
// InitialCapital which must be positive.
type Config struct {
	MaxPosition     decimal.Decimal // absolute net position per instrument, in units
	MaxLossPerTrade decimal.Decimal // quote currency
	StopLossPct     decimal.Decimal // fraction of notional at risk per trade, e.g. 0.02
	InitialCapital  decimal.Decimal
}

// Decision is the outcome of Evaluate. A rejection is not an error.
type Decision struct {
	Approved bool
	Intent   domain.OrderIntent // possibly with a reduced quantity
	Adjusted bool
	Reason   string
}

// Manager tracks positions and capital. Evaluate is called by the order
// router, OnFill by the gateway; both may run concurrently.
type Manager struct {
	cfg      Config
	maxPos   quant.QtySats
	registry *domain.InstrumentRegistry
	logger   *slog.Logger

	mu        sync.RWMutex
	positions map[string]*domain.Position
	realized  decimal.Decimal
}

// NewManager validates cfg.
func NewManager(cfg Config, registry *domain.InstrumentRegistry, logger *slog.Logger) (*Manager, error) {
	if !cfg.InitialCapital.IsPositive() {
		return nil, errors.New("risk: initial capital must be positive")
	}
	if cfg.MaxPosition.IsNegative() || cfg.MaxLossPerTrade.IsNegative() || cfg.StopLossPct.IsNegative() {
		return nil, errors.New("risk: limits must not be negative")
	}
	if cfg.StopLossPct.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("risk: stop loss percentage must be a fraction")
	}
	maxPos, err := quant.ParseQtySats(cfg.MaxPosition.String())
	if err != nil {
		return nil, fmt.Errorf("risk: max position: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		maxPos:    maxPos,
		registry:  registry,
		logger:    logger,
		positions: make(map[string]*domain.Position),
	}, nil
}

func reject(intent domain.OrderIntent, format string, args ...any) Decision {
	return Decision{Intent: intent, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate checks intent at refPrice. A refPrice of zero falls back to the
// intent's limit price.
func (m *Manager) Evaluate(intent domain.OrderIntent, refPrice quant.PriceMicros) Decision {
	inst, err := m.registry.Lookup(intent.Symbol)
	if err != nil {
		return reject(intent, "%v", err)
	}
	if err := intent.Validate(inst); err != nil {
		return reject(intent, "invalid intent: %v", err)
	}
	if refPrice <= 0 {
		refPrice = intent.Price
	}

	m.mu.RLock()
	var cur int64
	if p, ok := m.positions[intent.Symbol]; ok {
		cur = int64(p.Qty)
	}
	capital := m.cfg.InitialCapital.Add(m.realized)
	m.mu.RUnlock()

	d := Decision{Approved: true, Intent: intent}
	qty := int64(intent.Qty)

	if m.maxPos > 0 {
		limit := int64(m.maxPos)
		potential := cur + qty
		if intent.Side == domain.SideSell {
			potential = cur - qty
		}
		if abs(potential) > limit {
			allowed := limit - cur // how many can we buy
			if intent.Side == domain.SideSell {
				allowed = limit + cur // how many can we sell
			}
			allowed = max(allowed, 0)
			if lot := int64(inst.LotSize); lot > 0 {
				allowed -= allowed % lot
			}
			if allowed == 0 {
				return reject(intent, "position limit %s reached (current %s)", m.maxPos, quant.QtySats(cur))
			}
			qty = allowed
			d.Intent.Qty = quant.QtySats(qty)
			d.Adjusted = true
			m.logger.Warn("RISK_QTY_REDUCED",
				slog.String("symbol", intent.Symbol),
				slog.String("requested", intent.Qty.String()),
				slog.String("allowed", d.Intent.Qty.String()))
		}
	}

	notional := d.Intent.Qty.Decimal().Mul(refPrice.Decimal())
	if m.cfg.MaxLossPerTrade.IsPositive() {
		if loss := notional.Mul(m.cfg.StopLossPct); loss.GreaterThan(m.cfg.MaxLossPerTrade) {
			return reject(intent, "potential loss %s exceeds max loss per trade %s", loss.StringFixed(2), m.cfg.MaxLossPerTrade)
		}
	}

	after := cur + qty
	if intent.Side == domain.SideSell {
		after = cur - qty
	}
	if abs(after) > abs(cur) {
		next := domain.Position{Symbol: intent.Symbol, Qty: quant.QtySats(after)}
		exposure := next.Notional(refPrice)
		if exposure.GreaterThan(capital) {
			return reject(intent, "exposure %s exceeds capital %s", exposure.StringFixed(2), capital.StringFixed(2))
		}
	}
	return d
}

// OnFill updates the position and capital with an execution.
func (m *Manager) OnFill(f domain.Fill) {
	m.mu.Lock()
	p, ok := m.positions[f.Symbol]
	if !ok {
		p = &domain.Position{Symbol: f.Symbol}
		m.positions[f.Symbol] = p
	}
	before := p.RealizedPnL
	p.Apply(f.Side, f.Price, f.Qty)
	p.VerifyInvariant()
	m.realized = m.realized.Add(p.RealizedPnL.Sub(before))
	pos := *p
	capital := m.cfg.InitialCapital.Add(m.realized)
	m.mu.Unlock()

	m.logger.Info("RISK_POSITION",
		slog.String("symbol", pos.Symbol),
		slog.String("qty", pos.Qty.String()),
		slog.String("avg_price", pos.AvgPrice.String()),
		slog.String("realized_pnl", pos.RealizedPnL.String()),
		slog.String("capital", capital.String()))
}

// Position returns a copy of the position in symbol.
func (m *Manager) Position(symbol string) domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.positions[symbol]; ok {
		return *p
	}
	return domain.Position{Symbol: symbol}
}

// Capital returns initial capital plus realized PnL.
func (m *Manager) Capital() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.InitialCapital.Add(m.realized)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
