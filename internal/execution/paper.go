// Package execution holds order executors that stand in for the exchange.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"hft_go/internal/domain"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
	"hft_go/pkg/safe"
)

// ReportFunc receives execution reports. gateway.Gateway.OnExecutionReport fits.
type ReportFunc func(m *wire.Message) (bool, error)

// Paper fills every order immediately at its limit price against local
// balances, so strategies can run on live market data without trading.
//
// Cash (quote assets) is kept in micros, holdings (base assets) in sats.
type Paper struct {
	mu       sync.Mutex
	cash     map[string]int64
	holdings map[string]int64
	fills    []domain.Fill

	reports chan *wire.Message
	report  ReportFunc
	logger  *slog.Logger
}

// NewPaper creates an executor with empty balances. buffer bounds the
// number of undelivered reports.
func NewPaper(buffer int, logger *slog.Logger) *Paper {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paper{
		cash:     make(map[string]int64),
		holdings: make(map[string]int64),
		reports:  make(chan *wire.Message, buffer),
		logger:   logger.With(slog.String("module", "paper")),
	}
}

// Bind sets the report receiver. Call before Run.
func (p *Paper) Bind(fn ReportFunc) { p.report = fn }

// DepositCash credits a quote asset.
func (p *Paper) DepositCash(asset string, amount quant.PriceMicros) {
	p.mu.Lock()
	p.cash[asset] = safe.SafeAdd(p.cash[asset], int64(amount))
	p.mu.Unlock()
}

// DepositHoldings credits a base asset.
func (p *Paper) DepositHoldings(asset string, qty quant.QtySats) {
	p.mu.Lock()
	p.holdings[asset] = safe.SafeAdd(p.holdings[asset], int64(qty))
	p.mu.Unlock()
}

// Cash returns the balance of a quote asset.
func (p *Paper) Cash(asset string) quant.PriceMicros {
	p.mu.Lock()
	defer p.mu.Unlock()
	return quant.PriceMicros(p.cash[asset])
}

// Holdings returns the balance of a base asset.
func (p *Paper) Holdings(asset string) quant.QtySats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return quant.QtySats(p.holdings[asset])
}

// Fills returns a copy of every fill so far.
func (p *Paper) Fills() []domain.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Fill(nil), p.fills...)
}

// SplitSymbol splits "BASE-QUOTE" (or "BASE/QUOTE").
func SplitSymbol(symbol string) (base, quote string, err error) {
	i := strings.IndexAny(symbol, "-/")
	if i <= 0 || i == len(symbol)-1 {
		return "", "", fmt.Errorf("%w: %q is not BASE-QUOTE", domain.ErrInvalidSymbol, symbol)
	}
	return symbol[:i], symbol[i+1:], nil
}

// notional returns price*qty in quote micros.
func notional(price quant.PriceMicros, qty quant.QtySats) (int64, bool) {
	v, ok := safe.Mul(int64(price), int64(qty))
	if !ok {
		return 0, false
	}
	return safe.SafeDiv(v, 1e8), true
}

// Send implements gateway.Sender.
func (p *Paper) Send(ctx context.Context, m *wire.Message) error {
	switch m.Type {
	case wire.MsgNewOrder:
		reports := p.execute(m)
		for _, r := range reports {
			if err := p.enqueue(ctx, r); err != nil {
				return err
			}
		}
		return nil
	case wire.MsgCancelOrder:
		// Orders fill on arrival, so there is never anything left to cancel.
		return p.enqueue(ctx, p.reply(m, wire.ExecReject, "order already filled"))
	}
	return fmt.Errorf("paper: cannot send %s", m.Type)
}

func (p *Paper) reply(m *wire.Message, exec wire.ExecType, text string) *wire.Message {
	return &wire.Message{
		Type:          wire.MsgExecReport,
		Time:          m.Time,
		CorrelationID: m.CorrelationID,
		Symbol:        m.Symbol,
		Side:          m.Side,
		Price:         m.Price,
		Qty:           m.Qty,
		ExecType:      exec,
		Text:          text,
	}
}

func (p *Paper) execute(m *wire.Message) []*wire.Message {
	base, quote, err := SplitSymbol(m.Symbol)
	if err != nil {
		return []*wire.Message{p.reply(m, wire.ExecReject, err.Error())}
	}
	cost, ok := notional(m.Price, m.Qty)
	if !ok {
		return []*wire.Message{p.reply(m, wire.ExecReject, "notional overflow")}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch m.Side {
	case domain.SideBuy:
		if p.cash[quote] < cost {
			return []*wire.Message{p.reply(m, wire.ExecReject, "insufficient "+quote+" balance")}
		}
		p.cash[quote] = safe.SafeSub(p.cash[quote], cost)
		p.holdings[base] = safe.SafeAdd(p.holdings[base], int64(m.Qty))
	case domain.SideSell:
		if p.holdings[base] < int64(m.Qty) {
			return []*wire.Message{p.reply(m, wire.ExecReject, "insufficient "+base+" balance")}
		}
		p.holdings[base] = safe.SafeSub(p.holdings[base], int64(m.Qty))
		p.cash[quote] = safe.SafeAdd(p.cash[quote], cost)
	default:
		return []*wire.Message{p.reply(m, wire.ExecReject, "invalid side")}
	}

	p.fills = append(p.fills, domain.Fill{
		CorrelationID: m.CorrelationID,
		Symbol:        m.Symbol,
		Side:          m.Side,
		Price:         m.Price,
		Qty:           m.Qty,
	})
	p.logger.Info("PAPER_FILL",
		slog.String("correlation_id", m.CorrelationID),
		slog.String("symbol", m.Symbol),
		slog.String("side", m.Side.String()),
		slog.String("price", m.Price.String()),
		slog.String("qty", m.Qty.String()))
	return []*wire.Message{p.reply(m, wire.ExecAck, ""), p.reply(m, wire.ExecFill, "")}
}

func (p *Paper) enqueue(ctx context.Context, r *wire.Message) error {
	select {
	case p.reports <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers reports until ctx is cancelled. Reports are delivered on this
// goroutine, never inside Send, because the gateway calls Send itself.
func (p *Paper) Run(ctx context.Context) error {
	if p.report == nil {
		return errors.New("paper: no report receiver bound")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-p.reports:
			if _, err := p.report(r); err != nil {
				p.logger.Warn("EXEC_REPORT_ERROR", slog.String("correlation_id", r.CorrelationID), slog.Any("error", err))
			}
		}
	}
}
