// Package gateway tracks outbound orders from submission to a terminal status.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hft_go/internal/domain"
	"hft_go/internal/infra"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
)

// Sender writes an encoded message to the exchange. The session implements it.
type Sender interface {
	Send(ctx context.Context, m *wire.Message) error
}

// Config bounds order lifetimes.
type Config struct {
	ResponseTimeout time.Duration // Sent -> TimedOut when no response arrives
	Retention       time.Duration // how long terminal orders stay queryable
	MaxHistory      int           // hard cap on retained terminal orders
}

// PendingOrder is a copy of an order's state.
type PendingOrder struct {
	CorrelationID string
	Symbol        string
	Side          domain.Side
	Price         quant.PriceMicros
	Qty           quant.QtySats
	Status        domain.OrderStatus
	Reason        string
	SubmittedAt   time.Time
	Deadline      time.Time
	FinishedAt    time.Time
}

// order holds the immutable request plus the atomically updated status.
type order struct {
	intent      domain.OrderIntent
	id          string
	submittedAt time.Time
	deadline    time.Time

	status     atomic.Int32
	reason     atomic.Pointer[string]
	finishedAt atomic.Int64 // unix nanos, set once on the terminal transition
}

func (o *order) view() PendingOrder {
	p := PendingOrder{
		CorrelationID: o.id,
		Symbol:        o.intent.Symbol,
		Side:          o.intent.Side,
		Price:         o.intent.Price,
		Qty:           o.intent.Qty,
		Status:        domain.OrderStatus(o.status.Load()),
		SubmittedAt:   o.submittedAt,
		Deadline:      o.deadline,
	}
	if r := o.reason.Load(); r != nil {
		p.Reason = *r
	}
	if ns := o.finishedAt.Load(); ns != 0 {
		p.FinishedAt = time.Unix(0, ns)
	}
	return p
}

type finished struct {
	id string
	at time.Time
}

// Gateway owns every PendingOrder. Status changes are single compare-and-swap
// operations, so a late ack and a timeout can race without reopening an order.
type Gateway struct {
	cfg      Config
	sender   Sender
	registry *domain.InstrumentRegistry
	journal  domain.OrderJournal
	fills    domain.FillListener
	metrics  *infra.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	orders   map[string]*order
	terminal []finished // eviction queue in finishing order
}

// Option configures optional collaborators.
type Option func(*Gateway)

// WithJournal records every transition.
func WithJournal(j domain.OrderJournal) Option {
	return func(g *Gateway) { g.journal = j }
}

// WithFillListener is notified of fills, typically the risk manager.
func WithFillListener(l domain.FillListener) Option {
	return func(g *Gateway) { g.fills = l }
}

// WithMetrics counts transitions.
func WithMetrics(m *infra.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func New(cfg Config, sender Sender, registry *domain.InstrumentRegistry, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		sender:   sender,
		registry: registry,
		metrics:  infra.NewMetrics(),
		logger:   slog.Default(),
		now:      time.Now,
		orders:   make(map[string]*order),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("module", "gateway"))
	return g
}

// Submit registers a new order, marks it Sent and writes it to the exchange.
// The order is Sent before the write so that an ack racing the write still
// finds it. A failed write rejects the order.
func (g *Gateway) Submit(ctx context.Context, intent domain.OrderIntent) (PendingOrder, error) {
	inst, err := g.registry.Lookup(intent.Symbol)
	if err != nil {
		return PendingOrder{}, &domain.GatewayError{Kind: domain.GatewayInvalidIntent, Err: err}
	}
	if err := intent.Validate(inst); err != nil {
		return PendingOrder{}, &domain.GatewayError{Kind: domain.GatewayInvalidIntent, Err: err}
	}

	now := g.now()
	o := &order{
		intent:      intent,
		id:          uuid.NewString(),
		submittedAt: now,
		deadline:    now.Add(g.cfg.ResponseTimeout),
	}
	o.status.Store(int32(domain.OrderStatusNew))

	g.mu.Lock()
	g.orders[o.id] = o
	g.mu.Unlock()
	g.record(o, domain.OrderStatusNew, "")

	g.transition(o, domain.OrderStatusSent, "", domain.OrderStatusNew)

	msg := &wire.Message{
		Type:          wire.MsgNewOrder,
		Time:          quant.FromTime(now),
		CorrelationID: o.id,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Price:         intent.Price,
		Qty:           intent.Qty,
	}
	if err := g.sender.Send(ctx, msg); err != nil {
		g.transition(o, domain.OrderStatusRejected, "send failed: "+err.Error(), domain.OrderStatusSent)
		return o.view(), &domain.GatewayError{Kind: domain.GatewaySendFailed, CorrelationID: o.id, Err: err}
	}
	return o.view(), nil
}

// OnExecutionReport applies an exchange response. It reports whether the
// order's status changed; duplicates and responses to terminal orders are no-ops.
func (g *Gateway) OnExecutionReport(m *wire.Message) (bool, error) {
	o, ok := g.lookup(m.CorrelationID)
	if !ok {
		return false, &domain.GatewayError{Kind: domain.GatewayUnknownCorrelation, CorrelationID: m.CorrelationID}
	}

	switch m.ExecType {
	case wire.ExecAck:
		return g.transition(o, domain.OrderStatusAcked, "", domain.OrderStatusSent), nil
	case wire.ExecFill:
		if !g.transition(o, domain.OrderStatusFilled, "", domain.OrderStatusSent, domain.OrderStatusAcked) {
			return false, nil
		}
		if g.fills != nil {
			g.fills.OnFill(domain.Fill{
				CorrelationID: o.id,
				Symbol:        o.intent.Symbol,
				Side:          o.intent.Side,
				Price:         m.Price,
				Qty:           m.Qty,
			})
		}
		return true, nil
	case wire.ExecReject:
		return g.transition(o, domain.OrderStatusRejected, m.Text, domain.OrderStatusSent, domain.OrderStatusAcked), nil
	case wire.ExecCancelled:
		return g.transition(o, domain.OrderStatusCancelled, m.Text, domain.OrderStatusSent, domain.OrderStatusAcked), nil
	}
	return false, errors.New("gateway: unknown exec type " + m.ExecType.String())
}

// Cancel asks the exchange to cancel a live order. The status only changes
// when the exchange confirms.
func (g *Gateway) Cancel(ctx context.Context, correlationID string) error {
	o, ok := g.lookup(correlationID)
	if !ok {
		return &domain.GatewayError{Kind: domain.GatewayUnknownCorrelation, CorrelationID: correlationID}
	}
	if !domain.OrderStatus(o.status.Load()).IsOpen() {
		return &domain.GatewayError{Kind: domain.GatewayNotOpen, CorrelationID: correlationID}
	}
	msg := &wire.Message{
		Type:          wire.MsgCancelOrder,
		Time:          quant.FromTime(g.now()),
		CorrelationID: correlationID,
		Symbol:        o.intent.Symbol,
	}
	if err := g.sender.Send(ctx, msg); err != nil {
		return &domain.GatewayError{Kind: domain.GatewaySendFailed, CorrelationID: correlationID, Err: err}
	}
	return nil
}

// ExpireTimeouts moves Sent orders whose response deadline has passed to
// TimedOut and returns how many were expired. Orders are never re-sent.
func (g *Gateway) ExpireTimeouts(now time.Time) int {
	g.mu.RLock()
	var due []*order
	for _, o := range g.orders {
		if domain.OrderStatus(o.status.Load()) == domain.OrderStatusSent && !now.Before(o.deadline) {
			due = append(due, o)
		}
	}
	g.mu.RUnlock()

	expired := 0
	for _, o := range due {
		if g.transition(o, domain.OrderStatusTimedOut, "no response", domain.OrderStatusSent) {
			expired++
		}
	}
	return expired
}

// Evict drops terminal orders older than the retention window, and the oldest
// ones beyond MaxHistory. It returns the number evicted.
func (g *Gateway) Evict(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for len(g.terminal) > 0 {
		head := g.terminal[0]
		overCap := g.cfg.MaxHistory > 0 && len(g.terminal) > g.cfg.MaxHistory
		if !overCap && now.Sub(head.at) < g.cfg.Retention {
			break
		}
		delete(g.orders, head.id)
		g.terminal = g.terminal[1:]
		n++
	}
	return n
}

// Get returns a copy of the order.
func (g *Gateway) Get(correlationID string) (PendingOrder, bool) {
	o, ok := g.lookup(correlationID)
	if !ok {
		return PendingOrder{}, false
	}
	return o.view(), true
}

// Open returns copies of all Sent or Acked orders.
func (g *Gateway) Open() []PendingOrder {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []PendingOrder
	for _, o := range g.orders {
		if domain.OrderStatus(o.status.Load()).IsOpen() {
			out = append(out, o.view())
		}
	}
	return out
}

// Len returns the number of tracked orders, terminal ones included.
func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.orders)
}

func (g *Gateway) lookup(id string) (*order, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.orders[id]
	return o, ok
}

// transition moves o to `to` if its current status is one of from.
// Exactly one caller wins for any given order state.
func (g *Gateway) transition(o *order, to domain.OrderStatus, reason string, from ...domain.OrderStatus) bool {
	var prev domain.OrderStatus
	won := false
	for _, f := range from {
		if o.status.CompareAndSwap(int32(f), int32(to)) {
			prev, won = f, true
			break
		}
	}
	if !won {
		return false
	}

	if reason != "" {
		o.reason.Store(&reason)
	}
	if to.IsTerminal() {
		now := g.now()
		o.finishedAt.Store(now.UnixNano())
		g.mu.Lock()
		g.terminal = append(g.terminal, finished{id: o.id, at: now})
		g.mu.Unlock()
	}

	g.metrics.RecordOrderStatus(to)
	g.record(o, to, reason)
	g.logger.Info("ORDER_STATUS",
		slog.String("correlation_id", o.id),
		slog.String("symbol", o.intent.Symbol),
		slog.String("from", prev.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason))
	return true
}

func (g *Gateway) record(o *order, status domain.OrderStatus, reason string) {
	if g.journal == nil {
		return
	}
	g.journal.Record(domain.OrderEvent{
		CorrelationID: o.id,
		Symbol:        o.intent.Symbol,
		Side:          o.intent.Side,
		Price:         o.intent.Price,
		Qty:           o.intent.Qty,
		Status:        status,
		Reason:        reason,
		At:            quant.FromTime(g.now()),
	})
}
