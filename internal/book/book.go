// Package book maintains aggregated price-level order books.
package book

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
	"hft_go/pkg/safe"
)

const btreeDegree = 32

// PriceLevel is the aggregate resting quantity at one price.
type PriceLevel struct {
	Price      quant.PriceMicros `json:"price"`
	Qty        quant.QtySats     `json:"qty"`
	OrderCount int               `json:"order_count"`
}

// TopOfBook is the best level on each side. A side is absent when its Has flag is false.
type TopOfBook struct {
	Symbol string
	Bid    PriceLevel
	Ask    PriceLevel
	HasBid bool
	HasAsk bool
}

// Spread returns ask - bid, or false if either side is empty.
func (t TopOfBook) Spread() (quant.PriceMicros, bool) {
	if !t.HasBid || !t.HasAsk {
		return 0, false
	}
	return t.Ask.Price - t.Bid.Price, true
}

// Mid returns the midpoint, or false if either side is empty.
func (t TopOfBook) Mid() (quant.PriceMicros, bool) {
	if !t.HasBid || !t.HasAsk {
		return 0, false
	}
	return (t.Bid.Price + t.Ask.Price) / 2, true
}

// Depth holds the best n levels per side. Bids are descending, asks ascending.
type Depth struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Snapshot is a point-in-time copy of a book.
type Snapshot struct {
	Depth

	Symbol    string            `json:"symbol"`
	Version   uint64            `json:"version"`
	LastPrice quant.PriceMicros `json:"last_price"`
	LastQty   quant.QtySats     `json:"last_qty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Top returns the best levels of the snapshot.
func (s Snapshot) Top() TopOfBook {
	t := TopOfBook{Symbol: s.Symbol}
	if len(s.Bids) > 0 {
		t.Bid, t.HasBid = s.Bids[0], true
	}
	if len(s.Asks) > 0 {
		t.Ask, t.HasAsk = s.Asks[0], true
	}
	return t
}

// OrderBook is the bid/ask ladder of one instrument.
//
// Writes come from a single engine shard; the RWMutex lets strategy and
// monitoring readers take consistent copies concurrently.
type OrderBook struct {
	mu   sync.RWMutex
	inst domain.Instrument
	bids *btree.Map[quant.PriceMicros, PriceLevel]
	asks *btree.Map[quant.PriceMicros, PriceLevel]

	version   uint64
	lastPrice quant.PriceMicros
	lastQty   quant.QtySats
	updatedAt time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewOrderBook creates an empty book for inst.
func NewOrderBook(inst domain.Instrument, logger *slog.Logger) *OrderBook {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderBook{
		inst:   inst,
		bids:   btree.NewMap[quant.PriceMicros, PriceLevel](btreeDegree),
		asks:   btree.NewMap[quant.PriceMicros, PriceLevel](btreeDegree),
		now:    time.Now,
		logger: logger.With(slog.String("symbol", inst.Symbol)),
	}
}

func (b *OrderBook) Symbol() string { return b.inst.Symbol }

func (b *OrderBook) side(s domain.Side) *btree.Map[quant.PriceMicros, PriceLevel] {
	if s == domain.SideAsk {
		return b.asks
	}
	return b.bids
}

func (b *OrderBook) bookErr(kind domain.BookErrorKind, side domain.Side, price quant.PriceMicros, format string, args ...any) *domain.BookError {
	return &domain.BookError{
		Kind:   kind,
		Symbol: b.inst.Symbol,
		Side:   side,
		Price:  price,
		Detail: fmt.Sprintf(format, args...),
	}
}

func (b *OrderBook) checkDelta(side domain.Side, price quant.PriceMicros, qty quant.QtySats) error {
	switch {
	case !side.Valid():
		return b.bookErr(domain.BookInvalidDelta, side, price, "invalid side")
	case price <= 0:
		return b.bookErr(domain.BookInvalidDelta, side, price, "non-positive price")
	case qty <= 0:
		return b.bookErr(domain.BookInvalidDelta, side, price, "non-positive quantity %s", qty)
	case !b.inst.OnTick(price):
		return b.bookErr(domain.BookInvalidDelta, side, price, "price off tick size %s", b.inst.TickSize)
	case !b.inst.OnLot(qty):
		return b.bookErr(domain.BookInvalidDelta, side, price, "quantity %s off lot size %s", qty, b.inst.LotSize)
	}
	return nil
}

// ApplyAdd adds qty at price, creating the level if needed.
func (b *OrderBook) ApplyAdd(side domain.Side, price quant.PriceMicros, qty quant.QtySats) error {
	if err := b.checkDelta(side, price, qty); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.side(side)
	lvl, ok := levels.Get(price)
	if !ok {
		lvl = PriceLevel{Price: price}
	}
	sum, ok := safe.Add(int64(lvl.Qty), int64(qty))
	if !ok {
		return b.bookErr(domain.BookInvalidDelta, side, price, "quantity overflow")
	}
	lvl.Qty = quant.QtySats(sum)
	lvl.OrderCount++
	levels.Set(price, lvl)
	b.touch()

	return b.checkCrossedLocked()
}

// ApplyModify replaces the quantity of an existing level. A zero quantity
// removes the level.
func (b *OrderBook) ApplyModify(side domain.Side, price quant.PriceMicros, newQty quant.QtySats) error {
	if newQty < 0 {
		return b.bookErr(domain.BookNegativeQuantity, side, price, "new quantity %s", newQty)
	}
	if newQty > 0 {
		if err := b.checkDelta(side, price, newQty); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.side(side)
	lvl, ok := levels.Get(price)
	if !ok {
		return b.bookErr(domain.BookUnknownLevel, side, price, "modify")
	}
	if newQty == 0 {
		levels.Delete(price)
	} else {
		lvl.Qty = newQty
		levels.Set(price, lvl)
	}
	b.touch()

	return b.checkCrossedLocked()
}

// ApplyCancel removes qty from an existing level. Cancelling more than rests
// leaves the book unchanged.
func (b *OrderBook) ApplyCancel(side domain.Side, price quant.PriceMicros, qty quant.QtySats) error {
	if qty <= 0 {
		return b.bookErr(domain.BookInvalidDelta, side, price, "non-positive quantity %s", qty)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.side(side)
	lvl, ok := levels.Get(price)
	if !ok {
		return b.bookErr(domain.BookUnknownLevel, side, price, "cancel")
	}
	if qty > lvl.Qty {
		return b.bookErr(domain.BookNegativeQuantity, side, price, "cancel %s exceeds resting %s", qty, lvl.Qty)
	}
	lvl.Qty -= qty
	if lvl.Qty == 0 {
		levels.Delete(price)
	} else {
		if lvl.OrderCount > 1 {
			lvl.OrderCount--
		}
		levels.Set(price, lvl)
	}
	b.touch()
	return nil
}

// ApplyTrade records the last trade. Levels are left to the explicit deltas
// that follow it.
func (b *OrderBook) ApplyTrade(price quant.PriceMicros, qty quant.QtySats) {
	b.mu.Lock()
	b.lastPrice = price
	b.lastQty = qty
	b.touch()
	b.mu.Unlock()
}

func (b *OrderBook) touch() {
	b.version++
	b.updatedAt = b.now()
}

// checkCrossedLocked resets the book if best bid >= best ask.
func (b *OrderBook) checkCrossedLocked() error {
	bid, _, okBid := b.bids.Max()
	ask, _, okAsk := b.asks.Min()
	if !okBid || !okAsk || bid < ask {
		return nil
	}
	b.logger.Warn("BOOK_CROSSED",
		slog.String("best_bid", bid.String()),
		slog.String("best_ask", ask.String()),
		slog.Uint64("version", b.version))
	b.resetLocked()
	return b.bookErr(domain.BookCrossed, domain.SideBid, bid, "best bid %s >= best ask %s", bid, ask)
}

// Reset empties both sides.
func (b *OrderBook) Reset() {
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()
}

func (b *OrderBook) resetLocked() {
	b.bids.Clear()
	b.asks.Clear()
	b.touch()
}

// TopOfBook returns the best bid and ask.
func (b *OrderBook) TopOfBook() TopOfBook {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t := TopOfBook{Symbol: b.inst.Symbol}
	if _, lvl, ok := b.bids.Max(); ok {
		t.Bid, t.HasBid = lvl, true
	}
	if _, lvl, ok := b.asks.Min(); ok {
		t.Ask, t.HasAsk = lvl, true
	}
	return t
}

// Depth returns up to n levels per side. n <= 0 returns every level.
func (b *OrderBook) Depth(n int) Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthLocked(n)
}

func (b *OrderBook) depthLocked(n int) Depth {
	d := Depth{
		Bids: collect(b.bids.Reverse, b.bids.Len(), n),
		Asks: collect(b.asks.Scan, b.asks.Len(), n),
	}
	return d
}

func collect(walk func(func(quant.PriceMicros, PriceLevel) bool), size, n int) []PriceLevel {
	if n <= 0 || n > size {
		n = size
	}
	out := make([]PriceLevel, 0, n)
	walk(func(_ quant.PriceMicros, lvl PriceLevel) bool {
		if len(out) == n {
			return false
		}
		out = append(out, lvl)
		return true
	})
	return out
}

// Snapshot copies up to n levels per side together with the last trade.
func (b *OrderBook) Snapshot(n int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Symbol:    b.inst.Symbol,
		Depth:     b.depthLocked(n),
		Version:   b.version,
		LastPrice: b.lastPrice,
		LastQty:   b.lastQty,
		UpdatedAt: b.updatedAt,
	}
}

// Len returns the number of bid and ask levels.
func (b *OrderBook) Len() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}
