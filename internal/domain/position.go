package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hft_go/pkg/quant"
	"hft_go/pkg/safe"
)

// Position is the net holding in one instrument. Qty is signed: positive is long.
type Position struct {
	Symbol      string          `json:"symbol"`
	Qty         quant.QtySats   `json:"qty"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Notional returns |Qty| * price.
func (p *Position) Notional(price quant.PriceMicros) decimal.Decimal {
	return p.Qty.Decimal().Abs().Mul(price.Decimal())
}

// Apply books a fill. Increasing trades move the average price; reducing trades
// realize PnL against it. Panics on quantity overflow.
func (p *Position) Apply(side Side, price quant.PriceMicros, qty quant.QtySats) {
	delta := int64(qty)
	if side == SideSell {
		delta = -delta
	}
	cur := int64(p.Qty)
	next := safe.SafeAdd(cur, delta)
	px := price.Decimal()

	if cur == 0 || (cur > 0) == (delta > 0) {
		curAbs := decimal.New(abs(cur), -quant.QtyScale)
		addAbs := decimal.New(abs(delta), -quant.QtyScale)
		p.AvgPrice = p.AvgPrice.Mul(curAbs).Add(px.Mul(addAbs)).Div(curAbs.Add(addAbs))
	} else {
		closed := min(abs(cur), abs(delta))
		pnl := px.Sub(p.AvgPrice).Mul(decimal.New(closed, -quant.QtyScale))
		if cur < 0 {
			pnl = pnl.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnl)
		switch {
		case next == 0:
			p.AvgPrice = decimal.Zero
		case (next > 0) != (cur > 0):
			p.AvgPrice = px
		}
	}
	p.Qty = quant.QtySats(next)
}

// VerifyInvariant panics if the position is internally inconsistent.
func (p *Position) VerifyInvariant() {
	if p.Qty == 0 && !p.AvgPrice.IsZero() {
		panic(fmt.Sprintf("POSITION_INVARIANT_FLAT_WITH_PRICE: %s avg=%s", p.Symbol, p.AvgPrice))
	}
	if p.AvgPrice.IsNegative() {
		panic(fmt.Sprintf("POSITION_INVARIANT_NEGATIVE_PRICE: %s avg=%s", p.Symbol, p.AvgPrice))
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
