package domain

import (
	"strings"

	"hft_go/pkg/quant"
)

// Side is the book side of a level, or the direction of an order or trade.
type Side uint8

const (
	SideBid Side = iota + 1
	SideAsk

	SideBuy  = SideBid
	SideSell = SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "BUY"
	case SideAsk:
		return "SELL"
	default:
		return "NONE"
	}
}

// Valid reports whether s is one of the two sides.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// ParseSide accepts the spellings used by the wire formats.
func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(v) {
	case "1", "B", "BUY", "BID":
		return SideBid, true
	case "2", "S", "SELL", "ASK":
		return SideAsk, true
	}
	return 0, false
}

// Tick is one executed trade reported by the exchange. Immutable once created.
type Tick struct {
	Symbol string
	Price  quant.PriceMicros
	Qty    quant.QtySats
	Side   Side // aggressor side
	Time   quant.TimeStamp
}

// MarketState holds the last trade seen for a single market.
// Fields are ordered for cache-line efficiency: hot fields (price/qty) first.
type MarketState struct {
	// Hot fields (frequently accessed together in the hotpath)
	PriceMicros     quant.PriceMicros `json:"price"`
	TotalQtySats    quant.QtySats     `json:"qty"`
	LastUpdateUnixM quant.TimeStamp   `json:"last_update"`
	LastSeq         uint64            `json:"last_seq"`
	// Cold fields (less frequent access)
	Symbol       string `json:"symbol"`
	VolumeCapped bool   `json:"volume_capped"` // TotalQtySats stopped at its maximum
}
