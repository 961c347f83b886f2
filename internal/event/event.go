// Package event defines the envelopes that carry inbound messages from the
// session goroutine to the engine shards.
package event

import (
	"hft_go/internal/wire"
)

// Type classifies an Event.
type Type uint8

const (
	// TypeMarketData carries a book delta, book clear or trade.
	TypeMarketData Type = iota + 1
	// TypeReset empties the shard's books at the start of a new epoch.
	TypeReset
)

func (t Type) String() string {
	switch t {
	case TypeMarketData:
		return "MARKET_DATA"
	case TypeReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Event is one unit of work for a shard. Seq is assigned per shard when the
// event is enqueued and must arrive without gaps.
type Event struct {
	Seq        uint64
	Epoch      uint64
	Type       Type
	ReceivedNs int64 // monotonic receive time for latency metrics
	Msg        wire.Message
}

func (e *Event) GetSeq() uint64 { return e.Seq }
func (e *Event) GetType() Type { return e.Type }
