package domain

import (
	"fmt"
	"sort"
	"strings"

	"hft_go/pkg/quant"
)

// Instrument is immutable after the registry is built.
type Instrument struct {
	Symbol   string
	TickSize quant.PriceMicros
	LotSize  quant.QtySats
}

// Validate checks the static fields of an instrument definition.
func (i Instrument) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return &ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if i.TickSize <= 0 {
		return &ValidationError{Field: "tick_size", Message: "must be positive"}
	}
	if i.LotSize <= 0 {
		return &ValidationError{Field: "lot_size", Message: "must be positive"}
	}
	return nil
}

// OnTick reports whether price is a multiple of the tick size.
func (i Instrument) OnTick(price quant.PriceMicros) bool {
	return price%i.TickSize == 0
}

// OnLot reports whether qty is a multiple of the lot size.
func (i Instrument) OnLot(qty quant.QtySats) bool {
	return qty%i.LotSize == 0
}

// InstrumentRegistry is the process-wide set of tradable instruments.
// It is built once at startup and only read afterwards, so it needs no lock.
type InstrumentRegistry struct {
	bySymbol map[string]Instrument
	symbols  []string
}

// NewInstrumentRegistry validates and indexes the given instruments.
func NewInstrumentRegistry(instruments []Instrument) (*InstrumentRegistry, error) {
	r := &InstrumentRegistry{bySymbol: make(map[string]Instrument, len(instruments))}
	for _, inst := range instruments {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("instrument %q: %w", inst.Symbol, err)
		}
		if _, dup := r.bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("instrument %q: duplicate symbol", inst.Symbol)
		}
		r.bySymbol[inst.Symbol] = inst
		r.symbols = append(r.symbols, inst.Symbol)
	}
	sort.Strings(r.symbols)
	return r, nil
}

// Get returns the instrument for symbol.
func (r *InstrumentRegistry) Get(symbol string) (Instrument, bool) {
	inst, ok := r.bySymbol[symbol]
	return inst, ok
}

// Lookup is Get with an ErrUnknownInstrument error.
func (r *InstrumentRegistry) Lookup(symbol string) (Instrument, error) {
	inst, ok := r.bySymbol[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return inst, nil
}

// Symbols returns the registered symbols in sorted order.
func (r *InstrumentRegistry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// All returns every instrument in symbol order.
func (r *InstrumentRegistry) All() []Instrument {
	out := make([]Instrument, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, r.bySymbol[s])
	}
	return out
}

func (r *InstrumentRegistry) Len() int {
	return len(r.symbols)
}
