// Package aggregator turns trade ticks into per-instrument moving averages
// and running trade statistics.
package aggregator

import (
	"errors"
	"fmt"
	"sync"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
	"hft_go/pkg/safe"
)

// Average is one window's value inside a Snapshot.
type Average struct {
	Spec    WindowSpec
	Value   float64
	Samples int
}

// Ready reports whether the window holds its full number of samples.
func (a Average) Ready() bool {
	return a.Samples >= a.Spec.Size
}

// Snapshot is a point-in-time copy of an instrument's aggregates.
type Snapshot struct {
	Symbol    string
	Averages  []Average
	Volume    quant.QtySats
	High      quant.PriceMicros
	Low       quant.PriceMicros
	Last      quant.PriceMicros
	Ticks     uint64
	UpdatedAt quant.TimeStamp

	// VolumeCapped is set once Volume has saturated at its maximum.
	VolumeCapped bool
}

// Average looks up a window by name.
func (s Snapshot) Average(name string) (Average, bool) {
	for _, a := range s.Averages {
		if a.Spec.Name == name {
			return a, true
		}
	}
	return Average{}, false
}

type instrumentState struct {
	mu      sync.RWMutex
	windows []*window

	volume  quant.QtySats
	capped  bool
	high    quant.PriceMicros
	low     quant.PriceMicros
	last    quant.PriceMicros
	ticks   uint64
	updated quant.TimeStamp
}

// Aggregator keeps the configured windows for every instrument it has seen.
// OnTick for a given symbol must come from a single goroutine; readers may be concurrent.
type Aggregator struct {
	specs []WindowSpec

	mu     sync.RWMutex
	states map[string]*instrumentState
}

// New validates specs and returns an empty aggregator.
func New(specs []WindowSpec) (*Aggregator, error) {
	if len(specs) == 0 {
		return nil, errors.New("aggregator: at least one window is required")
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Size <= 0 {
			return nil, fmt.Errorf("aggregator: window %s: size must be positive", s)
		}
		if s.Kind != KindSMA && s.Kind != KindWMA {
			return nil, fmt.Errorf("aggregator: window %s: unknown kind", s)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("aggregator: duplicate window name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &Aggregator{
		specs:  append([]WindowSpec(nil), specs...),
		states: make(map[string]*instrumentState),
	}, nil
}

// Specs returns the configured windows.
func (a *Aggregator) Specs() []WindowSpec {
	return append([]WindowSpec(nil), a.specs...)
}

func (a *Aggregator) state(symbol string) *instrumentState {
	a.mu.RLock()
	st, ok := a.states[symbol]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.states[symbol]; ok {
		return st
	}
	st = &instrumentState{windows: make([]*window, len(a.specs))}
	for i, spec := range a.specs {
		st.windows[i] = newWindow(spec)
	}
	a.states[symbol] = st
	return st
}

// OnTick feeds the trade price into every window of the instrument.
func (a *Aggregator) OnTick(t domain.Tick) {
	st := a.state(t.Symbol)

	st.mu.Lock()
	defer st.mu.Unlock()

	// Lifetime volume saturates instead of overflowing.
	volume, ok := safe.SaturatingAdd(int64(st.volume), int64(t.Qty))
	for _, w := range st.windows {
		w.push(int64(t.Price))
	}
	st.volume = quant.QtySats(volume)
	st.capped = st.capped || !ok
	if st.ticks == 0 || t.Price > st.high {
		st.high = t.Price
	}
	if st.ticks == 0 || t.Price < st.low {
		st.low = t.Price
	}
	st.last = t.Price
	st.ticks++
	st.updated = t.Time
}

func (a *Aggregator) lookup(symbol string) (*instrumentState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.states[symbol]
	return st, ok
}

// Current returns the average for the window matching spec's kind and size.
// It is false until the instrument has at least one sample.
func (a *Aggregator) Current(symbol string, spec WindowSpec) (float64, bool) {
	st, ok := a.lookup(symbol)
	if !ok {
		return 0, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, w := range st.windows {
		if w.spec.Kind == spec.Kind && w.spec.Size == spec.Size {
			return w.value()
		}
	}
	return 0, false
}

// Snapshot copies all averages and statistics of symbol.
func (a *Aggregator) Snapshot(symbol string) (Snapshot, bool) {
	st, ok := a.lookup(symbol)
	if !ok {
		return Snapshot{Symbol: symbol}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	snap := Snapshot{
		Symbol:       symbol,
		Averages:     make([]Average, len(st.windows)),
		Volume:       st.volume,
		High:         st.high,
		Low:          st.low,
		Last:         st.last,
		Ticks:        st.ticks,
		UpdatedAt:    st.updated,
		VolumeCapped: st.capped,
	}
	for i, w := range st.windows {
		v, _ := w.value()
		snap.Averages[i] = Average{Spec: w.spec, Value: v, Samples: w.count}
	}
	return snap, true
}
