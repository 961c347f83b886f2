package aggregator

import (
	"fmt"
	"strings"

	"hft_go/pkg/safe"
)

// Kind selects how a window averages its samples.
type Kind uint8

const (
	KindSMA Kind = iota + 1
	KindWMA
)

func (k Kind) String() string {
	switch k {
	case KindSMA:
		return "sma"
	case KindWMA:
		return "wma"
	default:
		return "unknown"
	}
}

// ParseKind accepts "sma" or "wma" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "sma":
		return KindSMA, nil
	case "wma":
		return KindWMA, nil
	}
	return 0, fmt.Errorf("unknown average kind %q", s)
}

// WindowSpec configures one moving average.
type WindowSpec struct {
	Name string
	Kind Kind
	Size int
}

func (s WindowSpec) String() string {
	return fmt.Sprintf("%s(%s,%d)", s.Name, s.Kind, s.Size)
}

// window is a fixed-capacity ring of prices in micros with a running sum.
// The ring is allocated once, so pushes do not allocate.
type window struct {
	spec   WindowSpec
	prices []int64
	head   int   // next write position; the oldest sample once full
	count  int   // number of samples held
	sum    int64 // running sum of the held samples
}

func newWindow(spec WindowSpec) *window {
	return &window{spec: spec, prices: make([]int64, spec.Size)}
}

func (w *window) push(price int64) {
	size := len(w.prices)
	// When full, head points at the oldest sample, which is evicted.
	if w.count == size {
		w.sum = safe.SafeSub(w.sum, w.prices[w.head])
	}
	w.prices[w.head] = price
	w.sum = safe.SafeAdd(w.sum, price)
	w.head = (w.head + 1) % size
	if w.count < size {
		w.count++
	}
}

// at returns the i-th sample counted from the oldest.
func (w *window) at(i int) int64 {
	start := 0
	if w.count == len(w.prices) {
		start = w.head
	}
	return w.prices[(start+i)%len(w.prices)]
}

// sma returns the mean in whole price units.
func (w *window) sma() float64 {
	return float64(w.sum) / float64(w.count) / 1e6
}

// wma weights the i-th oldest sample by i+1.
func (w *window) wma() float64 {
	var num, den float64
	for i := 0; i < w.count; i++ {
		weight := float64(i + 1)
		num += float64(w.at(i)) * weight
		den += weight
	}
	return num / den / 1e6
}

func (w *window) value() (float64, bool) {
	if w.count == 0 {
		return 0, false
	}
	if w.spec.Kind == KindWMA {
		return w.wma(), true
	}
	return w.sma(), true
}
