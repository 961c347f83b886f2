package safe

import (
	"math"
	"testing"
)

func TestAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want int64
		ok   bool
	}{
		{"small", 1, 2, 3, true},
		{"negative", -5, 3, -2, true},
		{"max overflow", math.MaxInt64, 1, 0, false},
		{"min overflow", math.MinInt64, -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Add(tt.a, tt.b)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Add(%d, %d) = (%d, %v), want (%d, %v)", tt.a, tt.b, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSaturatingAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want int64
		ok   bool
	}{
		{"small", 1, 2, 3, true},
		{"clamp high", math.MaxInt64 - 1, 5, math.MaxInt64, false},
		{"clamp low", math.MinInt64 + 1, -5, math.MinInt64, false},
		{"at max", math.MaxInt64, 0, math.MaxInt64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SaturatingAdd(tt.a, tt.b)
			if ok != tt.ok || got != tt.want {
				t.Errorf("SaturatingAdd(%d, %d) = (%d, %v), want (%d, %v)", tt.a, tt.b, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSub(t *testing.T) {
	if got, ok := Sub(10, 4); !ok || got != 6 {
		t.Errorf("Sub(10, 4) = (%d, %v)", got, ok)
	}
	if _, ok := Sub(math.MinInt64, 1); ok {
		t.Error("Sub should report overflow")
	}
}

func TestMul(t *testing.T) {
	if got, ok := Mul(1_000_000, 3); !ok || got != 3_000_000 {
		t.Errorf("Mul = (%d, %v)", got, ok)
	}
	if _, ok := Mul(math.MaxInt64/2, 3); ok {
		t.Error("Mul should report overflow")
	}
	if _, ok := Mul(math.MinInt64, -1); ok {
		t.Error("Mul should report overflow for MinInt64 * -1")
	}
}

func TestSafeAdd_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("SafeAdd should panic on overflow")
		}
	}()
	SafeAdd(math.MaxInt64, 1)
}

func TestSafeDiv(t *testing.T) {
	if got := SafeDiv(10, 3); got != 3 {
		t.Errorf("SafeDiv(10, 3) = %d, want 3", got)
	}
	defer func() {
		if r := recover(); r == nil {
			t.Error("SafeDiv by zero should panic")
		}
	}()
	SafeDiv(1, 0)
}
