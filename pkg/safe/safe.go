// Package safe provides overflow-checked int64 arithmetic for fixed-point values.
package safe

import (
	"fmt"
	"math"
)

// Add returns a+b and false if the result overflows.
func Add(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

// Sub returns a-b and false if the result overflows.
func Sub(a, b int64) (int64, bool) {
	c := a - b
	if (b > 0 && c > a) || (b < 0 && c < a) {
		return 0, false
	}
	return c, true
}

// Mul returns a*b and false if the result overflows.
func Mul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}

// SaturatingAdd returns a+b clamped to the int64 range. ok is false when it clamped.
func SaturatingAdd(a, b int64) (c int64, ok bool) {
	if c, ok = Add(a, b); ok {
		return c, true
	}
	if b > 0 {
		return math.MaxInt64, false
	}
	return math.MinInt64, false
}

// SafeAdd adds two values. Panics on overflow.
func SafeAdd(a, b int64) int64 {
	c, ok := Add(a, b)
	if !ok {
		panic(fmt.Sprintf("SAFE_ADD_OVERFLOW: %d + %d", a, b))
	}
	return c
}

// SafeSub subtracts b from a. Panics on overflow.
func SafeSub(a, b int64) int64 {
	c, ok := Sub(a, b)
	if !ok {
		panic(fmt.Sprintf("SAFE_SUB_OVERFLOW: %d - %d", a, b))
	}
	return c
}

// SafeDiv divides a by b. Panics on division by zero or MinInt64 / -1.
func SafeDiv(a, b int64) int64 {
	if b == 0 {
		panic(fmt.Sprintf("SAFE_DIV_BY_ZERO: %d / 0", a))
	}
	if a == math.MinInt64 && b == -1 {
		panic(fmt.Sprintf("SAFE_DIV_OVERFLOW: %d / %d", a, b))
	}
	return a / b
}
