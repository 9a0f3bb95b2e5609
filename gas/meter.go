// Package gas meters the computation consumed by one invocation and converts
// it into ledger weight.
package gas

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfGas is returned once a charge would cross the meter's limit
var ErrOutOfGas = errors.New("out of gas")

// Unlimited is the limit used by privileged operations
const Unlimited = math.MaxUint64

// Meter tracks gas used against a fixed limit. It is owned by a single
// invocation and is not safe for concurrent use.
type Meter struct {
	limit uint64
	used  uint64
}

// NewMeter creates a meter with the given ceiling
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Charge consumes amount. When the limit would be exceeded the meter is
// pinned at its limit and ErrOutOfGas is returned, so Used never exceeds Limit.
func (m *Meter) Charge(amount uint64) error {
	if amount == 0 {
		return nil
	}
	if amount > m.limit-m.used {
		need := amount
		m.used = m.limit
		return fmt.Errorf("%w: limit=%d, need=%d", ErrOutOfGas, m.limit, need)
	}
	m.used += amount
	return nil
}

// ChargeBytes charges base + perByte*n, saturating on overflow
func (m *Meter) ChargeBytes(base, perByte uint64, n int) error {
	return m.Charge(Add(base, Mul(perByte, uint64(n))))
}

// Used returns the gas consumed so far
func (m *Meter) Used() uint64 {
	return m.used
}

// Limit returns the ceiling
func (m *Meter) Limit() uint64 {
	return m.limit
}

// Remaining returns the gas still available
func (m *Meter) Remaining() uint64 {
	return m.limit - m.used
}

// Exhausted reports whether every unit has been consumed
func (m *Meter) Exhausted() bool {
	return m.used == m.limit
}

// Add returns a+b, saturating at MaxUint64
func Add(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// Mul returns a*b, saturating at MaxUint64
func Mul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}
