// internal/math/fixedpoint.go
package math

import (
	"fmt"
	"math/big"
	"sync"
)

// RoundingMode selects how a division remainder is resolved.
type RoundingMode int

const (
	RoundDown     RoundingMode = iota // floor toward negative infinity (default)
	RoundHalfEven                     // banker's rounding
	RoundUp                           // ceiling
)

func (m RoundingMode) String() string {
	switch m {
	case RoundDown:
		return "floor"
	case RoundHalfEven:
		return "half_even"
	case RoundUp:
		return "ceil"
	default:
		return "unknown"
	}
}

// ParseRoundingMode accepts the names produced by String.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch s {
	case "", "floor", "down":
		return RoundDown, nil
	case "half_even":
		return RoundHalfEven, nil
	case "ceil", "up":
		return RoundUp, nil
	default:
		return RoundDown, fmt.Errorf("unknown rounding mode %q", s)
	}
}

// pooled big.Int for intermediate calculations
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

var (
	pow10Once  sync.Once
	pow10Table [256]*big.Int
)

// Pow10 returns a fresh copy of 10^n.
func Pow10(n uint8) *big.Int {
	pow10Once.Do(func() {
		ten := big.NewInt(10)
		pow10Table[0] = big.NewInt(1)
		for i := 1; i < len(pow10Table); i++ {
			pow10Table[i] = new(big.Int).Mul(pow10Table[i-1], ten)
		}
	})
	return new(big.Int).Set(pow10Table[n])
}

// Convert rescales amount from one decimal precision to another.
// Upscaling is lossless; downscaling truncates (floor for non-negative
// amounts), losing at most 10^(from-to)-1 base units.
func Convert(amount *big.Int, from, to uint8) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	switch {
	case from == to:
		return new(big.Int).Set(amount)
	case from < to:
		return new(big.Int).Mul(amount, Pow10(to-from))
	default:
		return new(big.Int).Quo(amount, Pow10(from-to))
	}
}

// MulDiv computes a*b/d at full precision with one final rounding step.
// d must be positive.
func MulDiv(a, b, d *big.Int, mode RoundingMode) *big.Int {
	if d.Sign() <= 0 {
		panic(fmt.Sprintf("FATAL: MulDiv with non-positive divisor %s", d))
	}

	product := getInt()
	product.Mul(a, b)

	quotient := new(big.Int)
	remainder := getInt()
	quotient.DivMod(product, d, remainder)

	if remainder.Sign() != 0 {
		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(1))
		case RoundHalfEven:
			twice := getInt()
			twice.Lsh(remainder, 1)
			cmp := twice.Cmp(d)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(1))
			}
			putInt(twice)
		}
	}

	putInt(product)
	putInt(remainder)

	return quotient
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
