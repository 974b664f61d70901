package math_test

import (
	fpmath "Orion/internal/math"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

// ============================================================================
// Test: Convert
// ============================================================================

func TestConvert_Identity(t *testing.T) {
	for _, d := range []uint8{0, 6, 8, 18, 36} {
		x := bi("123456789012345678901234567890")
		if got := fpmath.Convert(x, d, d); got.Cmp(x) != 0 {
			t.Errorf("convert(x, %d, %d) = %s, want %s", d, d, got, x)
		}
	}
}

func TestConvert_UpscaleRoundTrip(t *testing.T) {
	cases := []struct{ d1, d2 uint8 }{{6, 18}, {8, 18}, {0, 36}, {18, 54}}
	for _, c := range cases {
		x := bi("987654321")
		up := fpmath.Convert(x, c.d1, c.d2)
		back := fpmath.Convert(up, c.d2, c.d1)
		if back.Cmp(x) != 0 {
			t.Errorf("round trip %d->%d->%d: got %s, want %s", c.d1, c.d2, c.d1, back, x)
		}
	}
}

func TestConvert_DownscaleLossBounded(t *testing.T) {
	x := bi("123456789123456789")
	d1, d2 := uint8(18), uint8(6)
	down := fpmath.Convert(x, d1, d2)
	up := fpmath.Convert(down, d2, d1)

	loss := new(big.Int).Sub(x, up)
	bound := new(big.Int).Sub(fpmath.Pow10(d1-d2), big.NewInt(1))
	if loss.Sign() < 0 || loss.Cmp(bound) > 0 {
		t.Errorf("loss %s outside [0, %s]", loss, bound)
	}
	if down.String() != "123456789123" {
		t.Errorf("downscale should truncate, got %s", down)
	}
}

func TestConvert_WideDelta(t *testing.T) {
	got := fpmath.Convert(big.NewInt(1), 0, 40)
	if got.Cmp(fpmath.Pow10(40)) != 0 {
		t.Errorf("got %s", got)
	}
	if fpmath.Convert(big.NewInt(5), 40, 0).Sign() != 0 {
		t.Error("downscale of a tiny amount should floor to zero")
	}
}

func TestPow10_ReturnsCopy(t *testing.T) {
	p := fpmath.Pow10(3)
	p.SetInt64(7)
	if fpmath.Pow10(3).Int64() != 1000 {
		t.Error("Pow10 must not expose its table")
	}
}

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDiv_RoundingModes(t *testing.T) {
	cases := []struct {
		a, b, d int64
		mode    fpmath.RoundingMode
		want    int64
	}{
		{7, 3, 2, fpmath.RoundDown, 10},
		{7, 3, 2, fpmath.RoundUp, 11},
		{7, 3, 2, fpmath.RoundHalfEven, 10}, // 10.5 -> 10
		{5, 3, 2, fpmath.RoundHalfEven, 8},  // 7.5 -> 8
		{10, 3, 4, fpmath.RoundHalfEven, 8}, // 7.5 -> 8
		{11, 3, 4, fpmath.RoundHalfEven, 8}, // 8.25 -> 8
		{6, 2, 3, fpmath.RoundUp, 4},        // exact
		{-7, 1, 2, fpmath.RoundDown, -4},
	}
	for _, c := range cases {
		got := fpmath.MulDiv(big.NewInt(c.a), big.NewInt(c.b), big.NewInt(c.d), c.mode)
		if got.Int64() != c.want {
			t.Errorf("MulDiv(%d, %d, %d, %s) = %s, want %d", c.a, c.b, c.d, c.mode, got, c.want)
		}
	}
}

func TestMulDiv_NoIntermediateTruncation(t *testing.T) {
	// 1.5 underlying per share (18 dec) * 2000e18 price / 1e18
	perShare := bi("1500000000000000001")
	price := bi("2000000000000000000000")
	got := fpmath.MulDiv(perShare, price, fpmath.Pow10(18), fpmath.RoundDown)
	if got.String() != "3000000000000000002000" {
		t.Errorf("got %s", got)
	}
}

func TestParseRoundingMode(t *testing.T) {
	for _, s := range []string{"floor", "half_even", "ceil"} {
		m, err := fpmath.ParseRoundingMode(s)
		if err != nil || m.String() != s {
			t.Errorf("parse %q: %v %v", s, m, err)
		}
	}
	if _, err := fpmath.ParseRoundingMode("sideways"); err == nil {
		t.Error("expected error")
	}
}

// ============================================================================
// Test: Fee controller
// ============================================================================

func newController() *fpmath.SmoothFeeController {
	return fpmath.NewSmoothFeeController(
		decimal.RequireFromString("0.02"),
		decimal.RequireFromString("0.0005"),
		decimal.RequireFromString("0.1"),
		decimal.RequireFromString("0.001"),
		decimal.NewFromInt(1),
	)
}

func TestFeeController_RateLimited(t *testing.T) {
	c := newController()
	tvl := big.NewInt(1_000_000)

	if got := c.Next(big.NewInt(0), tvl); got.String() != "0.0005" {
		t.Errorf("first step: got %s, want 0.0005", got)
	}
	if got := c.Next(big.NewInt(0), tvl); got.String() != "0.001" {
		t.Errorf("second step: got %s, want 0.001", got)
	}
}

func TestFeeController_Deadband(t *testing.T) {
	c := newController()
	// ratio 0.0195 is within 0.001 of the 0.02 target
	if got := c.Next(big.NewInt(19_500), big.NewInt(1_000_000)); !got.IsZero() {
		t.Errorf("inside deadband fee should stay 0, got %s", got)
	}
}

func TestFeeController_NeverNegative(t *testing.T) {
	c := newController()
	if got := c.Next(big.NewInt(500_000), big.NewInt(1_000_000)); got.IsNegative() {
		t.Errorf("fee must not be negative, got %s", got)
	}
}

func TestFeeController_StateRestore(t *testing.T) {
	c := newController()
	c.Next(big.NewInt(0), big.NewInt(1_000))
	s := c.State()
	c.Next(big.NewInt(0), big.NewInt(1_000))
	c.Restore(s)
	if c.Rate().String() != "0.0005" {
		t.Errorf("restore: got %s", c.Rate())
	}
}

func TestApplyRate(t *testing.T) {
	got := fpmath.ApplyRate(big.NewInt(1_000_001), decimal.RequireFromString("0.0005"))
	if got.Int64() != 500 {
		t.Errorf("got %s, want 500", got)
	}
	if fpmath.ApplyRate(big.NewInt(-5), decimal.NewFromInt(1)).Sign() != 0 {
		t.Error("negative amount should yield zero")
	}
}
