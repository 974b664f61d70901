package math_test

import (
	fpmath "Orion/internal/math"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func ints(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func sum(vs []*big.Int) *big.Int {
	s := new(big.Int)
	for _, v := range vs {
		s.Add(s, v)
	}
	return s
}

func TestNormalizeWeights_ExactScaleUnchanged(t *testing.T) {
	got, err := fpmath.NormalizeWeights(ints(400_000, 600_000), big.NewInt(1_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Int64() != 400_000 || got[1].Int64() != 600_000 {
		t.Errorf("got %v", got)
	}
}

func TestNormalizeWeights_RemainderToLast(t *testing.T) {
	got, err := fpmath.NormalizeWeights(ints(1, 1, 1), big.NewInt(1_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Int64() != 333_333 || got[1].Int64() != 333_333 || got[2].Int64() != 333_334 {
		t.Errorf("got %v", got)
	}
	if sum(got).Int64() != 1_000_000 {
		t.Errorf("sum %s", sum(got))
	}
}

func TestNormalizeWeights_DoesNotMutateInput(t *testing.T) {
	in := ints(2, 3)
	if _, err := fpmath.NormalizeWeights(in, big.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	if in[0].Int64() != 2 || in[1].Int64() != 3 {
		t.Error("input mutated")
	}
}

func TestNormalizeWeights_RejectsNonPositive(t *testing.T) {
	_, err := fpmath.NormalizeWeights(ints(5, 0), big.NewInt(10))
	if !errors.Is(err, fpmath.ErrNonPositiveWeight) {
		t.Errorf("expected ErrNonPositiveWeight, got %v", err)
	}
}

func TestRoundWithFixedSum_LargestRemainder(t *testing.T) {
	values := []decimal.Decimal{
		decimal.RequireFromString("333333.3333"),
		decimal.RequireFromString("333333.3333"),
		decimal.RequireFromString("333333.3334"),
	}
	got, err := fpmath.RoundWithFixedSum(values, big.NewInt(1_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Int64() != 333_333 || got[1].Int64() != 333_333 || got[2].Int64() != 333_334 {
		t.Errorf("got %v", got)
	}
}

func TestScaleIntent(t *testing.T) {
	weights := []decimal.Decimal{
		decimal.RequireFromString("0.4"),
		decimal.RequireFromString("0.6"),
	}
	got, err := fpmath.ScaleIntent(weights, 6)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Int64() != 400_000 || got[1].Int64() != 600_000 {
		t.Errorf("got %v", got)
	}
}

func TestScaleIntent_Rejects(t *testing.T) {
	if _, err := fpmath.ScaleIntent([]decimal.Decimal{decimal.RequireFromString("0.5")}, 6); !errors.Is(err, fpmath.ErrSumMismatch) {
		t.Errorf("expected ErrSumMismatch, got %v", err)
	}
	neg := []decimal.Decimal{decimal.RequireFromString("1.5"), decimal.RequireFromString("-0.5")}
	if _, err := fpmath.ScaleIntent(neg, 6); !errors.Is(err, fpmath.ErrNonPositiveWeight) {
		t.Errorf("expected ErrNonPositiveWeight, got %v", err)
	}
}
