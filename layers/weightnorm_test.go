package layers

import (
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-vocoder/internal/testutil"
)

func TestWeightNormRoundTrip(t *testing.T) {
	c, err := NewConv1d(3, 4, 5)
	if err != nil {
		t.Fatalf("NewConv1d() error = %v", err)
	}
	c.ResetParameters(rand.New(rand.NewSource(3)))

	before := append([]float64(nil), c.weight...)

	c.ApplyWeightNorm()
	c.RemoveWeightNorm()

	testutil.RequireSliceNearlyEqual(t, c.weight, before, 1e-12)
}

func TestWeightNormApplyIdempotent(t *testing.T) {
	c, _ := NewConv1d(2, 2, 3)
	c.ResetParameters(rand.New(rand.NewSource(5)))

	c.ApplyWeightNorm()
	wn := c.wn
	c.ApplyWeightNorm()

	if c.wn != wn {
		t.Fatal("second ApplyWeightNorm replaced the decomposition")
	}
}

func TestWeightNormRemoveWithoutApply(t *testing.T) {
	c, _ := NewConv1d(2, 2, 3)
	c.ResetParameters(rand.New(rand.NewSource(5)))

	before := append([]float64(nil), c.weight...)
	c.RemoveWeightNorm()

	testutil.RequireSliceNearlyEqual(t, c.weight, before, 0)
}

func TestWeightNormResetRecomputes(t *testing.T) {
	c, _ := NewConv1d(2, 2, 3)
	c.ResetParameters(rand.New(rand.NewSource(1)))
	c.ApplyWeightNorm()

	c.ResetParameters(rand.New(rand.NewSource(2)))
	if c.wn == nil {
		t.Fatal("ResetParameters dropped the active decomposition")
	}

	// Removal after a reset must reproduce the freshly drawn weights.
	before := append([]float64(nil), c.weight...)
	c.RemoveWeightNorm()

	testutil.RequireSliceNearlyEqual(t, c.weight, before, 1e-12)
}

func TestWeightNormTransposeRoundTrip(t *testing.T) {
	c, err := NewConvTranspose1d(3, 2, 6, 3)
	if err != nil {
		t.Fatalf("NewConvTranspose1d() error = %v", err)
	}
	c.ResetParameters(rand.New(rand.NewSource(9)))

	before := append([]float64(nil), c.weight...)

	c.ApplyWeightNorm()
	c.RemoveWeightNorm()

	testutil.RequireSliceNearlyEqual(t, c.weight, before, 1e-12)
}
