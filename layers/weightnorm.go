package layers

import (
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// weightNorm holds the magnitude/direction decomposition of a weight
// tensor. Rows of rowSize elements are normalized independently; for a
// convolution with weight layout [rows][rowSize] this matches
// normalization along the leading axis.
type weightNorm struct {
	g []float64 // per-row magnitude
	v []float64 // direction, same layout as the plain weight
}

// newWeightNorm decomposes w into magnitude and direction.
// The plain weight slice is left untouched; it remains the tensor used
// by forward passes and stays consistent with (g, v) until the next
// removal or reset.
func newWeightNorm(w []float64, rows int) *weightNorm {
	rowSize := len(w) / rows
	wn := &weightNorm{
		g: make([]float64, rows),
		v: make([]float64, len(w)),
	}
	copy(wn.v, w)

	for r := 0; r < rows; r++ {
		row := w[r*rowSize : (r+1)*rowSize]
		wn.g[r] = math.Sqrt(vecmath.DotProduct(row, row))
	}

	return wn
}

// collapse writes the plain weight g * v/|v| back into w.
func (wn *weightNorm) collapse(w []float64) {
	rows := len(wn.g)
	rowSize := len(w) / rows

	for r := 0; r < rows; r++ {
		vRow := wn.v[r*rowSize : (r+1)*rowSize]
		norm := math.Sqrt(vecmath.DotProduct(vRow, vRow))

		scale := 0.0
		if norm > 0 {
			scale = wn.g[r] / norm
		}

		vecmath.ScaleBlock(w[r*rowSize:(r+1)*rowSize], vRow, scale)
	}
}
