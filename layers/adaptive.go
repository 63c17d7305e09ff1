package layers

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/tensor"
)

// Errors specific to the pitch-adaptive layers.
var (
	// ErrAdaptiveKernel indicates an unsupported adaptive kernel size.
	ErrAdaptiveKernel = errors.New("layers: adaptive residual block supports kernel size 3 only")
	// ErrDilationShape indicates a dilation-factor tensor whose shape
	// disagrees with the feature tensor.
	ErrDilationShape = errors.New("layers: dilation factor shape mismatch")
	// ErrDilationValue indicates a non-positive dilation factor.
	ErrDilationValue = errors.New("layers: dilation factor must be positive")
)

// adaptiveConv1d is a three-tap convolution whose outer tap offset
// follows the per-sample dilation factor: for base dilation m the taps
// at time t sit at t-round(d[t]*m), t, and t+round(d[t]*m). Positions
// outside the signal contribute zero.
type adaptiveConv1d struct {
	channels int
	dilation int

	weight []float64 // [out][in][3]
	bias   []float64

	wn *weightNorm
}

func newAdaptiveConv1d(channels, dilation int, bias bool) *adaptiveConv1d {
	c := &adaptiveConv1d{
		channels: channels,
		dilation: dilation,
		weight:   make([]float64, channels*channels*3),
	}
	if bias {
		c.bias = make([]float64, channels)
	}

	return c
}

// forward assumes x and d shapes were validated by the owning block.
// offsets holds scratch of length x.Time().
func (c *adaptiveConv1d) forward(x, d *tensor.Tensor, offsets []int) (*tensor.Tensor, error) {
	n := x.Time()

	out, err := tensor.New(x.Batch(), c.channels, n)
	if err != nil {
		return nil, err
	}

	for b := 0; b < x.Batch(); b++ {
		dRow := d.Row(b, 0)
		for t, dv := range dRow {
			offsets[t] = int(math.Round(dv * float64(c.dilation)))
		}

		for oc := 0; oc < c.channels; oc++ {
			outRow := out.Row(b, oc)
			if c.bias != nil {
				for t := range outRow {
					outRow[t] = c.bias[oc]
				}
			}

			for ic := 0; ic < c.channels; ic++ {
				inRow := x.Row(b, ic)
				w := c.weight[(oc*c.channels+ic)*3 : (oc*c.channels+ic)*3+3]
				wPast, wCenter, wFuture := w[0], w[1], w[2]

				for t := 0; t < n; t++ {
					acc := wCenter * inRow[t]

					if p := t - offsets[t]; p >= 0 && p < n {
						acc += wPast * inRow[p]
					}

					if f := t + offsets[t]; f >= 0 && f < n {
						acc += wFuture * inRow[f]
					}

					outRow[t] += acc
				}
			}
		}
	}

	return out, nil
}

func (c *adaptiveConv1d) resetParameters(rng *rand.Rand) {
	resetWeights(rng, c.weight, c.bias)
	if c.wn != nil {
		c.wn = newWeightNorm(c.weight, c.channels)
	}
}

func (c *adaptiveConv1d) applyWeightNorm() {
	if c.wn != nil {
		return
	}

	c.wn = newWeightNorm(c.weight, c.channels)
}

func (c *adaptiveConv1d) removeWeightNorm() {
	if c.wn == nil {
		return
	}

	c.wn.collapse(c.weight)
	c.wn = nil
}

func (c *adaptiveConv1d) numParameters() int {
	return len(c.weight) + len(c.bias)
}

// AdaptiveResidualBlock is the quasi-periodic counterpart of
// ResidualBlock: each member convolution's receptive field is scaled
// per time step by an externally supplied dilation-factor tensor
// derived from the local pitch period.
type AdaptiveResidualBlock struct {
	channels int
	act      func(float64) float64

	convsA []*adaptiveConv1d
	convs2 []*Conv1d // nil unless additional convolutions are enabled
}

// NewAdaptiveResidualBlock creates an adaptive residual block with one
// adaptive convolution per entry of dilations. Only kernel size 3 is
// supported.
func NewAdaptiveResidualBlock(channels, kernelSize int, dilations []int, useAdditionalConvs, bias bool, act ActivationConfig) (*AdaptiveResidualBlock, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}

	if kernelSize != 3 {
		return nil, fmt.Errorf("%w: got %d", ErrAdaptiveKernel, kernelSize)
	}

	if len(dilations) == 0 {
		return nil, ErrNoDilations
	}

	fn, err := act.Resolve()
	if err != nil {
		return nil, err
	}

	b := &AdaptiveResidualBlock{
		channels: channels,
		act:      fn,
		convsA:   make([]*adaptiveConv1d, len(dilations)),
	}
	if useAdditionalConvs {
		b.convs2 = make([]*Conv1d, len(dilations))
	}

	for i, d := range dilations {
		if d <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDilation, d)
		}

		b.convsA[i] = newAdaptiveConv1d(channels, d, bias)

		if useAdditionalConvs {
			opts := []ConvOption{WithPadding((kernelSize - 1) / 2)}
			if !bias {
				opts = append(opts, WithoutBias())
			}

			b.convs2[i], err = NewConv1d(channels, channels, kernelSize, opts...)
			if err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

// Channels returns the channel count the block operates on.
func (b *AdaptiveResidualBlock) Channels() int { return b.channels }

// Forward applies the block using the per-sample dilation factors d,
// shaped (batch, 1, time) with time matching x. The input tensor is
// not mutated.
func (b *AdaptiveResidualBlock) Forward(x, d *tensor.Tensor) (*tensor.Tensor, error) {
	if d.Batch() != x.Batch() || d.Channels() != 1 || d.Time() != x.Time() {
		return nil, fmt.Errorf("%w: got (%d, %d, %d), want (%d, 1, %d)", ErrDilationShape,
			d.Batch(), d.Channels(), d.Time(), x.Batch(), x.Time())
	}

	for _, dv := range d.Data() {
		if dv <= 0 {
			return nil, fmt.Errorf("%w: %g", ErrDilationValue, dv)
		}
	}

	offsets := make([]int, x.Time())

	for i := range b.convsA {
		xt := x.Clone()
		xt.Apply(b.act)

		xt, err := b.convsA[i].forward(xt, d, offsets)
		if err != nil {
			return nil, err
		}

		if b.convs2 != nil {
			xt.Apply(b.act)

			xt, err = b.convs2[i].Forward(xt)
			if err != nil {
				return nil, err
			}
		}

		if err := xt.AddInPlace(x); err != nil {
			return nil, err
		}

		x = xt
	}

	return x, nil
}

// ResetParameters reinitializes all convolution weights.
func (b *AdaptiveResidualBlock) ResetParameters(rng *rand.Rand) {
	for _, c := range b.convsA {
		c.resetParameters(rng)
	}

	for _, c := range b.convs2 {
		c.ResetParameters(rng)
	}
}

// ApplyWeightNorm applies weight normalization to all convolutions.
func (b *AdaptiveResidualBlock) ApplyWeightNorm() {
	for _, c := range b.convsA {
		c.applyWeightNorm()
	}

	for _, c := range b.convs2 {
		c.ApplyWeightNorm()
	}
}

// RemoveWeightNorm collapses weight normalization on all convolutions.
func (b *AdaptiveResidualBlock) RemoveWeightNorm() {
	for _, c := range b.convsA {
		c.removeWeightNorm()
	}

	for _, c := range b.convs2 {
		c.RemoveWeightNorm()
	}
}

// NumParameters returns the trainable parameter count.
func (b *AdaptiveResidualBlock) NumParameters() int {
	n := 0
	for _, c := range b.convsA {
		n += c.numParameters()
	}

	for _, c := range b.convs2 {
		n += c.NumParameters()
	}

	return n
}
