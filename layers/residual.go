package layers

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/tensor"
)

// ErrEvenKernel indicates a kernel size that cannot preserve length
// with symmetric padding.
var ErrEvenKernel = errors.New("layers: residual kernel size must be odd")

// ErrNoDilations indicates an empty dilation set.
var ErrNoDilations = errors.New("layers: at least one dilation required")

// ResidualBlock applies a cascade of dilated convolutions, each wrapped
// in an identity skip connection. With additional convolutions enabled,
// every dilated convolution is followed by a second, undilated one
// before the skip is added.
type ResidualBlock struct {
	channels int
	act      func(float64) float64

	convs1 []*Conv1d
	convs2 []*Conv1d // nil unless additional convolutions are enabled
}

// NewResidualBlock creates a residual block with one dilated
// convolution per entry of dilations. The kernel size must be odd so
// "same" padding preserves the time length.
func NewResidualBlock(channels, kernelSize int, dilations []int, useAdditionalConvs, bias bool, act ActivationConfig) (*ResidualBlock, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}

	if kernelSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKernel, kernelSize)
	}

	if kernelSize%2 == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEvenKernel, kernelSize)
	}

	if len(dilations) == 0 {
		return nil, ErrNoDilations
	}

	fn, err := act.Resolve()
	if err != nil {
		return nil, err
	}

	b := &ResidualBlock{
		channels: channels,
		act:      fn,
		convs1:   make([]*Conv1d, len(dilations)),
	}
	if useAdditionalConvs {
		b.convs2 = make([]*Conv1d, len(dilations))
	}

	for i, d := range dilations {
		if d <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDilation, d)
		}

		opts := []ConvOption{
			WithDilation(d),
			WithPadding((kernelSize - 1) / 2 * d),
		}
		if !bias {
			opts = append(opts, WithoutBias())
		}

		b.convs1[i], err = NewConv1d(channels, channels, kernelSize, opts...)
		if err != nil {
			return nil, err
		}

		if useAdditionalConvs {
			opts = []ConvOption{WithPadding((kernelSize - 1) / 2)}
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
func (b *ResidualBlock) Channels() int { return b.channels }

// Forward applies the block. The input tensor is not mutated.
func (b *ResidualBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	for i := range b.convs1 {
		xt := x.Clone()
		xt.Apply(b.act)

		xt, err := b.convs1[i].Forward(xt)
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
func (b *ResidualBlock) ResetParameters(rng *rand.Rand) {
	for _, c := range b.convs1 {
		c.ResetParameters(rng)
	}

	for _, c := range b.convs2 {
		c.ResetParameters(rng)
	}
}

// ApplyWeightNorm applies weight normalization to all convolutions.
func (b *ResidualBlock) ApplyWeightNorm() {
	for _, c := range b.convs1 {
		c.ApplyWeightNorm()
	}

	for _, c := range b.convs2 {
		c.ApplyWeightNorm()
	}
}

// RemoveWeightNorm collapses weight normalization on all convolutions.
func (b *ResidualBlock) RemoveWeightNorm() {
	for _, c := range b.convs1 {
		c.RemoveWeightNorm()
	}

	for _, c := range b.convs2 {
		c.RemoveWeightNorm()
	}
}

// NumParameters returns the trainable parameter count.
func (b *ResidualBlock) NumParameters() int {
	n := 0
	for _, c := range b.convs1 {
		n += c.NumParameters()
	}

	for _, c := range b.convs2 {
		n += c.NumParameters()
	}

	return n
}
