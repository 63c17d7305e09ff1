package layers

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/tensor"
)

// ConvTranspose1d is a strided transposed convolution, the upsampling
// primitive of the generator ladders.
//
// Weight layout is [inChannels][outChannels][kernelSize]; weight
// normalization rows follow the leading (input channel) axis.
//
// The output time length for an input of length n is
//
//	(n-1)*stride - 2*padding + kernelSize + outputPadding
//
// so a stage configured with kernel = 2*scale, padding =
// scale/2 + scale%2 and outputPadding = scale%2 produces exactly
// n*scale samples for both even and odd scales.
type ConvTranspose1d struct {
	inChannels    int
	outChannels   int
	kernelSize    int
	stride        int
	padding       int
	outputPadding int

	weight []float64
	bias   []float64

	wn *weightNorm
}

// NewConvTranspose1d creates a transposed convolution with
// zero-initialized parameters. Call ResetParameters to draw random
// weights. The dilation option is not supported and must be left at 1.
func NewConvTranspose1d(inChannels, outChannels, kernelSize, stride int, opts ...ConvOption) (*ConvTranspose1d, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("%w: in=%d out=%d", ErrInvalidChannels, inChannels, outChannels)
	}

	if kernelSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKernel, kernelSize)
	}

	if stride <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStride, stride)
	}

	cfg := applyConvOptions(opts)
	cfg.stride = stride

	if cfg.padding < 0 || cfg.outputPadding < 0 {
		return nil, fmt.Errorf("%w: padding=%d outputPadding=%d", ErrInvalidPadding, cfg.padding, cfg.outputPadding)
	}

	if cfg.outputPadding >= stride {
		return nil, fmt.Errorf("%w: output padding %d must be smaller than stride %d",
			ErrInvalidPadding, cfg.outputPadding, stride)
	}

	if cfg.dilation != 1 {
		return nil, fmt.Errorf("%w: transposed convolution supports dilation 1 only", ErrInvalidDilation)
	}

	c := &ConvTranspose1d{
		inChannels:    inChannels,
		outChannels:   outChannels,
		kernelSize:    kernelSize,
		stride:        stride,
		padding:       cfg.padding,
		outputPadding: cfg.outputPadding,
		weight:        make([]float64, inChannels*outChannels*kernelSize),
	}
	if cfg.bias {
		c.bias = make([]float64, outChannels)
	}

	return c, nil
}

// InChannels returns the expected input channel count.
func (c *ConvTranspose1d) InChannels() int { return c.inChannels }

// OutChannels returns the produced channel count.
func (c *ConvTranspose1d) OutChannels() int { return c.outChannels }

// OutputLength returns the time length produced for an input of length n.
func (c *ConvTranspose1d) OutputLength(n int) int {
	return (n-1)*c.stride - 2*c.padding + c.kernelSize + c.outputPadding
}

// Weight returns the live flat weight slice.
func (c *ConvTranspose1d) Weight() []float64 { return c.weight }

// Forward computes the transposed convolution of x.
func (c *ConvTranspose1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Channels() != c.inChannels {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, x.Channels(), c.inChannels)
	}

	outLen := c.OutputLength(x.Time())
	if outLen <= 0 {
		return nil, fmt.Errorf("%w: %d samples for kernel %d", ErrShortInput, x.Time(), c.kernelSize)
	}

	out, err := tensor.New(x.Batch(), c.outChannels, outLen)
	if err != nil {
		return nil, err
	}

	// Scatter into the uncropped length plus the outputPadding tail,
	// then crop padding from the front. The tail samples stay zero until
	// the bias is added, so the crop is in range even when outputPadding
	// exceeds padding.
	fullLen := (x.Time()-1)*c.stride + c.kernelSize + c.outputPadding
	full := make([]float64, fullLen)

	for b := 0; b < x.Batch(); b++ {
		for oc := 0; oc < c.outChannels; oc++ {
			for i := range full {
				full[i] = 0
			}

			for ic := 0; ic < c.inChannels; ic++ {
				inRow := x.Row(b, ic)
				wRow := c.weight[(ic*c.outChannels+oc)*c.kernelSize : (ic*c.outChannels+oc+1)*c.kernelSize]

				for t, v := range inRow {
					if v == 0 {
						continue
					}

					base := t * c.stride
					for k, w := range wRow {
						full[base+k] += v * w
					}
				}
			}

			outRow := out.Row(b, oc)
			copy(outRow, full[c.padding:c.padding+outLen])

			if c.bias != nil {
				bias := c.bias[oc]
				for t := range outRow {
					outRow[t] += bias
				}
			}
		}
	}

	return out, nil
}

// ResetParameters draws weights from N(0, 0.01) and zeroes the bias.
// An active weight-norm decomposition is recomputed from the new weights.
func (c *ConvTranspose1d) ResetParameters(rng *rand.Rand) {
	resetWeights(rng, c.weight, c.bias)
	if c.wn != nil {
		c.wn = newWeightNorm(c.weight, c.inChannels)
	}
}

// ApplyWeightNorm decomposes the weight into magnitude and direction.
// Applying twice is a no-op.
func (c *ConvTranspose1d) ApplyWeightNorm() {
	if c.wn != nil {
		return
	}

	c.wn = newWeightNorm(c.weight, c.inChannels)
}

// RemoveWeightNorm collapses the decomposition back into a plain
// weight tensor. Removing from a layer without weight norm is a no-op.
func (c *ConvTranspose1d) RemoveWeightNorm() {
	if c.wn == nil {
		return
	}

	c.wn.collapse(c.weight)
	c.wn = nil
}

// NumParameters returns the trainable parameter count.
func (c *ConvTranspose1d) NumParameters() int {
	return len(c.weight) + len(c.bias)
}
