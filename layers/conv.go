package layers

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-vocoder/tensor"
)

// Errors returned by layer construction and forward passes.
var (
	// ErrInvalidChannels indicates a non-positive channel count.
	ErrInvalidChannels = errors.New("layers: invalid channel count")
	// ErrInvalidKernel indicates a non-positive kernel size.
	ErrInvalidKernel = errors.New("layers: invalid kernel size")
	// ErrInvalidStride indicates a non-positive stride.
	ErrInvalidStride = errors.New("layers: invalid stride")
	// ErrInvalidPadding indicates a negative padding.
	ErrInvalidPadding = errors.New("layers: invalid padding")
	// ErrInvalidDilation indicates a non-positive dilation.
	ErrInvalidDilation = errors.New("layers: invalid dilation")
	// ErrChannelMismatch indicates an input whose channel count differs
	// from the layer's input channel count.
	ErrChannelMismatch = errors.New("layers: input channel mismatch")
	// ErrShortInput indicates an input too short to produce any output sample.
	ErrShortInput = errors.New("layers: input too short")
)

// weightInitStdDev is the standard deviation of the zero-mean normal
// distribution all convolution weights are initialized from.
const weightInitStdDev = 0.01

type convConfig struct {
	stride        int
	padding       int
	outputPadding int
	dilation      int
	bias          bool
}

func defaultConvConfig() convConfig {
	return convConfig{stride: 1, dilation: 1, bias: true}
}

// ConvOption configures a convolution layer.
type ConvOption func(*convConfig)

// WithStride sets the stride.
func WithStride(n int) ConvOption {
	return func(cfg *convConfig) {
		cfg.stride = n
	}
}

// WithPadding sets the zero padding applied to both signal ends.
func WithPadding(n int) ConvOption {
	return func(cfg *convConfig) {
		cfg.padding = n
	}
}

// WithOutputPadding sets the extra trailing length added by a
// transposed convolution. Ignored by Conv1d.
func WithOutputPadding(n int) ConvOption {
	return func(cfg *convConfig) {
		cfg.outputPadding = n
	}
}

// WithDilation sets the dilation between kernel taps. Ignored by
// ConvTranspose1d.
func WithDilation(n int) ConvOption {
	return func(cfg *convConfig) {
		cfg.dilation = n
	}
}

// WithoutBias disables the additive bias term.
func WithoutBias() ConvOption {
	return func(cfg *convConfig) {
		cfg.bias = false
	}
}

func applyConvOptions(opts []ConvOption) convConfig {
	cfg := defaultConvConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}

// Conv1d is a 1-D convolution over (batch, channel, time) tensors.
//
// Weight layout is [outChannels][inChannels][kernelSize], so each
// output channel owns one contiguous row — the row weight
// normalization operates on.
type Conv1d struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int
	dilation    int

	weight []float64
	bias   []float64

	wn *weightNorm
}

// NewConv1d creates a convolution with zero-initialized parameters.
// Call ResetParameters to draw random weights.
func NewConv1d(inChannels, outChannels, kernelSize int, opts ...ConvOption) (*Conv1d, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("%w: in=%d out=%d", ErrInvalidChannels, inChannels, outChannels)
	}

	if kernelSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKernel, kernelSize)
	}

	cfg := applyConvOptions(opts)
	if cfg.stride <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStride, cfg.stride)
	}

	if cfg.padding < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPadding, cfg.padding)
	}

	if cfg.dilation <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDilation, cfg.dilation)
	}

	c := &Conv1d{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      cfg.stride,
		padding:     cfg.padding,
		dilation:    cfg.dilation,
		weight:      make([]float64, outChannels*inChannels*kernelSize),
	}
	if cfg.bias {
		c.bias = make([]float64, outChannels)
	}

	return c, nil
}

// InChannels returns the expected input channel count.
func (c *Conv1d) InChannels() int { return c.inChannels }

// OutChannels returns the produced channel count.
func (c *Conv1d) OutChannels() int { return c.outChannels }

// OutputLength returns the time length produced for an input of length n,
// or 0 when the input is too short. The quotient is floored explicitly:
// integer division truncates toward zero, which would turn a negative
// numerator into a spurious length of 1.
func (c *Conv1d) OutputLength(n int) int {
	span := c.dilation*(c.kernelSize-1) + 1

	num := n + 2*c.padding - span
	if num < 0 {
		return 0
	}

	return num/c.stride + 1
}

// Weight returns the live flat weight slice.
func (c *Conv1d) Weight() []float64 { return c.weight }

// Forward computes the convolution of x.
func (c *Conv1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Channels() != c.inChannels {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, x.Channels(), c.inChannels)
	}

	outLen := c.OutputLength(x.Time())
	if outLen <= 0 {
		return nil, fmt.Errorf("%w: %d samples for kernel %d (dilation %d)",
			ErrShortInput, x.Time(), c.kernelSize, c.dilation)
	}

	out, err := tensor.New(x.Batch(), c.outChannels, outLen)
	if err != nil {
		return nil, err
	}

	paddedLen := x.Time() + 2*c.padding
	padded := make([]float64, c.inChannels*paddedLen)
	scratch := make([]float64, outLen)

	for b := 0; b < x.Batch(); b++ {
		for i := range padded {
			padded[i] = 0
		}

		for ic := 0; ic < c.inChannels; ic++ {
			copy(padded[ic*paddedLen+c.padding:], x.Row(b, ic))
		}

		for oc := 0; oc < c.outChannels; oc++ {
			outRow := out.Row(b, oc)
			if c.bias != nil {
				for t := range outRow {
					outRow[t] = c.bias[oc]
				}
			}

			for ic := 0; ic < c.inChannels; ic++ {
				inRow := padded[ic*paddedLen : (ic+1)*paddedLen]
				wRow := c.weight[(oc*c.inChannels+ic)*c.kernelSize:]

				for k := 0; k < c.kernelSize; k++ {
					w := wRow[k]
					if w == 0 {
						continue
					}

					off := k * c.dilation
					if c.stride == 1 {
						// temp = input segment * w, then accumulate.
						vecmath.ScaleBlock(scratch, inRow[off:off+outLen], w)
						vecmath.AddBlockInPlace(outRow, scratch)
						continue
					}

					for t := 0; t < outLen; t++ {
						outRow[t] += w * inRow[t*c.stride+off]
					}
				}
			}
		}
	}

	return out, nil
}

// ResetParameters draws weights from N(0, 0.01) and zeroes the bias.
// An active weight-norm decomposition is recomputed from the new weights.
func (c *Conv1d) ResetParameters(rng *rand.Rand) {
	resetWeights(rng, c.weight, c.bias)
	if c.wn != nil {
		c.wn = newWeightNorm(c.weight, c.outChannels)
	}
}

// ApplyWeightNorm decomposes the weight into magnitude and direction.
// Applying twice is a no-op.
func (c *Conv1d) ApplyWeightNorm() {
	if c.wn != nil {
		return
	}

	c.wn = newWeightNorm(c.weight, c.outChannels)
}

// RemoveWeightNorm collapses the decomposition back into a plain
// weight tensor. Removing from a layer without weight norm is a no-op.
func (c *Conv1d) RemoveWeightNorm() {
	if c.wn == nil {
		return
	}

	c.wn.collapse(c.weight)
	c.wn = nil
}

// NumParameters returns the trainable parameter count.
func (c *Conv1d) NumParameters() int {
	return len(c.weight) + len(c.bias)
}

func resetWeights(rng *rand.Rand, weight, bias []float64) {
	for i := range weight {
		weight[i] = rng.NormFloat64() * weightInitStdDev
	}

	for i := range bias {
		bias[i] = 0
	}
}
