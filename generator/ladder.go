package generator

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/layers"
	"github.com/cwbudde/algo-vocoder/tensor"
)

// Configuration and forward-time errors shared by the generator family.
var (
	// ErrInvalidConfig indicates a non-positive channel count or other
	// out-of-range scalar configuration value.
	ErrInvalidConfig = errors.New("generator: invalid configuration value")
	// ErrStageCountMismatch indicates upsample scale and kernel lists of
	// different lengths.
	ErrStageCountMismatch = errors.New("generator: upsample scale and kernel size lists differ in length")
	// ErrKernelScale indicates an upsample kernel size that is not twice
	// its stage scale.
	ErrKernelScale = errors.New("generator: upsample kernel size must equal 2*scale")
	// ErrEvenBaseKernel indicates an even initial/final kernel size.
	ErrEvenBaseKernel = errors.New("generator: base kernel size must be odd")
	// ErrChannelSplit indicates a base channel count that does not halve
	// evenly across all stages.
	ErrChannelSplit = errors.New("generator: channels must be divisible by 2^stages")
	// ErrBlockConfigMismatch indicates residual-block kernel and dilation
	// lists of different lengths.
	ErrBlockConfigMismatch = errors.New("generator: resblock kernel and dilation lists differ in length")
	// ErrDilationConfig indicates adaptive-block dilation configs whose
	// count differs from the stage count.
	ErrDilationConfig = errors.New("generator: adaptive dilation config count must match stage count")
	// ErrMissingConditioning indicates a nil conditioning tensor.
	ErrMissingConditioning = errors.New("generator: conditioning features required")
	// ErrMissingExcitation indicates a nil excitation tensor for a
	// generator configured with sine embeddings.
	ErrMissingExcitation = errors.New("generator: excitation signal required")
	// ErrExcitationShape indicates an excitation tensor that is not
	// single-channel.
	ErrExcitationShape = errors.New("generator: excitation must have one channel")
	// ErrMissingDilations indicates missing dilation-factor tensors for a
	// generator with adaptive blocks.
	ErrMissingDilations = errors.New("generator: dilation factors required")
	// ErrDilationCount indicates a dilation-factor list whose length
	// differs from the stage count.
	ErrDilationCount = errors.New("generator: dilation factor count must match stage count")
	// ErrTimeMismatch indicates an excitation embedding whose time length
	// disagrees with the upsampled features it is fused into.
	ErrTimeMismatch = errors.New("generator: time axis mismatch")
	// ErrSpeakerRange indicates a speaker id outside the embedding
	// vocabulary.
	ErrSpeakerRange = errors.New("generator: speaker id out of range")
)

// paramLayer is the lifecycle surface every weight-bearing sub-layer
// exposes.
type paramLayer interface {
	ResetParameters(rng *rand.Rand)
	ApplyWeightNorm()
	RemoveWeightNorm()
	NumParameters() int
}

// validateLadder checks the stage descriptors shared by all variants.
func validateLadder(channels, kernelSize int, scales, kernels []int) error {
	if channels <= 0 {
		return fmt.Errorf("%w: channels=%d", ErrInvalidConfig, channels)
	}

	if kernelSize <= 0 {
		return fmt.Errorf("%w: kernel size=%d", ErrInvalidConfig, kernelSize)
	}

	if kernelSize%2 == 0 {
		return fmt.Errorf("%w: %d", ErrEvenBaseKernel, kernelSize)
	}

	if len(scales) == 0 {
		return fmt.Errorf("%w: no upsample stages", ErrInvalidConfig)
	}

	if len(scales) != len(kernels) {
		return fmt.Errorf("%w: %d scales, %d kernel sizes", ErrStageCountMismatch, len(scales), len(kernels))
	}

	for i, s := range scales {
		if s <= 0 {
			return fmt.Errorf("%w: scale[%d]=%d", ErrInvalidConfig, i, s)
		}

		if kernels[i] != 2*s {
			return fmt.Errorf("%w: stage %d has kernel %d, scale %d", ErrKernelScale, i, kernels[i], s)
		}
	}

	n := len(scales)
	if channels%(1<<n) != 0 || channels>>n <= 0 {
		return fmt.Errorf("%w: channels=%d, stages=%d", ErrChannelSplit, channels, n)
	}

	return nil
}

// buildUpsamples creates one transposed convolution per stage.
// Stage i maps channels>>i to channels>>(i+1) and multiplies the time
// length by scales[i] exactly, for even and odd scales alike.
func buildUpsamples(channels int, scales, kernels []int, bias bool) ([]*layers.ConvTranspose1d, error) {
	ups := make([]*layers.ConvTranspose1d, len(scales))

	for i, s := range scales {
		opts := []layers.ConvOption{
			layers.WithPadding(s/2 + s%2),
			layers.WithOutputPadding(s % 2),
		}
		if !bias {
			opts = append(opts, layers.WithoutBias())
		}

		up, err := layers.NewConvTranspose1d(channels>>i, channels>>(i+1), kernels[i], s, opts...)
		if err != nil {
			return nil, err
		}

		ups[i] = up
	}

	return ups, nil
}

// downPadding returns the padding that makes a strided downsampling
// convolution undo one upsampling stage exactly: scale-1 for even
// kernels, scale for odd ones.
func downPadding(kernelSize, scale int) int {
	if kernelSize%2 == 0 {
		return scale - 1
	}

	return scale
}

// buildDownsamples creates the strided convolutions that walk the
// channel pyramid back down, finest to coarsest. Entry j undoes
// upsampling stage len(scales)-1-j; only the stages-1 layers the
// cascade actually traverses are built.
func buildDownsamples(channels int, scales, kernels []int, bias bool) ([]*layers.Conv1d, error) {
	n := len(scales)
	downs := make([]*layers.Conv1d, n-1)

	for j := 0; j < n-1; j++ {
		i := n - 1 - j

		opts := []layers.ConvOption{
			layers.WithStride(scales[i]),
			layers.WithPadding(downPadding(kernels[i], scales[i])),
		}
		if !bias {
			opts = append(opts, layers.WithoutBias())
		}

		down, err := layers.NewConv1d(channels>>(i+1), channels>>i, kernels[i], opts...)
		if err != nil {
			return nil, err
		}

		downs[j] = down
	}

	return downs, nil
}

// sineEmbedding embeds the raw excitation signal into the channel
// pyramid: one initial convolution at full resolution plus the
// downsample cascade to every coarser stage resolution.
type sineEmbedding struct {
	act   func(float64) float64
	emb   *layers.Conv1d
	downs []*layers.Conv1d
}

func newSineEmbedding(channels, kernelSize int, scales, kernels []int, bias bool, act func(float64) float64) (*sineEmbedding, error) {
	opts := []layers.ConvOption{layers.WithPadding((kernelSize - 1) / 2)}
	if !bias {
		opts = append(opts, layers.WithoutBias())
	}

	emb, err := layers.NewConv1d(1, channels>>len(scales), kernelSize, opts...)
	if err != nil {
		return nil, err
	}

	downs, err := buildDownsamples(channels, scales, kernels, bias)
	if err != nil {
		return nil, err
	}

	return &sineEmbedding{act: act, emb: emb, downs: downs}, nil
}

// forward returns one embedding per stage, index 0 at full (output)
// resolution and the last at the bottleneck resolution. Stage i of a
// ladder fuses embedding len(embs)-1-i.
func (s *sineEmbedding) forward(x *tensor.Tensor) ([]*tensor.Tensor, error) {
	if x.Channels() != 1 {
		return nil, fmt.Errorf("%w: got %d channels", ErrExcitationShape, x.Channels())
	}

	e, err := s.emb.Forward(x)
	if err != nil {
		return nil, err
	}

	embs := make([]*tensor.Tensor, len(s.downs)+1)
	embs[0] = e

	for j, down := range s.downs {
		e, err = down.Forward(e)
		if err != nil {
			return nil, err
		}

		e.Apply(s.act)
		embs[j+1] = e
	}

	return embs, nil
}

func (s *sineEmbedding) layers() []paramLayer {
	out := []paramLayer{s.emb}
	for _, d := range s.downs {
		out = append(out, d)
	}

	return out
}

// buildResidualGroups creates the per-stage banks of parallel residual
// blocks for a ladder of the given depth.
func buildResidualGroups(channels, stages int, kernels []int, dilations [][]int, additional, bias bool, act layers.ActivationConfig) ([][]*layers.ResidualBlock, error) {
	if len(kernels) == 0 || len(kernels) != len(dilations) {
		return nil, fmt.Errorf("%w: %d kernels, %d dilation sets", ErrBlockConfigMismatch, len(kernels), len(dilations))
	}

	groups := make([][]*layers.ResidualBlock, stages)
	for i := range groups {
		groups[i] = make([]*layers.ResidualBlock, len(kernels))

		for j, k := range kernels {
			blk, err := layers.NewResidualBlock(channels>>(i+1), k, dilations[j], additional, bias, act)
			if err != nil {
				return nil, err
			}

			groups[i][j] = blk
		}
	}

	return groups, nil
}

// averageBlocks runs every block of a group on x and returns the
// arithmetic mean of the outputs. Averaging rather than summing keeps
// the activation scale independent of the group size.
func averageBlocks(blocks []*layers.ResidualBlock, x *tensor.Tensor) (*tensor.Tensor, error) {
	var acc *tensor.Tensor

	for _, blk := range blocks {
		y, err := blk.Forward(x)
		if err != nil {
			return nil, err
		}

		if acc == nil {
			acc = y
			continue
		}

		if err := acc.AddInPlace(y); err != nil {
			return nil, err
		}
	}

	acc.Scale(1 / float64(len(blocks)))

	return acc, nil
}

// activated returns a copy of x with fn applied elementwise.
func activated(x *tensor.Tensor, fn func(float64) float64) *tensor.Tensor {
	y := x.Clone()
	y.Apply(fn)

	return y
}

// fuse adds an embedding into upsampled features after checking the
// time axes agree exactly.
func fuse(c, e *tensor.Tensor, stage int) error {
	if c.Time() != e.Time() {
		return fmt.Errorf("%w: stage %d has %d samples, embedding has %d", ErrTimeMismatch, stage, c.Time(), e.Time())
	}

	return c.AddInPlace(e)
}

// newOutputConv builds the head convolution collapsing the last-stage
// channel count (channels >> stages, computed from the validated stage
// count) to the output channel count.
func newOutputConv(channels, stages, outChannels, kernelSize int, bias bool) (*layers.Conv1d, error) {
	opts := []layers.ConvOption{layers.WithPadding((kernelSize - 1) / 2)}
	if !bias {
		opts = append(opts, layers.WithoutBias())
	}

	return layers.NewConv1d(channels>>stages, outChannels, kernelSize, opts...)
}
