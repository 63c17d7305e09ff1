package generator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/layers"
	"github.com/cwbudde/algo-vocoder/tensor"
)

// outputActivation is the fixed leaky ReLU preceding every output head.
func outputActivation() func(float64) float64 {
	fn, err := layers.ActivationConfig{Kind: layers.ActivationLeakyReLU, Slope: 0.01}.Resolve()
	if err != nil {
		panic(err) // unreachable: the config is a known-good constant
	}

	return fn
}

// HiFiGANConfig describes a HiFiGAN generator, optionally extended with
// sine-embedding fusion and pitch-adaptive (quasi-periodic) residual
// blocks.
type HiFiGANConfig struct {
	InChannels  int
	OutChannels int
	Channels    int
	KernelSize  int

	UpsampleScales      []int
	UpsampleKernelSizes []int

	ResblockKernelSizes []int
	ResblockDilations   [][]int
	UseAdditionalConvs  bool

	QPResblockKernelSize int
	QPResblockDilations  [][]int
	QPUseAdditionalConvs bool

	UseSineEmbeddings bool
	UseQPResblocks    bool

	Bias          bool
	Activation    layers.ActivationConfig
	UseWeightNorm bool

	// Seed drives the deterministic weight initialization.
	Seed int64
}

// DefaultHiFiGANConfig returns the reference configuration for 80-band
// mel conditioning at a hop size of 120 samples.
func DefaultHiFiGANConfig() HiFiGANConfig {
	return HiFiGANConfig{
		InChannels:          80,
		OutChannels:         1,
		Channels:            512,
		KernelSize:          7,
		UpsampleScales:      []int{5, 4, 3, 2},
		UpsampleKernelSizes: []int{10, 8, 6, 4},
		ResblockKernelSizes: []int{3, 7, 11},
		ResblockDilations: [][]int{
			{1, 3, 5},
			{1, 3, 5},
			{1, 3, 5},
		},
		QPResblockKernelSize: 3,
		QPResblockDilations: [][]int{
			{1},
			{1, 2},
			{1, 2, 4},
			{1, 2, 4, 8},
		},
		QPUseAdditionalConvs: true,
		Bias:                 true,
		Activation:           layers.DefaultActivation(),
		UseWeightNorm:        true,
		Seed:                 1,
	}
}

// HiFiGAN converts conditioning features into a waveform through the
// upsampling ladder with per-stage residual block groups.
type HiFiGAN struct {
	numStages int

	act    func(float64) float64
	outAct func(float64) float64

	inputConv  *layers.Conv1d
	upsamples  []*layers.ConvTranspose1d
	qpBlocks   []*layers.AdaptiveResidualBlock
	blocks     [][]*layers.ResidualBlock
	sine       *sineEmbedding
	outputConv *layers.Conv1d

	params []paramLayer
}

// NewHiFiGAN validates cfg and builds the generator with initialized
// parameters.
func NewHiFiGAN(cfg HiFiGANConfig) (*HiFiGAN, error) {
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("%w: in=%d out=%d", ErrInvalidConfig, cfg.InChannels, cfg.OutChannels)
	}

	if err := validateLadder(cfg.Channels, cfg.KernelSize, cfg.UpsampleScales, cfg.UpsampleKernelSizes); err != nil {
		return nil, err
	}

	stages := len(cfg.UpsampleScales)

	if cfg.UseQPResblocks && len(cfg.QPResblockDilations) != stages {
		return nil, fmt.Errorf("%w: %d configs, %d stages", ErrDilationConfig, len(cfg.QPResblockDilations), stages)
	}

	act, err := cfg.Activation.Resolve()
	if err != nil {
		return nil, err
	}

	g := &HiFiGAN{
		numStages: stages,
		act:       act,
		outAct:    outputActivation(),
	}

	inOpts := []layers.ConvOption{layers.WithPadding((cfg.KernelSize - 1) / 2)}
	if !cfg.Bias {
		inOpts = append(inOpts, layers.WithoutBias())
	}

	g.inputConv, err = layers.NewConv1d(cfg.InChannels, cfg.Channels, cfg.KernelSize, inOpts...)
	if err != nil {
		return nil, err
	}

	g.upsamples, err = buildUpsamples(cfg.Channels, cfg.UpsampleScales, cfg.UpsampleKernelSizes, cfg.Bias)
	if err != nil {
		return nil, err
	}

	if cfg.UseQPResblocks {
		g.qpBlocks = make([]*layers.AdaptiveResidualBlock, stages)
		for i := range g.qpBlocks {
			g.qpBlocks[i], err = layers.NewAdaptiveResidualBlock(
				cfg.Channels>>(i+1),
				cfg.QPResblockKernelSize,
				cfg.QPResblockDilations[i],
				cfg.QPUseAdditionalConvs,
				cfg.Bias,
				cfg.Activation,
			)
			if err != nil {
				return nil, err
			}
		}
	}

	g.blocks, err = buildResidualGroups(cfg.Channels, stages,
		cfg.ResblockKernelSizes, cfg.ResblockDilations,
		cfg.UseAdditionalConvs, cfg.Bias, cfg.Activation)
	if err != nil {
		return nil, err
	}

	if cfg.UseSineEmbeddings {
		g.sine, err = newSineEmbedding(cfg.Channels, cfg.KernelSize,
			cfg.UpsampleScales, cfg.UpsampleKernelSizes, cfg.Bias, act)
		if err != nil {
			return nil, err
		}
	}

	g.outputConv, err = newOutputConv(cfg.Channels, stages, cfg.OutChannels, cfg.KernelSize, cfg.Bias)
	if err != nil {
		return nil, err
	}

	g.params = append(g.params, g.inputConv)
	for _, up := range g.upsamples {
		g.params = append(g.params, up)
	}

	for _, qp := range g.qpBlocks {
		g.params = append(g.params, qp)
	}

	for _, group := range g.blocks {
		for _, blk := range group {
			g.params = append(g.params, blk)
		}
	}

	if g.sine != nil {
		g.params = append(g.params, g.sine.layers()...)
	}

	g.params = append(g.params, g.outputConv)

	g.ResetParameters(cfg.Seed)

	if cfg.UseWeightNorm {
		g.ApplyWeightNorm()
	}

	return g, nil
}

// NumStages returns the number of upsampling stages.
func (g *HiFiGAN) NumStages() int { return g.numStages }

// Forward computes the waveform for conditioning features cond, shaped
// (batch, inChannels, frames).
//
// excitation is the sine signal at output resolution, required only
// when sine embeddings are enabled; dilations holds one per-stage
// pitch-derived dilation-factor tensor, required only when
// quasi-periodic residual blocks are enabled. Both may be nil
// otherwise.
func (g *HiFiGAN) Forward(excitation, cond *tensor.Tensor, dilations []*tensor.Tensor) (*tensor.Tensor, error) {
	if cond == nil {
		return nil, ErrMissingConditioning
	}

	var (
		embs []*tensor.Tensor
		err  error
	)

	if g.sine != nil {
		if excitation == nil {
			return nil, ErrMissingExcitation
		}

		embs, err = g.sine.forward(excitation)
		if err != nil {
			return nil, err
		}
	}

	if g.qpBlocks != nil {
		if dilations == nil {
			return nil, ErrMissingDilations
		}

		if len(dilations) != g.numStages {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDilationCount, len(dilations), g.numStages)
		}
	}

	c, err := g.inputConv.Forward(cond)
	if err != nil {
		return nil, err
	}

	for i := 0; i < g.numStages; i++ {
		c, err = g.upsamples[i].Forward(activated(c, g.act))
		if err != nil {
			return nil, err
		}

		if embs != nil {
			if err := fuse(c, embs[g.numStages-1-i], i); err != nil {
				return nil, err
			}
		}

		if g.qpBlocks != nil {
			c, err = g.qpBlocks[i].Forward(c, dilations[i])
			if err != nil {
				return nil, err
			}
		}

		c, err = averageBlocks(g.blocks[i], c)
		if err != nil {
			return nil, err
		}
	}

	out, err := g.outputConv.Forward(activated(c, g.outAct))
	if err != nil {
		return nil, err
	}

	out.Apply(math.Tanh)

	return out, nil
}

// ResetParameters reinitializes every convolution weight from
// N(0, 0.01) using a generator seeded with seed.
func (g *HiFiGAN) ResetParameters(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range g.params {
		p.ResetParameters(rng)
	}
}

// ApplyWeightNorm applies weight normalization to every convolution.
func (g *HiFiGAN) ApplyWeightNorm() {
	for _, p := range g.params {
		p.ApplyWeightNorm()
	}
}

// RemoveWeightNorm collapses weight normalization on every convolution,
// leaving plain weight tensors for inference or export. Layers without
// weight norm are skipped.
func (g *HiFiGAN) RemoveWeightNorm() {
	for _, p := range g.params {
		p.RemoveWeightNorm()
	}
}

// NumParameters returns the total trainable parameter count.
func (g *HiFiGAN) NumParameters() int {
	n := 0
	for _, p := range g.params {
		n += p.NumParameters()
	}

	return n
}
