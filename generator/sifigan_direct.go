package generator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/layers"
	"github.com/cwbudde/algo-vocoder/tensor"
)

// SiFiGANDirectConfig describes a SiFiGANDirect generator: the same
// source-filter decomposition as SiFiGAN, but the filter network is
// conditioned directly on the source network's per-stage activations,
// so no downsample cascade (and no speaker conditioning) exists on the
// filter side.
type SiFiGANDirectConfig struct {
	InChannels  int
	OutChannels int
	Channels    int
	KernelSize  int

	UpsampleScales      []int
	UpsampleKernelSizes []int

	SourceNetwork SourceNetworkConfig
	FilterNetwork FilterNetworkConfig

	// ShareUpsamples makes the filter network reuse the source
	// network's transposed convolutions instead of owning its own.
	ShareUpsamples bool

	Bias          bool
	Activation    layers.ActivationConfig
	UseWeightNorm bool

	Seed int64
}

// DefaultSiFiGANDirectConfig returns the reference configuration for
// 80-band mel conditioning at a hop size of 120 samples.
func DefaultSiFiGANDirectConfig() SiFiGANDirectConfig {
	return SiFiGANDirectConfig{
		InChannels:          80,
		OutChannels:         1,
		Channels:            512,
		KernelSize:          7,
		UpsampleScales:      []int{5, 4, 3, 2},
		UpsampleKernelSizes: []int{10, 8, 6, 4},
		SourceNetwork: SourceNetworkConfig{
			ResblockKernelSize: 3,
			ResblockDilations: [][]int{
				{1},
				{1, 2},
				{1, 2, 4},
				{1, 2, 4, 8},
			},
			UseAdditionalConvs: true,
		},
		FilterNetwork: FilterNetworkConfig{
			ResblockKernelSizes: []int{3, 5, 7},
			ResblockDilations: [][]int{
				{1, 3, 5},
				{1, 3, 5},
				{1, 3, 5},
			},
		},
		Bias:          true,
		Activation:    layers.DefaultActivation(),
		UseWeightNorm: true,
		Seed:          1,
	}
}

// SiFiGANDirect is the direct-conditioning source-filter generator.
type SiFiGANDirect struct {
	numStages int

	shareUpsamples bool

	act    func(float64) float64
	outAct func(float64) float64

	inputConv *layers.Conv1d

	snUpsamples []*layers.ConvTranspose1d
	snBlocks    []*layers.AdaptiveResidualBlock
	sine        *sineEmbedding
	snOutput    *layers.Conv1d

	fnUpsamples []*layers.ConvTranspose1d // aliases snUpsamples when shared
	fnBlocks    [][]*layers.ResidualBlock
	fnOutput    *layers.Conv1d

	params []paramLayer
}

// NewSiFiGANDirect validates cfg and builds the generator with
// initialized parameters.
func NewSiFiGANDirect(cfg SiFiGANDirectConfig) (*SiFiGANDirect, error) {
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("%w: in=%d out=%d", ErrInvalidConfig, cfg.InChannels, cfg.OutChannels)
	}

	if err := validateLadder(cfg.Channels, cfg.KernelSize, cfg.UpsampleScales, cfg.UpsampleKernelSizes); err != nil {
		return nil, err
	}

	stages := len(cfg.UpsampleScales)

	if len(cfg.SourceNetwork.ResblockDilations) != stages {
		return nil, fmt.Errorf("%w: %d configs, %d stages", ErrDilationConfig, len(cfg.SourceNetwork.ResblockDilations), stages)
	}

	act, err := cfg.Activation.Resolve()
	if err != nil {
		return nil, err
	}

	g := &SiFiGANDirect{
		numStages:      stages,
		shareUpsamples: cfg.ShareUpsamples,
		act:            act,
		outAct:         outputActivation(),
	}

	inOpts := []layers.ConvOption{layers.WithPadding((cfg.KernelSize - 1) / 2)}
	if !cfg.Bias {
		inOpts = append(inOpts, layers.WithoutBias())
	}

	g.inputConv, err = layers.NewConv1d(cfg.InChannels, cfg.Channels, cfg.KernelSize, inOpts...)
	if err != nil {
		return nil, err
	}

	g.snUpsamples, err = buildUpsamples(cfg.Channels, cfg.UpsampleScales, cfg.UpsampleKernelSizes, cfg.Bias)
	if err != nil {
		return nil, err
	}

	if cfg.ShareUpsamples {
		g.fnUpsamples = g.snUpsamples
	} else {
		g.fnUpsamples, err = buildUpsamples(cfg.Channels, cfg.UpsampleScales, cfg.UpsampleKernelSizes, cfg.Bias)
		if err != nil {
			return nil, err
		}
	}

	g.snBlocks = make([]*layers.AdaptiveResidualBlock, stages)
	for i := range g.snBlocks {
		g.snBlocks[i], err = layers.NewAdaptiveResidualBlock(
			cfg.Channels>>(i+1),
			cfg.SourceNetwork.ResblockKernelSize,
			cfg.SourceNetwork.ResblockDilations[i],
			cfg.SourceNetwork.UseAdditionalConvs,
			cfg.Bias,
			cfg.Activation,
		)
		if err != nil {
			return nil, err
		}
	}

	g.fnBlocks, err = buildResidualGroups(cfg.Channels, stages,
		cfg.FilterNetwork.ResblockKernelSizes, cfg.FilterNetwork.ResblockDilations,
		cfg.FilterNetwork.UseAdditionalConvs, cfg.Bias, cfg.Activation)
	if err != nil {
		return nil, err
	}

	g.sine, err = newSineEmbedding(cfg.Channels, cfg.KernelSize,
		cfg.UpsampleScales, cfg.UpsampleKernelSizes, cfg.Bias, act)
	if err != nil {
		return nil, err
	}

	g.snOutput, err = newOutputConv(cfg.Channels, stages, cfg.OutChannels, cfg.KernelSize, cfg.Bias)
	if err != nil {
		return nil, err
	}

	g.fnOutput, err = newOutputConv(cfg.Channels, stages, cfg.OutChannels, cfg.KernelSize, cfg.Bias)
	if err != nil {
		return nil, err
	}

	g.params = append(g.params, g.inputConv)
	for _, up := range g.snUpsamples {
		g.params = append(g.params, up)
	}

	if !cfg.ShareUpsamples {
		for _, up := range g.fnUpsamples {
			g.params = append(g.params, up)
		}
	}

	for _, blk := range g.snBlocks {
		g.params = append(g.params, blk)
	}

	for _, group := range g.fnBlocks {
		for _, blk := range group {
			g.params = append(g.params, blk)
		}
	}

	g.params = append(g.params, g.sine.layers()...)
	g.params = append(g.params, g.snOutput, g.fnOutput)

	g.ResetParameters(cfg.Seed)

	if cfg.UseWeightNorm {
		g.ApplyWeightNorm()
	}

	return g, nil
}

// NumStages returns the number of upsampling stages.
func (g *SiFiGANDirect) NumStages() int { return g.numStages }

// Forward computes the filtered audio waveform and the intermediate
// excitation waveform. The filter network fuses the source network's
// stage-i activations into its own stage i, skipping the downsample
// cascade SiFiGAN uses.
func (g *SiFiGANDirect) Forward(excitation, cond *tensor.Tensor, dilations []*tensor.Tensor) (audio, excOut *tensor.Tensor, err error) {
	if cond == nil {
		return nil, nil, ErrMissingConditioning
	}

	if excitation == nil {
		return nil, nil, ErrMissingExcitation
	}

	if dilations == nil {
		return nil, nil, ErrMissingDilations
	}

	if len(dilations) != g.numStages {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrDilationCount, len(dilations), g.numStages)
	}

	c, err := g.inputConv.Forward(cond)
	if err != nil {
		return nil, nil, err
	}

	e := c.Clone()

	embs, err := g.sine.forward(excitation)
	if err != nil {
		return nil, nil, err
	}

	conds := make([]*tensor.Tensor, g.numStages)

	for i := 0; i < g.numStages; i++ {
		e, err = g.snUpsamples[i].Forward(activated(e, g.act))
		if err != nil {
			return nil, nil, err
		}

		if err := fuse(e, embs[g.numStages-1-i], i); err != nil {
			return nil, nil, err
		}

		e, err = g.snBlocks[i].Forward(e, dilations[i])
		if err != nil {
			return nil, nil, err
		}

		conds[i] = e
	}

	excOut, err = g.snOutput.Forward(activated(e, g.outAct))
	if err != nil {
		return nil, nil, err
	}

	for i := 0; i < g.numStages; i++ {
		c, err = g.fnUpsamples[i].Forward(activated(c, g.act))
		if err != nil {
			return nil, nil, err
		}

		if err := fuse(c, conds[i], i); err != nil {
			return nil, nil, err
		}

		c, err = averageBlocks(g.fnBlocks[i], c)
		if err != nil {
			return nil, nil, err
		}
	}

	audio, err = g.fnOutput.Forward(activated(c, g.outAct))
	if err != nil {
		return nil, nil, err
	}

	audio.Apply(math.Tanh)

	return audio, excOut, nil
}

// ResetParameters reinitializes every convolution weight from
// N(0, 0.01) using a generator seeded with seed.
func (g *SiFiGANDirect) ResetParameters(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range g.params {
		p.ResetParameters(rng)
	}
}

// ApplyWeightNorm applies weight normalization to every convolution.
func (g *SiFiGANDirect) ApplyWeightNorm() {
	for _, p := range g.params {
		p.ApplyWeightNorm()
	}
}

// RemoveWeightNorm collapses weight normalization on every convolution.
// Layers without weight norm are skipped.
func (g *SiFiGANDirect) RemoveWeightNorm() {
	for _, p := range g.params {
		p.RemoveWeightNorm()
	}
}

// NumParameters returns the total trainable parameter count. Shared
// layers are counted once.
func (g *SiFiGANDirect) NumParameters() int {
	n := 0
	for _, p := range g.params {
		n += p.NumParameters()
	}

	return n
}
