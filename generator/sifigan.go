package generator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/layers"
	"github.com/cwbudde/algo-vocoder/tensor"
)

// SourceNetworkConfig describes the excitation-generating half of a
// source-filter generator. Every stage carries one pitch-adaptive
// residual block; ResblockDilations holds one dilation set per stage.
type SourceNetworkConfig struct {
	ResblockKernelSize int
	ResblockDilations  [][]int
	UseAdditionalConvs bool
}

// FilterNetworkConfig describes the resonance-filtering half: per stage,
// a group of parallel residual blocks whose outputs are averaged.
type FilterNetworkConfig struct {
	ResblockKernelSizes []int
	ResblockDilations   [][]int
	UseAdditionalConvs  bool
}

// SiFiGANConfig describes a SiFiGAN generator.
type SiFiGANConfig struct {
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
	// ShareDownsamples makes the filter network condition through the
	// source network's downsample cascade instead of owning its own.
	ShareDownsamples bool

	Bias          bool
	Activation    layers.ActivationConfig
	UseWeightNorm bool

	// GinChannels is the width of the global speaker embedding; zero
	// disables speaker conditioning.
	GinChannels int
	// NumSpeakers is the speaker embedding vocabulary size.
	NumSpeakers int

	Seed int64
}

// DefaultSiFiGANConfig returns the reference configuration for 80-band
// mel conditioning at a hop size of 120 samples with a 12-speaker
// conditioning table.
func DefaultSiFiGANConfig() SiFiGANConfig {
	return SiFiGANConfig{
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
		GinChannels:   256,
		NumSpeakers:   12,
		Seed:          1,
	}
}

// speakerConditioning is a lookup embedding projected to the base
// channel width, added as a global bias to the initial feature map.
type speakerConditioning struct {
	embedding [][]float64
	proj      *layers.Conv1d
}

func newSpeakerConditioning(numSpeakers, ginChannels, channels int) (*speakerConditioning, error) {
	if numSpeakers <= 0 {
		return nil, fmt.Errorf("%w: speakers=%d", ErrInvalidConfig, numSpeakers)
	}

	proj, err := layers.NewConv1d(ginChannels, channels, 1)
	if err != nil {
		return nil, err
	}

	emb := make([][]float64, numSpeakers)
	for i := range emb {
		emb[i] = make([]float64, ginChannels)
	}

	return &speakerConditioning{embedding: emb, proj: proj}, nil
}

// addBias looks up speaker id, projects it, and adds the resulting
// channel bias to every time step of c.
func (s *speakerConditioning) addBias(c *tensor.Tensor, id int) error {
	if id < 0 || id >= len(s.embedding) {
		return fmt.Errorf("%w: id %d, vocabulary %d", ErrSpeakerRange, id, len(s.embedding))
	}

	g, err := tensor.FromSlice(1, len(s.embedding[id]), 1, s.embedding[id])
	if err != nil {
		return err
	}

	bias, err := s.proj.Forward(g)
	if err != nil {
		return err
	}

	for b := 0; b < c.Batch(); b++ {
		for ch := 0; ch < c.Channels(); ch++ {
			v := bias.At(0, ch, 0)

			row := c.Row(b, ch)
			for t := range row {
				row[t] += v
			}
		}
	}

	return nil
}

// ResetParameters draws the embedding table from N(0, 1) (the
// conventional lookup-table init) and resets the projection.
func (s *speakerConditioning) ResetParameters(rng *rand.Rand) {
	for _, row := range s.embedding {
		for i := range row {
			row[i] = rng.NormFloat64()
		}
	}

	s.proj.ResetParameters(rng)
}

// ApplyWeightNorm normalizes the projection convolution only; the
// lookup table is not a convolution weight.
func (s *speakerConditioning) ApplyWeightNorm() { s.proj.ApplyWeightNorm() }

// RemoveWeightNorm collapses the projection convolution's weight norm.
func (s *speakerConditioning) RemoveWeightNorm() { s.proj.RemoveWeightNorm() }

// NumParameters returns the table plus projection parameter count.
func (s *speakerConditioning) NumParameters() int {
	n := s.proj.NumParameters()
	if len(s.embedding) > 0 {
		n += len(s.embedding) * len(s.embedding[0])
	}

	return n
}

// SiFiGAN decomposes generation into a source network that produces an
// excitation waveform under pitch-adaptive residual blocks and a filter
// network that shapes it into audio. The filter network is conditioned
// on downsampled reprojections of the source network's final-stage
// activations.
type SiFiGAN struct {
	numStages int

	shareUpsamples   bool
	shareDownsamples bool

	act    func(float64) float64
	outAct func(float64) float64

	inputConv *layers.Conv1d
	speaker   *speakerConditioning

	snUpsamples []*layers.ConvTranspose1d
	snBlocks    []*layers.AdaptiveResidualBlock
	sine        *sineEmbedding
	snOutput    *layers.Conv1d

	fnUpsamples   []*layers.ConvTranspose1d // aliases snUpsamples when shared
	fnDownsamples []*layers.Conv1d          // aliases the sine cascade when shared
	fnBlocks      [][]*layers.ResidualBlock
	fnOutput      *layers.Conv1d

	params []paramLayer
}

// NewSiFiGAN validates cfg and builds the generator with initialized
// parameters.
func NewSiFiGAN(cfg SiFiGANConfig) (*SiFiGAN, error) {
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("%w: in=%d out=%d", ErrInvalidConfig, cfg.InChannels, cfg.OutChannels)
	}

	if cfg.GinChannels < 0 {
		return nil, fmt.Errorf("%w: gin channels=%d", ErrInvalidConfig, cfg.GinChannels)
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

	g := &SiFiGAN{
		numStages:        stages,
		shareUpsamples:   cfg.ShareUpsamples,
		shareDownsamples: cfg.ShareDownsamples,
		act:              act,
		outAct:           outputActivation(),
	}

	inOpts := []layers.ConvOption{layers.WithPadding((cfg.KernelSize - 1) / 2)}
	if !cfg.Bias {
		inOpts = append(inOpts, layers.WithoutBias())
	}

	g.inputConv, err = layers.NewConv1d(cfg.InChannels, cfg.Channels, cfg.KernelSize, inOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.GinChannels > 0 {
		g.speaker, err = newSpeakerConditioning(cfg.NumSpeakers, cfg.GinChannels, cfg.Channels)
		if err != nil {
			return nil, err
		}
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

	if cfg.ShareDownsamples {
		g.fnDownsamples = g.sine.downs
	} else {
		g.fnDownsamples, err = buildDownsamples(cfg.Channels, cfg.UpsampleScales, cfg.UpsampleKernelSizes, cfg.Bias)
		if err != nil {
			return nil, err
		}
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
	if g.speaker != nil {
		g.params = append(g.params, g.speaker)
	}

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

	if !cfg.ShareDownsamples {
		for _, down := range g.fnDownsamples {
			g.params = append(g.params, down)
		}
	}

	g.params = append(g.params, g.snOutput, g.fnOutput)

	g.ResetParameters(cfg.Seed)

	if cfg.UseWeightNorm {
		g.ApplyWeightNorm()
	}

	return g, nil
}

// NumStages returns the number of upsampling stages.
func (g *SiFiGAN) NumStages() int { return g.numStages }

// Forward computes the filtered audio waveform and the intermediate
// excitation waveform.
//
// excitation is the sine signal at output resolution, cond the
// conditioning features, dilations one pitch-derived dilation-factor
// tensor per stage, and speakerID an index into the conditioning
// vocabulary (ignored when speaker conditioning is disabled).
func (g *SiFiGAN) Forward(excitation, cond *tensor.Tensor, dilations []*tensor.Tensor, speakerID int) (audio, excOut *tensor.Tensor, err error) {
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

	if g.speaker != nil {
		if err := g.speaker.addBias(c, speakerID); err != nil {
			return nil, nil, err
		}
	}

	// Both networks start from the same conditioned feature map.
	e := c.Clone()

	embs, err := g.sine.forward(excitation)
	if err != nil {
		return nil, nil, err
	}

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
	}

	excOut, err = g.snOutput.Forward(activated(e, g.outAct))
	if err != nil {
		return nil, nil, err
	}

	// Walk the source network's final activations back down the pyramid
	// to condition every filter stage.
	conds := make([]*tensor.Tensor, g.numStages)
	conds[0] = e

	for j, down := range g.fnDownsamples {
		e, err = down.Forward(e)
		if err != nil {
			return nil, nil, err
		}

		e.Apply(g.act)
		conds[j+1] = e
	}

	for i := 0; i < g.numStages; i++ {
		c, err = g.fnUpsamples[i].Forward(activated(c, g.act))
		if err != nil {
			return nil, nil, err
		}

		if err := fuse(c, conds[g.numStages-1-i], i); err != nil {
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

// ResetParameters reinitializes every weight using a generator seeded
// with seed: convolutions from N(0, 0.01), the speaker table from
// N(0, 1).
func (g *SiFiGAN) ResetParameters(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range g.params {
		p.ResetParameters(rng)
	}
}

// ApplyWeightNorm applies weight normalization to every convolution.
func (g *SiFiGAN) ApplyWeightNorm() {
	for _, p := range g.params {
		p.ApplyWeightNorm()
	}
}

// RemoveWeightNorm collapses weight normalization on every convolution.
// Layers without weight norm are skipped.
func (g *SiFiGAN) RemoveWeightNorm() {
	for _, p := range g.params {
		p.RemoveWeightNorm()
	}
}

// NumParameters returns the total trainable parameter count. Shared
// layers are counted once.
func (g *SiFiGAN) NumParameters() int {
	n := 0
	for _, p := range g.params {
		n += p.NumParameters()
	}

	return n
}
