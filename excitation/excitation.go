package excitation

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-vocoder/tensor"
)

var (
	// ErrInvalidConfig indicates an out-of-range configuration value.
	ErrInvalidConfig = errors.New("excitation: invalid configuration value")
	// ErrScaleHopMismatch indicates upsample scales whose product does
	// not equal the hop size.
	ErrScaleHopMismatch = errors.New("excitation: product of upsample scales must equal hop size")
	// ErrEmptyF0 indicates an empty fundamental-frequency track.
	ErrEmptyF0 = errors.New("excitation: empty f0 track")
	// ErrNegativeF0 indicates a negative fundamental frequency.
	ErrNegativeF0 = errors.New("excitation: f0 must be >= 0")
)

// Config describes excitation generation for one analysis setup.
type Config struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate float64
	// HopSize is the frame shift of the f0 track in samples.
	HopSize int
	// DenseFactor divides the pitch period when computing dilation
	// factors: factor = sampleRate / (f0 * denseFactor).
	DenseFactor float64
	// SineAmplitude scales the voiced sine component.
	SineAmplitude float64
	// NoiseAmplitude scales the Gaussian noise added to voiced frames.
	// Unvoiced frames receive noise at SineAmplitude/3.
	NoiseAmplitude float64
	// UpsampleScales mirrors the consuming generator's ladder.
	UpsampleScales []int
	// Seed drives the deterministic noise component.
	Seed int64
}

// DefaultConfig returns the reference setup: 24 kHz audio, 5 ms hop,
// and the (5, 4, 3, 2) ladder.
func DefaultConfig() Config {
	return Config{
		SampleRate:     24000,
		HopSize:        120,
		DenseFactor:    4,
		SineAmplitude:  0.1,
		NoiseAmplitude: 0.003,
		UpsampleScales: []int{5, 4, 3, 2},
		Seed:           1,
	}
}

// Generator converts per-frame f0 tracks into excitation signals and
// dilation factors.
type Generator struct {
	cfg Config

	// cumulative scale products, one per stage
	cum []int
}

// NewGenerator validates cfg and returns a generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %g", ErrInvalidConfig, cfg.SampleRate)
	}

	if cfg.HopSize <= 0 {
		return nil, fmt.Errorf("%w: hop size %d", ErrInvalidConfig, cfg.HopSize)
	}

	if cfg.DenseFactor <= 0 {
		return nil, fmt.Errorf("%w: dense factor %g", ErrInvalidConfig, cfg.DenseFactor)
	}

	if len(cfg.UpsampleScales) == 0 {
		return nil, fmt.Errorf("%w: no upsample scales", ErrInvalidConfig)
	}

	cum := make([]int, len(cfg.UpsampleScales))

	prod := 1
	for i, s := range cfg.UpsampleScales {
		if s <= 0 {
			return nil, fmt.Errorf("%w: scale[%d]=%d", ErrInvalidConfig, i, s)
		}

		prod *= s
		cum[i] = prod
	}

	if prod != cfg.HopSize {
		return nil, fmt.Errorf("%w: product %d, hop %d", ErrScaleHopMismatch, prod, cfg.HopSize)
	}

	return &Generator{cfg: cfg, cum: cum}, nil
}

// Signal generates the sine-based excitation waveform for a per-frame
// f0 track, shaped (1, 1, len(f0)*hopSize). Voiced samples carry a
// phase-continuous sine plus Gaussian noise; unvoiced samples carry
// noise only and freeze the phase.
func (g *Generator) Signal(f0 []float64) (*tensor.Tensor, error) {
	if len(f0) == 0 {
		return nil, ErrEmptyF0
	}

	out, err := tensor.New(1, 1, len(f0)*g.cfg.HopSize)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(g.cfg.Seed))
	row := out.Row(0, 0)

	phase := 0.0
	for fi, f := range f0 {
		if f < 0 {
			return nil, fmt.Errorf("%w: frame %d has %g", ErrNegativeF0, fi, f)
		}

		step := 2 * math.Pi * f / g.cfg.SampleRate

		for t := fi * g.cfg.HopSize; t < (fi+1)*g.cfg.HopSize; t++ {
			if f > 0 {
				phase += step
				row[t] = g.cfg.SineAmplitude*math.Sin(phase) + g.cfg.NoiseAmplitude*rng.NormFloat64()
			} else {
				row[t] = g.cfg.SineAmplitude / 3 * rng.NormFloat64()
			}
		}
	}

	return out, nil
}

// DilationFactors computes one dilation-factor tensor per upsampling
// stage: sampleRate/(f0*denseFactor) for voiced frames and exactly 1
// for unvoiced frames, repeated to each stage's temporal resolution
// (len(f0) times the cumulative scale product). Voiced factors are
// clamped to a floor of 1 so every value stays >= 1 even for f0 above
// sampleRate/denseFactor.
func (g *Generator) DilationFactors(f0 []float64) ([]*tensor.Tensor, error) {
	if len(f0) == 0 {
		return nil, ErrEmptyF0
	}

	perFrame := make([]float64, len(f0))
	for i, f := range f0 {
		switch {
		case f < 0:
			return nil, fmt.Errorf("%w: frame %d has %g", ErrNegativeF0, i, f)
		case f == 0:
			perFrame[i] = 1
		default:
			perFrame[i] = g.cfg.SampleRate / (f * g.cfg.DenseFactor)
			if perFrame[i] < 1 {
				perFrame[i] = 1
			}
		}
	}

	out := make([]*tensor.Tensor, len(g.cum))

	for stage, repeat := range g.cum {
		t, err := tensor.New(1, 1, len(f0)*repeat)
		if err != nil {
			return nil, err
		}

		row := t.Row(0, 0)
		for i, d := range perFrame {
			for k := 0; k < repeat; k++ {
				row[i*repeat+k] = d
			}
		}

		out[stage] = t
	}

	return out, nil
}
