package feature

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-vocoder/tensor"
)

var (
	// ErrInvalidConfig indicates an out-of-range configuration value.
	ErrInvalidConfig = errors.New("feature: invalid configuration value")
	// ErrFFTSize indicates an FFT size that is not a power of two.
	ErrFFTSize = errors.New("feature: fft size must be a power of two")
	// ErrShortInput indicates audio shorter than one analysis frame.
	ErrShortInput = errors.New("feature: input shorter than one frame")
)

// MelConfig describes log-mel extraction.
type MelConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate float64
	// FFTSize is the analysis frame and transform length (power of two).
	FFTSize int
	// HopSize is the frame shift in samples.
	HopSize int
	// NumMels is the mel band count.
	NumMels int
	// FMin and FMax bound the filterbank in Hz. A zero FMax selects the
	// Nyquist frequency.
	FMin float64
	FMax float64
	// LogFloor clamps the power before the log is taken. Zero selects
	// 1e-10.
	LogFloor float64
}

// DefaultMelConfig returns the reference 80-band setup at 24 kHz with a
// 5 ms hop.
func DefaultMelConfig() MelConfig {
	return MelConfig{
		SampleRate: 24000,
		FFTSize:    2048,
		HopSize:    120,
		NumMels:    80,
		FMin:       80,
	}
}

// MelExtractor computes log-mel spectrograms with a reusable FFT plan
// and filterbank.
type MelExtractor struct {
	cfg      MelConfig
	plan     *algofft.Plan[complex128]
	window   []float64
	bank     [][]float64 // [mel][bin] triangle weights
	logFloor float64
}

// NewMelExtractor validates cfg and prepares the window, FFT plan, and
// mel filterbank.
func NewMelExtractor(cfg MelConfig) (*MelExtractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %g", ErrInvalidConfig, cfg.SampleRate)
	}

	if cfg.FFTSize <= 1 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrFFTSize, cfg.FFTSize)
	}

	if cfg.HopSize <= 0 {
		return nil, fmt.Errorf("%w: hop size %d", ErrInvalidConfig, cfg.HopSize)
	}

	if cfg.NumMels <= 0 {
		return nil, fmt.Errorf("%w: mel bands %d", ErrInvalidConfig, cfg.NumMels)
	}

	fMax := cfg.FMax
	if fMax == 0 {
		fMax = cfg.SampleRate / 2
	}

	if cfg.FMin < 0 || fMax <= cfg.FMin || fMax > cfg.SampleRate/2 {
		return nil, fmt.Errorf("%w: band %g..%g Hz", ErrInvalidConfig, cfg.FMin, fMax)
	}

	plan, err := algofft.NewPlan64(cfg.FFTSize)
	if err != nil {
		return nil, fmt.Errorf("feature: failed to create FFT plan: %w", err)
	}

	logFloor := cfg.LogFloor
	if logFloor <= 0 {
		logFloor = 1e-10
	}

	return &MelExtractor{
		cfg:      cfg,
		plan:     plan,
		window:   hannWindow(cfg.FFTSize),
		bank:     melFilterbank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.FMin, fMax),
		logFloor: logFloor,
	}, nil
}

// NumFrames returns the frame count produced for n input samples, or 0
// when n is shorter than one frame.
func (m *MelExtractor) NumFrames(n int) int {
	if n < m.cfg.FFTSize {
		return 0
	}

	return 1 + (n-m.cfg.FFTSize)/m.cfg.HopSize
}

// Extract computes the (1, numMels, frames) log-mel spectrogram of
// samples.
func (m *MelExtractor) Extract(samples []float64) (*tensor.Tensor, error) {
	frames := m.NumFrames(len(samples))
	if frames == 0 {
		return nil, fmt.Errorf("%w: %d samples, frame %d", ErrShortInput, len(samples), m.cfg.FFTSize)
	}

	out, err := tensor.New(1, m.cfg.NumMels, frames)
	if err != nil {
		return nil, err
	}

	n := m.cfg.FFTSize
	bins := n/2 + 1

	buf := make([]complex128, n)
	spec := make([]complex128, n)
	re := make([]float64, bins)
	im := make([]float64, bins)
	power := make([]float64, bins)

	for f := 0; f < frames; f++ {
		start := f * m.cfg.HopSize
		for i := 0; i < n; i++ {
			buf[i] = complex(samples[start+i]*m.window[i], 0)
		}

		if err := m.plan.Forward(spec, buf); err != nil {
			return nil, fmt.Errorf("feature: fft: %w", err)
		}

		for i := 0; i < bins; i++ {
			re[i] = real(spec[i])
			im[i] = imag(spec[i])
		}

		vecmath.Power(power, re, im)

		for mel := 0; mel < m.cfg.NumMels; mel++ {
			v := vecmath.DotProduct(m.bank[mel], power)
			if v < m.logFloor {
				v = m.logFloor
			}

			out.Set(0, mel, f, math.Log(v))
		}
	}

	return out, nil
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}

	return w
}

// hzToMel converts Hz to the HTK mel scale.
func hzToMel(f float64) float64 {
	return 2595 * math.Log10(1+f/700)
}

func melToHz(m float64) float64 {
	return 700 * (math.Pow(10, m/2595) - 1)
}

// melFilterbank builds numMels triangular filters over fftSize/2+1
// linear-frequency bins.
func melFilterbank(numMels, fftSize int, sampleRate, fMin, fMax float64) [][]float64 {
	bins := fftSize/2 + 1

	melMin := hzToMel(fMin)
	melMax := hzToMel(fMax)

	// numMels+2 edge frequencies, evenly spaced on the mel scale.
	edges := make([]float64, numMels+2)
	for i := range edges {
		mel := melMin + (melMax-melMin)*float64(i)/float64(numMels+1)
		edges[i] = melToHz(mel)
	}

	bank := make([][]float64, numMels)
	for mel := range bank {
		bank[mel] = make([]float64, bins)

		lo, mid, hi := edges[mel], edges[mel+1], edges[mel+2]
		for bin := 0; bin < bins; bin++ {
			f := float64(bin) * sampleRate / float64(fftSize)

			switch {
			case f <= lo || f >= hi:
				// outside the triangle
			case f <= mid:
				bank[mel][bin] = (f - lo) / (mid - lo)
			default:
				bank[mel][bin] = (hi - f) / (hi - mid)
			}
		}
	}

	return bank
}
