package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-vocoder/internal/testutil"
)

func tinyMelConfig() MelConfig {
	return MelConfig{
		SampleRate: 24000,
		FFTSize:    512,
		HopSize:    120,
		NumMels:    20,
		FMin:       80,
	}
}

func TestNewMelExtractorValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MelConfig)
		wantErr error
	}{
		{"zero sample rate", func(c *MelConfig) { c.SampleRate = 0 }, ErrInvalidConfig},
		{"fft not power of two", func(c *MelConfig) { c.FFTSize = 500 }, ErrFFTSize},
		{"fft size one", func(c *MelConfig) { c.FFTSize = 1 }, ErrFFTSize},
		{"zero hop", func(c *MelConfig) { c.HopSize = 0 }, ErrInvalidConfig},
		{"zero mels", func(c *MelConfig) { c.NumMels = 0 }, ErrInvalidConfig},
		{"negative fmin", func(c *MelConfig) { c.FMin = -1 }, ErrInvalidConfig},
		{"fmax below fmin", func(c *MelConfig) { c.FMin = 4000; c.FMax = 2000 }, ErrInvalidConfig},
		{"fmax above nyquist", func(c *MelConfig) { c.FMax = 20000 }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tinyMelConfig()
			tt.mutate(&cfg)

			if _, err := NewMelExtractor(cfg); !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewMelExtractor() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMelExtractorNumFrames(t *testing.T) {
	m, err := NewMelExtractor(tinyMelConfig())
	if err != nil {
		t.Fatalf("NewMelExtractor() error = %v", err)
	}

	tests := []struct {
		n, want int
	}{
		{0, 0},
		{511, 0},
		{512, 1},
		{512 + 119, 1},
		{512 + 120, 2},
		{512 + 10*120, 11},
	}

	for _, tt := range tests {
		if got := m.NumFrames(tt.n); got != tt.want {
			t.Fatalf("NumFrames(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestMelExtractorExtract(t *testing.T) {
	m, err := NewMelExtractor(tinyMelConfig())
	if err != nil {
		t.Fatalf("NewMelExtractor() error = %v", err)
	}

	samples := testutil.DeterministicSine(440, 24000, 0.5, 512+9*120)

	mel, err := m.Extract(samples)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if mel.Batch() != 1 || mel.Channels() != 20 || mel.Time() != 10 {
		t.Fatalf("shape (%d, %d, %d), want (1, 20, 10)", mel.Batch(), mel.Channels(), mel.Time())
	}

	testutil.RequireFinite(t, mel.Data())
}

func TestMelExtractorShortInput(t *testing.T) {
	m, err := NewMelExtractor(tinyMelConfig())
	if err != nil {
		t.Fatalf("NewMelExtractor() error = %v", err)
	}

	if _, err := m.Extract(make([]float64, 100)); !errors.Is(err, ErrShortInput) {
		t.Fatalf("Extract() error = %v, want ErrShortInput", err)
	}
}

func TestMelExtractorSilenceHitsFloor(t *testing.T) {
	m, err := NewMelExtractor(tinyMelConfig())
	if err != nil {
		t.Fatalf("NewMelExtractor() error = %v", err)
	}

	mel, err := m.Extract(make([]float64, 1024))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := math.Log(1e-10)
	for i, v := range mel.Data() {
		if v != want {
			t.Fatalf("bin %d = %v, want log floor %v", i, v, want)
		}
	}
}

func TestMelExtractorToneConcentratesEnergy(t *testing.T) {
	m, err := NewMelExtractor(tinyMelConfig())
	if err != nil {
		t.Fatalf("NewMelExtractor() error = %v", err)
	}

	samples := testutil.DeterministicSine(1000, 24000, 0.8, 2048)

	mel, err := m.Extract(samples)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	// The band with the most energy must sit clearly above the quietest.
	lo, hi := math.Inf(1), math.Inf(-1)
	for c := 0; c < mel.Channels(); c++ {
		v := mel.At(0, c, 0)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo < 1 {
		t.Fatalf("log-mel spread = %v, want a pronounced peak for a pure tone", hi-lo)
	}
}

func TestMelFilterbankRowsNonEmpty(t *testing.T) {
	bank := melFilterbank(20, 512, 24000, 80, 12000)
	if len(bank) != 20 {
		t.Fatalf("len(bank) = %d, want 20", len(bank))
	}

	for i, row := range bank {
		if len(row) != 257 {
			t.Fatalf("row %d has %d bins, want 257", i, len(row))
		}

		sum := 0.0
		for _, w := range row {
			if w < 0 || w > 1 {
				t.Fatalf("row %d has weight %v outside [0, 1]", i, w)
			}
			sum += w
		}
		if sum == 0 {
			t.Fatalf("filter %d has no support", i)
		}
	}
}

func TestHzMelRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 80, 440, 1000, 8000} {
		if got := melToHz(hzToMel(f)); math.Abs(got-f) > 1e-6 {
			t.Fatalf("melToHz(hzToMel(%v)) = %v", f, got)
		}
	}
}
