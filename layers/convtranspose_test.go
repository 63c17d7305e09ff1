package layers

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-vocoder/internal/testutil"
	"github.com/cwbudde/algo-vocoder/tensor"
)

func TestNewConvTranspose1dValidation(t *testing.T) {
	tests := []struct {
		name    string
		in, out int
		kernel  int
		stride  int
		opts    []ConvOption
		wantErr error
	}{
		{"zero in channels", 0, 1, 4, 2, nil, ErrInvalidChannels},
		{"zero kernel", 1, 1, 0, 2, nil, ErrInvalidKernel},
		{"zero stride", 1, 1, 4, 0, nil, ErrInvalidStride},
		{"negative padding", 1, 1, 4, 2, []ConvOption{WithPadding(-1)}, ErrInvalidPadding},
		{"negative output padding", 1, 1, 4, 2, []ConvOption{WithOutputPadding(-1)}, ErrInvalidPadding},
		{"output padding equals stride", 1, 1, 4, 2, []ConvOption{WithOutputPadding(2)}, ErrInvalidPadding},
		{"output padding exceeds stride", 1, 1, 6, 3, []ConvOption{WithOutputPadding(4)}, ErrInvalidPadding},
		{"dilation unsupported", 1, 1, 4, 2, []ConvOption{WithDilation(2)}, ErrInvalidDilation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConvTranspose1d(tt.in, tt.out, tt.kernel, tt.stride, tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewConvTranspose1d() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Upsampling stages use kernel = 2*scale, padding = scale/2 + scale%2,
// and outputPadding = scale%2 so an input of n samples comes out as
// exactly n*scale, for even and odd scales alike.
func TestConvTranspose1dUpsampleLength(t *testing.T) {
	for _, scale := range []int{2, 3, 4, 5, 8} {
		c, err := NewConvTranspose1d(1, 1, 2*scale, scale,
			WithPadding(scale/2+scale%2),
			WithOutputPadding(scale%2))
		if err != nil {
			t.Fatalf("scale %d: NewConvTranspose1d() error = %v", scale, err)
		}

		for _, n := range []int{1, 7, 100} {
			if got := c.OutputLength(n); got != n*scale {
				t.Fatalf("scale %d: OutputLength(%d) = %d, want %d", scale, n, got, n*scale)
			}
		}
	}
}

func TestConvTranspose1dForwardKnownValues(t *testing.T) {
	c, err := NewConvTranspose1d(1, 1, 2, 2, WithoutBias())
	if err != nil {
		t.Fatalf("NewConvTranspose1d() error = %v", err)
	}
	c.weight[0] = 1
	c.weight[1] = 1

	x, _ := tensor.FromSlice(1, 1, 2, []float64{1, 2})

	y, err := c.Forward(x)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	// Each input sample is repeated stride times by the box kernel.
	testutil.RequireSliceNearlyEqual(t, y.Row(0, 0), []float64{1, 1, 2, 2}, 1e-12)
}

func TestConvTranspose1dForwardOverlap(t *testing.T) {
	// Kernel longer than the stride: adjacent scatters overlap and sum.
	c, err := NewConvTranspose1d(1, 1, 3, 2, WithoutBias())
	if err != nil {
		t.Fatalf("NewConvTranspose1d() error = %v", err)
	}
	for i := range c.weight {
		c.weight[i] = 1
	}

	x, _ := tensor.FromSlice(1, 1, 2, []float64{1, 2})

	y, err := c.Forward(x)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, y.Row(0, 0), []float64{1, 1, 3, 2, 2}, 1e-12)
}

func TestConvTranspose1dForwardOutputPaddingTail(t *testing.T) {
	// outputPadding larger than padding appends zeros past the scatter
	// range; the forward pass must not read beyond it.
	c, err := NewConvTranspose1d(1, 1, 4, 2, WithOutputPadding(1), WithoutBias())
	if err != nil {
		t.Fatalf("NewConvTranspose1d() error = %v", err)
	}
	for i := range c.weight {
		c.weight[i] = 1
	}

	x, _ := tensor.FromSlice(1, 1, 2, []float64{1, 2})

	y, err := c.Forward(x)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if got := y.Time(); got != c.OutputLength(2) {
		t.Fatalf("Forward() time = %d, want %d", got, c.OutputLength(2))
	}

	testutil.RequireSliceNearlyEqual(t, y.Row(0, 0), []float64{1, 1, 3, 3, 2, 2, 0}, 1e-12)
}

func TestConvTranspose1dForwardChannelMismatch(t *testing.T) {
	c, _ := NewConvTranspose1d(2, 1, 4, 2)
	x, _ := tensor.New(1, 3, 8)

	if _, err := c.Forward(x); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("Forward() error = %v, want ErrChannelMismatch", err)
	}
}

func TestConvTranspose1dResetParametersDeterministic(t *testing.T) {
	a, _ := NewConvTranspose1d(2, 2, 4, 2)
	b, _ := NewConvTranspose1d(2, 2, 4, 2)

	a.ResetParameters(rand.New(rand.NewSource(7)))
	b.ResetParameters(rand.New(rand.NewSource(7)))

	testutil.RequireSliceNearlyEqual(t, a.weight, b.weight, 0)
}

func TestConvTranspose1dNumParameters(t *testing.T) {
	c, _ := NewConvTranspose1d(2, 3, 4, 2)
	if got := c.NumParameters(); got != 2*3*4+3 {
		t.Fatalf("NumParameters() = %d, want %d", got, 2*3*4+3)
	}
}
