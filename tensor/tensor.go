package tensor

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-vecmath"
)

var (
	// ErrInvalidShape indicates a non-positive dimension.
	ErrInvalidShape = errors.New("tensor: invalid shape")
	// ErrShapeMismatch indicates incompatible shapes in an elementwise operation.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
	// ErrDataLength indicates a backing slice whose length does not match the shape.
	ErrDataLength = errors.New("tensor: data length does not match shape")
)

// Tensor is a rank-3 (batch, channel, time) array.
//
// Element (b, c, t) lives at data[(b*channels+c)*time + t].
type Tensor struct {
	data     []float64
	batch    int
	channels int
	time     int
}

// New returns a zero-filled tensor of the given shape.
func New(batch, channels, time int) (*Tensor, error) {
	if batch <= 0 || channels <= 0 || time <= 0 {
		return nil, fmt.Errorf("%w: (%d, %d, %d)", ErrInvalidShape, batch, channels, time)
	}

	return &Tensor{
		data:     make([]float64, batch*channels*time),
		batch:    batch,
		channels: channels,
		time:     time,
	}, nil
}

// FromSlice wraps data as a tensor of the given shape without copying.
// The slice length must equal batch*channels*time.
func FromSlice(batch, channels, time int, data []float64) (*Tensor, error) {
	if batch <= 0 || channels <= 0 || time <= 0 {
		return nil, fmt.Errorf("%w: (%d, %d, %d)", ErrInvalidShape, batch, channels, time)
	}

	if len(data) != batch*channels*time {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDataLength, len(data), batch*channels*time)
	}

	return &Tensor{data: data, batch: batch, channels: channels, time: time}, nil
}

// Batch returns the batch dimension.
func (t *Tensor) Batch() int { return t.batch }

// Channels returns the channel dimension.
func (t *Tensor) Channels() int { return t.channels }

// Time returns the time dimension.
func (t *Tensor) Time() int { return t.time }

// Len returns the total element count.
func (t *Tensor) Len() int { return len(t.data) }

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.batch == o.batch && t.channels == o.channels && t.time == o.time
}

// At returns element (b, c, i). Indices are not range-checked beyond
// the slice bounds of the backing store.
func (t *Tensor) At(b, c, i int) float64 {
	return t.data[(b*t.channels+c)*t.time+i]
}

// Set assigns element (b, c, i).
func (t *Tensor) Set(b, c, i int, v float64) {
	t.data[(b*t.channels+c)*t.time+i] = v
}

// Row returns the live sample row of channel c in batch b.
// Mutating the returned slice mutates the tensor.
func (t *Tensor) Row(b, c int) []float64 {
	start := (b*t.channels + c) * t.time
	return t.data[start : start+t.time]
}

// Data returns the live backing slice.
func (t *Tensor) Data() []float64 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)

	return &Tensor{data: data, batch: t.batch, channels: t.channels, time: t.time}
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.data {
		t.data[i] = v
	}
}

// Add returns the elementwise sum of t and o as a new tensor.
func (t *Tensor) Add(o *Tensor) (*Tensor, error) {
	if !t.SameShape(o) {
		return nil, fmt.Errorf("%w: (%d, %d, %d) vs (%d, %d, %d)", ErrShapeMismatch,
			t.batch, t.channels, t.time, o.batch, o.channels, o.time)
	}

	out := &Tensor{
		data:     make([]float64, len(t.data)),
		batch:    t.batch,
		channels: t.channels,
		time:     t.time,
	}
	vecmath.AddBlock(out.data, t.data, o.data)

	return out, nil
}

// AddInPlace adds o elementwise into t.
func (t *Tensor) AddInPlace(o *Tensor) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: (%d, %d, %d) vs (%d, %d, %d)", ErrShapeMismatch,
			t.batch, t.channels, t.time, o.batch, o.channels, o.time)
	}

	vecmath.AddBlockInPlace(t.data, o.data)

	return nil
}

// Scale multiplies every element by s.
func (t *Tensor) Scale(s float64) {
	vecmath.ScaleBlockInPlace(t.data, s)
}

// Apply replaces every element x with fn(x).
func (t *Tensor) Apply(fn func(float64) float64) {
	for i, v := range t.data {
		t.data[i] = fn(v)
	}
}
