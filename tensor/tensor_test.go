package tensor

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	x, err := New(2, 3, 4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if x.Batch() != 2 || x.Channels() != 3 || x.Time() != 4 {
		t.Fatalf("shape = (%d, %d, %d), want (2, 3, 4)", x.Batch(), x.Channels(), x.Time())
	}
	if x.Len() != 24 {
		t.Fatalf("Len() = %d, want 24", x.Len())
	}
	for _, v := range x.Data() {
		if v != 0 {
			t.Fatalf("new tensor not zero-initialized: %v", v)
		}
	}
}

func TestNewInvalidShape(t *testing.T) {
	cases := [][3]int{
		{0, 1, 1},
		{1, 0, 1},
		{1, 1, 0},
		{-1, 2, 2},
	}
	for _, c := range cases {
		if _, err := New(c[0], c[1], c[2]); !errors.Is(err, ErrInvalidShape) {
			t.Fatalf("New(%d, %d, %d) error = %v, want ErrInvalidShape", c[0], c[1], c[2], err)
		}
	}
}

func TestFromSlice(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6}
	x, err := FromSlice(1, 2, 3, data)
	if err != nil {
		t.Fatalf("FromSlice() error = %v", err)
	}
	if x.At(0, 1, 2) != 6 {
		t.Fatalf("At(0, 1, 2) = %v, want 6", x.At(0, 1, 2))
	}

	if _, err := FromSlice(1, 2, 3, data[:4]); !errors.Is(err, ErrDataLength) {
		t.Fatalf("FromSlice() short data error = %v, want ErrDataLength", err)
	}
}

func TestAtSetRow(t *testing.T) {
	x, err := New(2, 2, 3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	x.Set(1, 1, 2, 7)
	if x.At(1, 1, 2) != 7 {
		t.Fatalf("At(1, 1, 2) = %v, want 7", x.At(1, 1, 2))
	}

	row := x.Row(1, 1)
	if len(row) != 3 {
		t.Fatalf("Row length = %d, want 3", len(row))
	}
	if row[2] != 7 {
		t.Fatalf("row[2] = %v, want 7", row[2])
	}

	// Row is a live view into the tensor.
	row[0] = 5
	if x.At(1, 1, 0) != 5 {
		t.Fatalf("At(1, 1, 0) = %v after row write, want 5", x.At(1, 1, 0))
	}
}

func TestClone(t *testing.T) {
	x, err := FromSlice(1, 1, 3, []float64{1, 2, 3})
	if err != nil {
		t.Fatalf("FromSlice() error = %v", err)
	}

	y := x.Clone()
	y.Set(0, 0, 0, 9)

	if x.At(0, 0, 0) != 1 {
		t.Fatalf("clone aliases original: At(0, 0, 0) = %v, want 1", x.At(0, 0, 0))
	}
	if !x.SameShape(y) {
		t.Fatal("clone shape differs from original")
	}
}

func TestAddInPlace(t *testing.T) {
	x, _ := FromSlice(1, 1, 3, []float64{1, 2, 3})
	y, _ := FromSlice(1, 1, 3, []float64{10, 20, 30})

	if err := x.AddInPlace(y); err != nil {
		t.Fatalf("AddInPlace() error = %v", err)
	}

	want := []float64{11, 22, 33}
	for i, v := range x.Data() {
		if v != want[i] {
			t.Fatalf("data[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestAdd(t *testing.T) {
	x, _ := FromSlice(1, 1, 3, []float64{1, 2, 3})
	y, _ := FromSlice(1, 1, 3, []float64{10, 20, 30})

	z, err := x.Add(y)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	want := []float64{11, 22, 33}
	for i, v := range z.Data() {
		if v != want[i] {
			t.Fatalf("data[%d] = %v, want %v", i, v, want[i])
		}
	}

	// Operands are untouched.
	if x.At(0, 0, 0) != 1 || y.At(0, 0, 0) != 10 {
		t.Fatal("Add mutated an operand")
	}
}

func TestAddShapeMismatch(t *testing.T) {
	x, _ := New(1, 2, 3)
	y, _ := New(1, 3, 2)

	if _, err := x.Add(y); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Add() error = %v, want ErrShapeMismatch", err)
	}
}

func TestAddInPlaceShapeMismatch(t *testing.T) {
	x, _ := New(1, 1, 3)
	y, _ := New(1, 1, 4)

	if err := x.AddInPlace(y); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("AddInPlace() error = %v, want ErrShapeMismatch", err)
	}
}

func TestScaleFillApply(t *testing.T) {
	x, _ := New(1, 2, 2)
	x.Fill(2)
	x.Scale(3)

	for i, v := range x.Data() {
		if v != 6 {
			t.Fatalf("data[%d] = %v after Fill+Scale, want 6", i, v)
		}
	}

	x.Apply(func(v float64) float64 { return v - 1 })
	for i, v := range x.Data() {
		if v != 5 {
			t.Fatalf("data[%d] = %v after Apply, want 5", i, v)
		}
	}
}
