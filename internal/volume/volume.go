package volume

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape is returned when a shape is empty or has a non-positive dimension.
var ErrShape = errors.New("volume: invalid shape")

// Volume is a dense channel-last float32 array. The trailing dimension of
// Shape is the channel (label) axis.
type Volume struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed volume.
func New(shape ...int) (*Volume, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	return &Volume{Shape: append([]int(nil), shape...), Data: make([]float32, n)}, nil
}

// MustNew is New for shapes known to be valid.
func MustNew(shape ...int) *Volume {
	v, err := New(shape...)
	if err != nil {
		panic(err)
	}
	return v
}

// FromData wraps data with shape. Data is not copied.
func FromData(data []float32, shape ...int) (*Volume, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, n, len(data))
	}
	return &Volume{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Full returns a volume with every element set to value.
func Full(value float32, shape ...int) (*Volume, error) {
	v, err := New(shape...)
	if err != nil {
		return nil, err
	}
	for i := range v.Data {
		v.Data[i] = value
	}
	return v, nil
}

// Channels is the size of the trailing dimension.
func (v *Volume) Channels() int {
	if v == nil || len(v.Shape) == 0 {
		return 0
	}
	return v.Shape[len(v.Shape)-1]
}

// Voxels is the number of elements per channel.
func (v *Volume) Voxels() int {
	c := v.Channels()
	if c == 0 {
		return 0
	}
	return len(v.Data) / c
}

// At returns the value of channel c at flat voxel index i.
func (v *Volume) At(i, c int) float32 {
	return v.Data[i*v.Channels()+c]
}

// Set writes the value of channel c at flat voxel index i.
func (v *Volume) Set(i, c int, value float32) {
	v.Data[i*v.Channels()+c] = value
}

// SameShape reports whether both volumes have identical rank and dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	if v == nil || o == nil || len(v.Shape) != len(o.Shape) {
		return false
	}
	for i := range v.Shape {
		if v.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	return &Volume{
		Shape: append([]int(nil), v.Shape...),
		Data:  append([]float32(nil), v.Data...),
	}
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume%v", v.Shape)
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrShape)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: %v", ErrShape, shape)
		}
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: %v overflows", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

// Stack joins volumes of identical shape along a new leading batch axis.
func Stack(vs ...*Volume) (*Volume, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrShape)
	}
	for _, v := range vs[1:] {
		if !v.SameShape(vs[0]) {
			return nil, fmt.Errorf("%w: cannot stack %v with %v", ErrShape, v.Shape, vs[0].Shape)
		}
	}
	out := &Volume{
		Shape: append([]int{len(vs)}, vs[0].Shape...),
		Data:  make([]float32, 0, len(vs)*len(vs[0].Data)),
	}
	for _, v := range vs {
		out.Data = append(out.Data, v.Data...)
	}
	return out, nil
}

// Index returns item i of the leading axis as a view sharing v's storage.
func (v *Volume) Index(i int) *Volume {
	n := len(v.Data) / v.Shape[0]
	return &Volume{
		Shape: append([]int(nil), v.Shape[1:]...),
		Data:  v.Data[i*n : (i+1)*n],
	}
}
