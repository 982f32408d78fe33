package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ajroetker/go-highway/hwy/contrib/vec"
)

const magic = "SFV1"

// Header bounds, so a corrupt file cannot request a huge allocation.
const (
	maxRank     = 8
	maxElements = 1 << 28
)

// ErrFormat indicates a payload that is not an encoded volume.
var ErrFormat = errors.New("volume: bad encoding")

// Encode writes v as: magic, rank (uint32 LE), dims (uint32 LE each), then
// the float32 payload in little-endian order.
func Encode(w io.Writer, v *Volume) error {
	header := make([]byte, 0, len(magic)+4*(len(v.Shape)+1))
	header = append(header, magic...)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(v.Shape)))
	for _, d := range v.Shape {
		header = binary.LittleEndian.AppendUint32(header, uint32(d))
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	payload := make([]byte, len(v.Data)*4)
	vec.EncodeFloat32s(payload, v.Data)
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Decode reads a volume written by Encode.
func Decode(r io.Reader) (*Volume, error) {
	return decode(r, -1)
}

// DecodeSized is Decode for a source known to hold exactly size bytes, such
// as a tar entry. Headers claiming more data than that are rejected before
// anything is allocated.
func DecodeSized(r io.Reader, size int64) (*Volume, error) {
	return decode(r, size)
}

func decode(r io.Reader, size int64) (*Volume, error) {
	head := make([]byte, len(magic)+4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if string(head[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: magic %q", ErrFormat, head[:len(magic)])
	}
	rank := int(binary.LittleEndian.Uint32(head[len(magic):]))
	if rank == 0 || rank > maxRank {
		return nil, fmt.Errorf("%w: rank %d", ErrFormat, rank)
	}
	dims := make([]byte, 4*rank)
	if _, err := io.ReadFull(r, dims); err != nil {
		return nil, fmt.Errorf("%w: dims: %v", ErrFormat, err)
	}
	shape := make([]int, rank)
	for i := range shape {
		shape[i] = int(binary.LittleEndian.Uint32(dims[i*4:]))
	}
	n, err := numElements(shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if n > maxElements {
		return nil, fmt.Errorf("%w: %d elements exceeds limit %d", ErrFormat, n, maxElements)
	}
	if want := int64(len(head)+len(dims)) + 4*int64(n); size >= 0 && want != size {
		return nil, fmt.Errorf("%w: header describes %d bytes, entry holds %d", ErrFormat, want, size)
	}
	v := &Volume{Shape: shape, Data: make([]float32, n)}
	payload := make([]byte, len(v.Data)*4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrFormat, err)
	}
	vec.DecodeFloat32s(v.Data, payload)
	return v, nil
}
