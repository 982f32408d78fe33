// Package isic reads YOLO-format lesion annotations for the ISIC skin-lesion
// dataset, scores predicted boxes against them and renders overlays.
package isic

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
)

// ErrLabelFormat is returned for lines that are not "class xc yc w h [conf]".
var ErrLabelFormat = errors.New("isic: malformed label")

// Box is a YOLO box: centre and size normalised to [0,1].
type Box struct {
	Class      int
	XC, YC     float32
	W, H       float32
	Confidence float32
	// HasConfidence is set for prediction files written with confidences.
	HasConfidence bool
}

// Rect is an axis-aligned pixel rectangle.
type Rect struct {
	X, Y          float32
	Width, Height float32
}

// Pixels scales the box to a square image of side size.
func (b Box) Pixels(size int) Rect {
	s := float32(size)
	return Rect{
		X:      (b.XC - b.W/2) * s,
		Y:      (b.YC - b.H/2) * s,
		Width:  b.W * s,
		Height: b.H * s,
	}
}

func (r Rect) Area() float32 {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := math32.Max(r.X, b.X)
	y1 := math32.Max(r.Y, b.Y)
	x2 := math32.Min(r.X+r.Width, b.X+b.Width)
	y2 := math32.Min(r.Y+r.Height, b.Y+b.Height)
	return Rect{X: x1, Y: y1, Width: math32.Max(0, x2-x1), Height: math32.Max(0, y2-y1)}
}

// IOU is intersection over union; zero when both rectangles are empty.
func (r Rect) IOU(b Rect) float32 {
	inter := r.Intersection(b).Area()
	union := r.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ParseLine parses one "class xc yc w h [conf]" line.
func ParseLine(line string) (Box, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 && len(fields) != 6 {
		return Box{}, fmt.Errorf("%w: %d fields in %q", ErrLabelFormat, len(fields), line)
	}
	class, err := strconv.Atoi(fields[0])
	if err != nil {
		return Box{}, fmt.Errorf("%w: class %q", ErrLabelFormat, fields[0])
	}
	vals := make([]float32, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return Box{}, fmt.Errorf("%w: value %q", ErrLabelFormat, f)
		}
		vals[i] = float32(v)
	}
	b := Box{Class: class, XC: vals[0], YC: vals[1], W: vals[2], H: vals[3]}
	if len(vals) == 5 {
		b.Confidence = vals[4]
		b.HasConfidence = true
	}
	return b, nil
}

// ReadLabels parses every non-blank line of r.
func ReadLabels(r io.Reader) ([]Box, error) {
	var boxes []Box
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		boxes = append(boxes, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return boxes, nil
}

// ReadLabelFile reads the boxes stored at path.
func ReadLabelFile(path string) ([]Box, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open label: %w", err)
	}
	defer f.Close()
	boxes, err := ReadLabels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return boxes, nil
}

// Best returns the most confident box, or the first one when none carry a
// confidence. ok is false for an empty slice.
func Best(boxes []Box) (Box, bool) {
	if len(boxes) == 0 {
		return Box{}, false
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return best, true
}

// ImagePath is <root>/<partition>/images/ISIC_<id>.jpg.
func ImagePath(root, partition, id string) string {
	return filepath.Join(root, partition, "images", "ISIC_"+id+".jpg")
}

// LabelPath is <root>/<partition>/labels/ISIC_<id>.txt.
func LabelPath(root, partition, id string) string {
	return filepath.Join(root, partition, "labels", "ISIC_"+id+".txt")
}

// ScanPartition lists the sample ids of a partition ("train", "val", "test")
// from its images directory, sorted.
func ScanPartition(root, partition string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, partition, "images"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", partition, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "ISIC_") || !strings.EqualFold(filepath.Ext(name), ".jpg") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "ISIC_"), filepath.Ext(name)))
	}
	sort.Strings(ids)
	return ids, nil
}
