package dataset

import (
	"fmt"
	"math/rand"

	"segforge/internal/volume"
)

// SynthOptions controls Synthesize.
type SynthOptions struct {
	Count  int
	Depth  int
	Height int
	Width  int
	Labels int
	// Noise is the standard deviation of the Gaussian noise added to the
	// image channels.
	Noise float32
	Seed  int64
}

// Synthesize builds labelled volumes with one random ellipsoid per label.
// The image has one feature channel per label, a noisy copy of that label's
// mask, so a per-voxel model can learn it.
func Synthesize(opts SynthOptions) ([]Sample, error) {
	if opts.Count <= 0 || opts.Labels <= 0 {
		return nil, fmt.Errorf("synthesize: count and labels must be > 0 (got %d, %d)", opts.Count, opts.Labels)
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	samples := make([]Sample, 0, opts.Count)
	for n := 0; n < opts.Count; n++ {
		mask, err := volume.New(opts.Depth, opts.Height, opts.Width, opts.Labels)
		if err != nil {
			return nil, fmt.Errorf("synthesize: %w", err)
		}
		for c := 0; c < opts.Labels; c++ {
			drawEllipsoid(mask, c, rng)
		}
		img := mask.Clone()
		for i := range img.Data {
			img.Data[i] += float32(rng.NormFloat64()) * opts.Noise
		}
		samples = append(samples, Sample{Key: fmt.Sprintf("%06d", n), Image: img, Mask: mask})
	}
	return samples, nil
}

func drawEllipsoid(mask *volume.Volume, c int, rng *rand.Rand) {
	d, h, w := mask.Shape[0], mask.Shape[1], mask.Shape[2]
	center := [3]float64{rng.Float64() * float64(d), rng.Float64() * float64(h), rng.Float64() * float64(w)}
	radius := [3]float64{
		1 + rng.Float64()*float64(d)/3,
		1 + rng.Float64()*float64(h)/3,
		1 + rng.Float64()*float64(w)/3,
	}
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dz := (float64(z) + 0.5 - center[0]) / radius[0]
				dy := (float64(y) + 0.5 - center[1]) / radius[1]
				dx := (float64(x) + 0.5 - center[2]) / radius[2]
				if dz*dz+dy*dy+dx*dx <= 1 {
					mask.Set((z*h+y)*w+x, c, 1)
				}
			}
		}
	}
}
