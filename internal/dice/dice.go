// Package dice implements multi-label soft Dice coefficients and the family of
// losses built from them.
//
// All functions take channel-last volumes: the trailing dimension indexes the
// label, every other dimension (batch included) is summed over.
package dice

import (
	"errors"
	"fmt"

	"segforge/internal/volume"
)

// DefaultEpsilon keeps the coefficient finite when a label is absent from
// both truth and prediction.
const DefaultEpsilon float32 = 1e-7

var (
	// ErrInvalidShape is returned when truth and prediction shapes differ.
	ErrInvalidShape = errors.New("dice: truth and prediction shapes differ")
	// ErrNoChannels is returned when the channel dimension is empty.
	ErrNoChannels = errors.New("dice: no channels")
)

// Result is the outcome of one loss evaluation.
type Result struct {
	// Overall is the reported loss.
	Overall float32
	// Coefficients holds one Dice coefficient per channel, in channel order.
	Coefficients []float32
	// Weighted is the rank-weighted loss used as gradient target. Only valid
	// when HasWeighted is set.
	Weighted    float32
	HasWeighted bool
}

// TrainingLoss is the value an optimiser should minimise: Weighted when the
// policy produces one, Overall otherwise.
func (r Result) TrainingLoss() float32 {
	if r.HasWeighted {
		return r.Weighted
	}
	return r.Overall
}

// sums holds the per-channel reductions every policy needs.
type sums struct {
	inter []float64 // Σ truth·pred
	truth []float64 // Σ truth
	pred  []float64 // Σ pred
}

func reduce(truth, pred *volume.Volume) (sums, error) {
	if !truth.SameShape(pred) {
		return sums{}, fmt.Errorf("%w: %v vs %v", ErrInvalidShape, shapeOf(truth), shapeOf(pred))
	}
	c := truth.Channels()
	if c == 0 {
		return sums{}, ErrNoChannels
	}
	s := sums{
		inter: make([]float64, c),
		truth: make([]float64, c),
		pred:  make([]float64, c),
	}
	for i := 0; i < len(truth.Data); i += c {
		t := truth.Data[i : i+c]
		p := pred.Data[i : i+c]
		for ch := 0; ch < c; ch++ {
			s.inter[ch] += float64(t[ch]) * float64(p[ch])
			s.truth[ch] += float64(t[ch])
			s.pred[ch] += float64(p[ch])
		}
	}
	return s, nil
}

func (s sums) denominator(ch int, eps float32) float64 {
	return s.truth[ch] + s.pred[ch] + float64(eps)
}

func (s sums) coefficients(eps float32) []float32 {
	out := make([]float32, len(s.inter))
	for ch := range out {
		out[ch] = float32(2 * s.inter[ch] / s.denominator(ch, eps))
	}
	return out
}

// Coefficients returns the soft Dice coefficient of every channel:
// 2·Σ(t·p) / (Σt + Σp + eps). A zero eps means DefaultEpsilon.
func Coefficients(truth, pred *volume.Volume, eps float32) ([]float32, error) {
	s, err := reduce(truth, pred)
	if err != nil {
		return nil, err
	}
	return s.coefficients(epsilon(eps)), nil
}

// Coefficient returns the soft Dice coefficient of a single channel.
func Coefficient(truth, pred *volume.Volume, channel int, eps float32) (float32, error) {
	d, err := Coefficients(truth, pred, eps)
	if err != nil {
		return 0, err
	}
	if channel < 0 || channel >= len(d) {
		return 0, fmt.Errorf("dice: channel %d out of range [0,%d)", channel, len(d))
	}
	return d[channel], nil
}

func shapeOf(v *volume.Volume) []int {
	if v == nil {
		return nil
	}
	return v.Shape
}
