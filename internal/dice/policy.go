package dice

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chewxy/math32"

	"segforge/internal/volume"
)

// ErrUnknownPolicy is returned by Lookup for names it does not recognise.
var ErrUnknownPolicy = errors.New("dice: unknown loss policy")

// Policy folds per-channel Dice coefficients into a scalar loss.
type Policy interface {
	Name() string
	// Compute evaluates the loss for one truth/prediction pair.
	Compute(truth, pred *volume.Volume) (Result, error)
	// Gradient returns ∂L/∂pred of Result.TrainingLoss, shaped like pred.
	Gradient(truth, pred *volume.Volume) (*volume.Volume, error)
}

// Paper is the unweighted negative mean: -mean(d). Its range is [-1, 0].
type Paper struct{ Epsilon float32 }

// Alternative is the bounded Dice loss 1 - mean(d).
type Alternative struct{ Epsilon float32 }

// ArithmeticWeighted reports 1 - mean(d) and trains on
// 1 - mean(sorted(d)[i] / (i+1)).
type ArithmeticWeighted struct{ Epsilon float32 }

// ExponentialWeighted reports 1 - mean(d) and trains on
// 1 - mean(sorted(d)[i] / e^i).
type ExponentialWeighted struct{ Epsilon float32 }

func (Paper) Name() string               { return "paper" }
func (Alternative) Name() string         { return "alternative" }
func (ArithmeticWeighted) Name() string  { return "arithmetic" }
func (ExponentialWeighted) Name() string { return "exponential" }

func (p Paper) Compute(truth, pred *volume.Volume) (Result, error) {
	return compute(truth, pred, p.Epsilon, nil, func(mean float32) float32 { return -mean })
}

func (p Paper) Gradient(truth, pred *volume.Volume) (*volume.Volume, error) {
	return gradient(truth, pred, p.Epsilon, nil)
}

func (p Alternative) Compute(truth, pred *volume.Volume) (Result, error) {
	return compute(truth, pred, p.Epsilon, nil, oneMinus)
}

func (p Alternative) Gradient(truth, pred *volume.Volume) (*volume.Volume, error) {
	return gradient(truth, pred, p.Epsilon, nil)
}

func (p ArithmeticWeighted) Compute(truth, pred *volume.Volume) (Result, error) {
	return compute(truth, pred, p.Epsilon, arithmeticDivisor, oneMinus)
}

func (p ArithmeticWeighted) Gradient(truth, pred *volume.Volume) (*volume.Volume, error) {
	return gradient(truth, pred, p.Epsilon, arithmeticDivisor)
}

func (p ExponentialWeighted) Compute(truth, pred *volume.Volume) (Result, error) {
	return compute(truth, pred, p.Epsilon, exponentialDivisor, oneMinus)
}

func (p ExponentialWeighted) Gradient(truth, pred *volume.Volume) (*volume.Volume, error) {
	return gradient(truth, pred, p.Epsilon, exponentialDivisor)
}

// divisor maps an ascending rank to the value the ranked coefficient is
// divided by.
type divisor func(rank int) float32

func arithmeticDivisor(rank int) float32 { return float32(rank + 1) }

func exponentialDivisor(rank int) float32 { return math32.Exp(float32(rank)) }

func oneMinus(mean float32) float32 { return 1 - mean }

func epsilon(eps float32) float32 {
	if eps == 0 {
		return DefaultEpsilon
	}
	return eps
}

func compute(truth, pred *volume.Volume, eps float32, div divisor, overall func(float32) float32) (Result, error) {
	s, err := reduce(truth, pred)
	if err != nil {
		return Result{}, err
	}
	d := s.coefficients(epsilon(eps))
	res := Result{
		Overall:      overall(mean(d)),
		Coefficients: d,
	}
	if div != nil {
		var sum float32
		for rank, ch := range ascending(d) {
			sum += d[ch] / div(rank)
		}
		res.Weighted = 1 - sum/float32(len(d))
		res.HasWeighted = true
	}
	return res, nil
}

// gradient differentiates -mean(w·d), where w is 1 for unweighted policies
// and 1/div(rank) otherwise. Every training loss is a constant plus that term.
func gradient(truth, pred *volume.Volume, eps float32, div divisor) (*volume.Volume, error) {
	s, err := reduce(truth, pred)
	if err != nil {
		return nil, err
	}
	eps = epsilon(eps)
	c := len(s.inter)

	slope := make([]float64, c)
	for ch := range slope {
		slope[ch] = -1 / float64(c)
	}
	if div != nil {
		for rank, ch := range ascending(s.coefficients(eps)) {
			slope[ch] /= float64(div(rank))
		}
	}

	// ∂d/∂p_j = 2t_j/D - 2I/D²
	scale := make([]float64, c)
	offset := make([]float64, c)
	for ch := 0; ch < c; ch++ {
		den := s.denominator(ch, eps)
		scale[ch] = slope[ch] * 2 / den
		offset[ch] = slope[ch] * 2 * s.inter[ch] / (den * den)
	}

	grad := &volume.Volume{Shape: append([]int(nil), pred.Shape...), Data: make([]float32, len(pred.Data))}
	for i := 0; i < len(truth.Data); i += c {
		for ch := 0; ch < c; ch++ {
			grad.Data[i+ch] = float32(scale[ch]*float64(truth.Data[i+ch]) - offset[ch])
		}
	}
	return grad, nil
}

// ascending returns channel indices ordered by coefficient, smallest first.
// Ties keep channel order.
func ascending(d []float32) []int {
	idx := make([]int, len(d))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return d[idx[a]] < d[idx[b]] })
	return idx
}

func mean(d []float32) float32 {
	var sum float32
	for _, v := range d {
		sum += v
	}
	return sum / float32(len(d))
}

// Names lists the policies Lookup accepts, in legacy index order.
func Names() []string {
	return []string{"paper", "alternative", "exponential", "arithmetic"}
}

// Lookup returns the policy with the given name. A decimal index into
// Names() is accepted as well.
func Lookup(name string, eps float32) (Policy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if i, err := strconv.Atoi(key); err == nil {
		names := Names()
		if i < 0 || i >= len(names) {
			return nil, fmt.Errorf("%w: index %d", ErrUnknownPolicy, i)
		}
		key = names[i]
	}
	switch key {
	case "paper":
		return Paper{Epsilon: eps}, nil
	case "alternative":
		return Alternative{Epsilon: eps}, nil
	case "exponential", "exponential-weighted":
		return ExponentialWeighted{Epsilon: eps}, nil
	case "arithmetic", "arithmetic-weighted":
		return ArithmeticWeighted{Epsilon: eps}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}
