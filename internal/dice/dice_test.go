package dice

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"

	"segforge/internal/volume"
)

func allPolicies() []Policy {
	return []Policy{Paper{}, Alternative{}, ArithmeticWeighted{}, ExponentialWeighted{}}
}

// volumesFor builds truth/prediction pairs whose per-channel coefficients
// equal coefs: truth is all ones and pred is the constant d/(2-d).
func volumesFor(t *testing.T, coefs []float32) (*volume.Volume, *volume.Volume) {
	t.Helper()
	c := len(coefs)
	truth, err := volume.Full(1, 1, 4, c)
	require.NoError(t, err)
	pred := volume.MustNew(1, 4, c)
	for i := 0; i < pred.Voxels(); i++ {
		for ch, d := range coefs {
			pred.Set(i, ch, d/(2-d))
		}
	}
	return truth, pred
}

func randomMask(rng *rand.Rand, shape ...int) *volume.Volume {
	v := volume.MustNew(shape...)
	for i := range v.Data {
		if rng.Intn(2) == 1 {
			v.Data[i] = 1
		}
	}
	return v
}

func TestPerfectOverlap(t *testing.T) {
	ones, err := volume.Full(1, 2, 2, 1)
	require.NoError(t, err)

	d, err := Coefficient(ones, ones, 0, DefaultEpsilon)
	require.NoError(t, err)
	require.InDelta(t, 1.0, d, 1e-5)

	res, err := Alternative{}.Compute(ones, ones)
	require.NoError(t, err)
	require.InDelta(t, 0.0, res.Overall, 1e-5)
	require.False(t, res.HasWeighted)
}

func TestNoOverlap(t *testing.T) {
	ones, err := volume.Full(1, 2, 2, 1)
	require.NoError(t, err)
	zeros := volume.MustNew(2, 2, 1)

	d, err := Coefficient(ones, zeros, 0, DefaultEpsilon)
	require.NoError(t, err)
	require.InDelta(t, 0.0, d, 1e-6)

	res, err := Alternative{}.Compute(ones, zeros)
	require.NoError(t, err)
	require.InDelta(t, 1.0, res.Overall, 1e-6)
}

func TestEmptyChannelStaysFinite(t *testing.T) {
	zeros := volume.MustNew(2, 2, 1)
	d, err := Coefficients(zeros, zeros, DefaultEpsilon)
	require.NoError(t, err)
	require.Equal(t, []float32{0}, d)

	// zero epsilon falls back to the default, matching the policies
	d, err = Coefficients(zeros, zeros, 0)
	require.NoError(t, err)
	require.Equal(t, []float32{0}, d)
	res, err := Alternative{}.Compute(zeros, zeros)
	require.NoError(t, err)
	require.Equal(t, d, res.Coefficients)
}

func TestSelfOverlapRandomMasks(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 20; trial++ {
		m := randomMask(rng, 2, 4, 4, 3)
		m.Set(0, 0, 1)
		m.Set(0, 1, 1)
		m.Set(0, 2, 1)
		d, err := Coefficients(m, m, 1e-12)
		require.NoError(t, err)
		for _, v := range d {
			require.InDelta(t, 1.0, v, 1e-6)
		}
	}
}

func TestDisjointMasks(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := randomMask(rng, 3, 5, 2)
	b := volume.MustNew(3, 5, 2)
	for i, v := range a.Data {
		b.Data[i] = 1 - v
	}
	d, err := Coefficients(a, b, DefaultEpsilon)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0}, d)
}

func TestSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := volume.MustNew(2, 3, 3, 4)
	b := volume.MustNew(2, 3, 3, 4)
	for i := range a.Data {
		a.Data[i] = rng.Float32()
		b.Data[i] = rng.Float32()
	}
	ab, err := Coefficients(a, b, DefaultEpsilon)
	require.NoError(t, err)
	ba, err := Coefficients(b, a, DefaultEpsilon)
	require.NoError(t, err)
	require.Equal(t, ab, ba)
}

func TestCoefficientLengthMatchesChannels(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, c := range []int{1, 2, 5} {
		truth := randomMask(rng, 2, 3, 3, c)
		pred := randomMask(rng, 2, 3, 3, c)
		for _, p := range allPolicies() {
			res, err := p.Compute(truth, pred)
			require.NoError(t, err, p.Name())
			require.Len(t, res.Coefficients, c, p.Name())
		}
	}
}

func TestPaperAndAlternativeFormulas(t *testing.T) {
	truth, pred := volumesFor(t, []float32{0.25, 0.5, 0.75})

	paper, err := Paper{}.Compute(truth, pred)
	require.NoError(t, err)
	require.InDelta(t, -mean(paper.Coefficients), paper.Overall, 1e-7)
	require.InDelta(t, -0.5, paper.Overall, 1e-5)
	require.False(t, paper.HasWeighted)
	require.Equal(t, paper.Overall, paper.TrainingLoss())

	alt, err := Alternative{}.Compute(truth, pred)
	require.NoError(t, err)
	require.InDelta(t, 1-mean(alt.Coefficients), alt.Overall, 1e-7)
	require.InDelta(t, 0.5, alt.Overall, 1e-5)
}

func TestArithmeticWeighted(t *testing.T) {
	truth, pred := volumesFor(t, []float32{0.2, 0.8})
	res, err := ArithmeticWeighted{}.Compute(truth, pred)
	require.NoError(t, err)
	require.True(t, res.HasWeighted)
	require.InDelta(t, 0.5, res.Overall, 1e-5)
	require.InDelta(t, 0.7, res.Weighted, 1e-5)
	require.Equal(t, res.Weighted, res.TrainingLoss())
}

func TestWeightingFollowsRankNotChannel(t *testing.T) {
	for _, p := range []Policy{ArithmeticWeighted{}, ExponentialWeighted{}} {
		truth, pred := volumesFor(t, []float32{0.2, 0.8})
		first, err := p.Compute(truth, pred)
		require.NoError(t, err)

		truth, pred = volumesFor(t, []float32{0.8, 0.2})
		swapped, err := p.Compute(truth, pred)
		require.NoError(t, err)

		require.InDelta(t, first.Weighted, swapped.Weighted, 1e-6, p.Name())
		require.InDelta(t, swapped.Coefficients[0], 0.8, 1e-5, "coefficients stay in channel order")
	}
}

func TestExponentialWeighted(t *testing.T) {
	truth, pred := volumesFor(t, []float32{0.2, 0.5, 0.8})
	res, err := ExponentialWeighted{}.Compute(truth, pred)
	require.NoError(t, err)
	e := math32.Exp(1)
	want := 1 - (0.2+0.5/e+0.8/(e*e))/3
	require.InDelta(t, want, res.Weighted, 1e-5)
	require.InDelta(t, 0.5, res.Overall, 1e-5)
}

func TestWorstChannelDominatesWeightedLoss(t *testing.T) {
	base := []float32{0.3, 0.6, 0.9}
	for _, p := range []Policy{ArithmeticWeighted{}, ExponentialWeighted{}} {
		loss := func(coefs []float32) float32 {
			truth, pred := volumesFor(t, coefs)
			res, err := p.Compute(truth, pred)
			require.NoError(t, err)
			return res.Weighted
		}
		l0 := loss(base)
		improveWorst := l0 - loss([]float32{0.35, 0.6, 0.9})
		improveBest := l0 - loss([]float32{0.3, 0.6, 0.95})
		require.Greater(t, improveWorst, improveBest, p.Name())
	}
}

func TestShapeMismatch(t *testing.T) {
	a := volume.MustNew(2, 2, 2)
	b := volume.MustNew(2, 2, 3)
	for _, p := range allPolicies() {
		_, err := p.Compute(a, b)
		require.ErrorIs(t, err, ErrInvalidShape, p.Name())
		_, err = p.Gradient(a, b)
		require.ErrorIs(t, err, ErrInvalidShape, p.Name())
	}
	_, err := Coefficients(a, volume.MustNew(4, 2), DefaultEpsilon)
	require.ErrorIs(t, err, ErrInvalidShape)
}

func TestNoChannels(t *testing.T) {
	empty := &volume.Volume{Shape: []int{2, 0}}
	for _, p := range allPolicies() {
		_, err := p.Compute(empty, empty)
		require.ErrorIs(t, err, ErrNoChannels, p.Name())
	}
}

func TestCoefficientChannelRange(t *testing.T) {
	v := volume.MustNew(2, 2)
	_, err := Coefficient(v, v, 2, DefaultEpsilon)
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		p, err := Lookup(name, 0)
		require.NoError(t, err)
		require.Equal(t, name, p.Name())
	}
	p, err := Lookup("3", 0)
	require.NoError(t, err)
	require.Equal(t, "arithmetic", p.Name())
	p, err = Lookup(" Exponential ", 1e-5)
	require.NoError(t, err)
	require.Equal(t, ExponentialWeighted{Epsilon: 1e-5}, p)

	_, err = Lookup("4", 0)
	require.ErrorIs(t, err, ErrUnknownPolicy)
	_, err = Lookup("jaccard", 0)
	require.ErrorIs(t, err, ErrUnknownPolicy)
}
