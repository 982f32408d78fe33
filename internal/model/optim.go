package model

import "github.com/chewxy/math32"

// AdamOptions configures Adam. Zero fields take the defaults used for the
// prostate runs: lr 5e-4, weight decay 1e-5.
type AdamOptions struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// Adam is the Adam optimiser with L2 weight decay folded into the gradient.
type Adam struct {
	LR          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	t           int
	m           [][]float32
	v           [][]float32
}

func NewAdam(o AdamOptions) *Adam {
	if o.LearningRate <= 0 {
		o.LearningRate = 5e-4
	}
	if o.Beta1 <= 0 {
		o.Beta1 = 0.9
	}
	if o.Beta2 <= 0 {
		o.Beta2 = 0.999
	}
	if o.Epsilon <= 0 {
		o.Epsilon = 1e-8
	}
	if o.WeightDecay < 0 {
		o.WeightDecay = 0
	}
	return &Adam{
		LR:          o.LearningRate,
		beta1:       o.Beta1,
		beta2:       o.Beta2,
		eps:         o.Epsilon,
		weightDecay: o.WeightDecay,
	}
}

// Step updates params in place. params and grads must be parallel and keep
// the same layout between calls.
func (a *Adam) Step(params, grads [][]float32) {
	if a.m == nil {
		a.m = make([][]float32, len(params))
		a.v = make([][]float32, len(params))
		for i, p := range params {
			a.m[i] = make([]float32, len(p))
			a.v[i] = make([]float32, len(p))
		}
	}
	a.t++
	c1 := 1 - math32.Pow(a.beta1, float32(a.t))
	c2 := 1 - math32.Pow(a.beta2, float32(a.t))
	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]
		for j := range p {
			gj := g[j] + a.weightDecay*p[j]
			m[j] = a.beta1*m[j] + (1-a.beta1)*gj
			v[j] = a.beta2*v[j] + (1-a.beta2)*gj*gj
			p[j] -= a.LR * (m[j] / c1) / (math32.Sqrt(v[j]/c2) + a.eps)
		}
	}
}

// ExponentialLR multiplies the optimiser's rate by Gamma on every Step.
type ExponentialLR struct {
	opt   *Adam
	Gamma float32
}

func NewExponentialLR(opt *Adam, gamma float32) *ExponentialLR {
	if gamma <= 0 {
		gamma = 0.985
	}
	return &ExponentialLR{opt: opt, Gamma: gamma}
}

// Step decays the learning rate and returns the new value.
func (s *ExponentialLR) Step() float32 {
	s.opt.LR *= s.Gamma
	return s.opt.LR
}
