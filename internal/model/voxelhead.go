package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"

	"segforge/internal/dice"
	"segforge/internal/volume"
)

// ErrInputShape is returned when an input does not carry the expected number
// of feature channels.
var ErrInputShape = errors.New("model: input channel mismatch")

// VoxelHead is a per-voxel logistic classifier: every output label is a
// sigmoid of an affine function of the input channels at the same voxel.
type VoxelHead struct {
	inChannels  int
	outChannels int
	weights     []float32 // [out][in], row major
	bias        []float32
	opt         *Adam
}

// NewVoxelHead constructs the model with small random weights.
func NewVoxelHead(inChannels, outChannels int, opt *Adam, seed int64) *VoxelHead {
	if inChannels <= 0 {
		inChannels = 1
	}
	if outChannels <= 0 {
		outChannels = 1
	}
	if opt == nil {
		opt = NewAdam(AdamOptions{})
	}
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float32, outChannels*inChannels)
	for i := range weights {
		weights[i] = (rng.Float32()*2 - 1) * 0.01
	}
	return &VoxelHead{
		inChannels:  inChannels,
		outChannels: outChannels,
		weights:     weights,
		bias:        make([]float32, outChannels),
		opt:         opt,
	}
}

// Optimizer exposes the optimiser so a schedule can adjust its rate.
func (m *VoxelHead) Optimizer() *Adam {
	return m.opt
}

// Predict maps an input of shape (..., in) to probabilities of shape (..., out).
func (m *VoxelHead) Predict(input *volume.Volume) (*volume.Volume, error) {
	if input.Channels() != m.inChannels {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrInputShape, m.inChannels, input.Channels())
	}
	shape := append([]int(nil), input.Shape...)
	shape[len(shape)-1] = m.outChannels
	out, err := volume.New(shape...)
	if err != nil {
		return nil, err
	}
	for i := 0; i < input.Voxels(); i++ {
		x := input.Data[i*m.inChannels : (i+1)*m.inChannels]
		for c := 0; c < m.outChannels; c++ {
			z := m.bias[c]
			w := m.weights[c*m.inChannels : (c+1)*m.inChannels]
			for k, xv := range x {
				z += w[k] * xv
			}
			out.Set(i, c, sigmoid(z))
		}
	}
	return out, nil
}

// TrainStep executes one Adam step on the gradient of loss.TrainingLoss.
func (m *VoxelHead) TrainStep(batch Batch, loss dice.Policy) (dice.Result, error) {
	pred, err := m.Predict(batch.Inputs)
	if err != nil {
		return dice.Result{}, err
	}
	res, err := loss.Compute(batch.Masks, pred)
	if err != nil {
		return dice.Result{}, err
	}
	gradPred, err := loss.Gradient(batch.Masks, pred)
	if err != nil {
		return dice.Result{}, err
	}

	gradW := make([]float32, len(m.weights))
	gradB := make([]float32, len(m.bias))
	for i := 0; i < pred.Voxels(); i++ {
		x := batch.Inputs.Data[i*m.inChannels : (i+1)*m.inChannels]
		for c := 0; c < m.outChannels; c++ {
			p := pred.At(i, c)
			dz := gradPred.At(i, c) * p * (1 - p)
			gradB[c] += dz
			gw := gradW[c*m.inChannels : (c+1)*m.inChannels]
			for k, xv := range x {
				gw[k] += dz * xv
			}
		}
	}
	m.opt.Step([][]float32{m.weights, m.bias}, [][]float32{gradW, gradB})
	return res, nil
}

func sigmoid(z float32) float32 {
	return 1 / (1 + math32.Exp(-z))
}
