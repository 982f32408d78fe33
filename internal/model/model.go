package model

import (
	"segforge/internal/dice"
	"segforge/internal/volume"
)

// Batch is a minibatch of input volumes and their ground-truth masks, both
// with a leading batch axis and channels last.
type Batch struct {
	Inputs *volume.Volume
	Masks  *volume.Volume
}

// Segmenter is the minimal training surface the trainer needs.
type Segmenter interface {
	// Predict returns per-label probabilities in [0,1], one channel per label.
	Predict(input *volume.Volume) (*volume.Volume, error)
	// TrainStep runs one optimisation step against loss and returns the loss
	// evaluated before the update.
	TrainStep(batch Batch, loss dice.Policy) (dice.Result, error)
}
