package trainer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"segforge/internal/dataset"
	"segforge/internal/dice"
	"segforge/internal/model"
	"segforge/internal/volume"
)

// EvalReport holds one mean Dice coefficient per evaluated volume.
type EvalReport struct {
	Keys   []string
	Scores []float32
	// PerLabel is the mean coefficient of each label across volumes.
	PerLabel []float32
	Mean     float32
}

// Evaluate predicts every sample and scores it against its mask. Samples
// are scored concurrently by up to workers goroutines; m.Predict must be
// safe for concurrent use.
func Evaluate(ctx context.Context, m model.Segmenter, samples []dataset.Sample, eps float32, workers int) (*EvalReport, error) {
	if workers <= 0 {
		workers = 1
	}
	perSample := make([][]float32, len(samples))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			input, err := volume.Stack(s.Image)
			if err != nil {
				return err
			}
			truth, err := volume.Stack(s.Mask)
			if err != nil {
				return err
			}
			pred, err := m.Predict(input)
			if err != nil {
				return fmt.Errorf("predict %s: %w", s.Key, err)
			}
			d, err := dice.Coefficients(truth, pred, eps)
			if err != nil {
				return fmt.Errorf("score %s: %w", s.Key, err)
			}
			perSample[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &EvalReport{
		Keys:   make([]string, len(samples)),
		Scores: make([]float32, len(samples)),
	}
	for i, d := range perSample {
		report.Keys[i] = samples[i].Key
		if report.PerLabel == nil {
			report.PerLabel = make([]float32, len(d))
		}
		if len(d) != len(report.PerLabel) {
			return nil, fmt.Errorf("sample %s has %d labels, want %d", samples[i].Key, len(d), len(report.PerLabel))
		}
		var sum float32
		for c, v := range d {
			sum += v
			report.PerLabel[c] += v / float32(len(samples))
		}
		report.Scores[i] = sum / float32(len(d))
		report.Mean += report.Scores[i] / float32(len(samples))
	}
	return report, nil
}
