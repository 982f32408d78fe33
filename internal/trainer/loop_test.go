package trainer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"segforge/internal/dataset"
	"segforge/internal/dice"
	"segforge/internal/volume"
)

func synthetic(t *testing.T, count int, seed int64) []dataset.Sample {
	t.Helper()
	samples, err := dataset.Synthesize(dataset.SynthOptions{
		Count: count, Depth: 2, Height: 8, Width: 8, Labels: 2, Noise: 0.05, Seed: seed,
	})
	require.NoError(t, err)
	return samples
}

func TestRunSyntheticReducesLoss(t *testing.T) {
	plotPath := filepath.Join(t.TempDir(), "losses.png")
	report, err := Run(context.Background(), RunConfig{
		Samples:         synthetic(t, 4, 1),
		Eval:            synthetic(t, 3, 2),
		Loss:            dice.ArithmeticWeighted{},
		Epochs:          12,
		BatchSize:       2,
		SamplesPerEpoch: 4,
		NumWorkers:      2,
		Seed:            3,
		LearningRate:    0.05,
		LRDecay:         0.985,
		PlotPath:        plotPath,
	})
	require.NoError(t, err)
	require.Len(t, report.History.Losses, 12)
	require.Less(t, report.History.Losses[11], report.History.Losses[0])
	require.Len(t, report.FinalDice, 2)

	require.NotNil(t, report.Eval)
	require.Len(t, report.Eval.Scores, 3)
	require.Len(t, report.Eval.PerLabel, 2)
	require.Greater(t, report.Eval.Mean, float32(0))

	_, err = os.Stat(plotPath)
	require.NoError(t, err)
	require.InDelta(t, 0.05*math.Pow(0.985, 12), report.Model.Optimizer().LR, 1e-6)
}

func TestRunFromShards(t *testing.T) {
	root := t.TempDir()
	samples := synthetic(t, 4, 5)
	require.NoError(t, dataset.WriteShard(filepath.Join(root, dataset.ShardName(0)), samples[:2]))
	require.NoError(t, dataset.WriteShard(filepath.Join(root, dataset.ShardName(1)), samples[2:]))
	roots, err := dataset.DiscoverRoots([]string{root})
	require.NoError(t, err)

	report, err := Run(context.Background(), RunConfig{
		Roots:      roots,
		Loss:       dice.Alternative{},
		Epochs:     2,
		BatchSize:  2,
		NumWorkers: 2,
	})
	require.NoError(t, err)
	require.Len(t, report.History.Losses, 2)
	for _, l := range report.History.Losses {
		require.True(t, l >= 0 && l <= 1, "alternative loss is bounded: %f", l)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	_, err := Run(ctx, RunConfig{Samples: synthetic(t, 1, 1), Epochs: 1, BatchSize: 1})
	require.Error(t, err, "missing loss")
	_, err = Run(ctx, RunConfig{Samples: synthetic(t, 1, 1), Loss: dice.Paper{}, BatchSize: 1})
	require.Error(t, err, "missing epochs")
	_, err = Run(ctx, RunConfig{Loss: dice.Paper{}, Epochs: 1, BatchSize: 1})
	require.Error(t, err, "missing data")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, RunConfig{Samples: synthetic(t, 2, 1), Loss: dice.Paper{}, Epochs: 1, BatchSize: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNextBatchRejectsMixedShapes(t *testing.T) {
	ch := make(chan dataset.Sample, 2)
	ch <- dataset.Sample{Key: "a", Image: volume.MustNew(2, 2, 1), Mask: volume.MustNew(2, 2, 1)}
	ch <- dataset.Sample{Key: "b", Image: volume.MustNew(3, 2, 1), Mask: volume.MustNew(3, 2, 1)}
	_, err := nextBatch(context.Background(), ch, nil, 2)
	require.ErrorIs(t, err, volume.ErrShape)
}

func TestNextBatchStacks(t *testing.T) {
	ch := make(chan dataset.Sample, 2)
	for _, s := range synthetic(t, 2, 9) {
		ch <- s
	}
	batch, err := nextBatch(context.Background(), ch, nil, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 8, 8, 2}, batch.Inputs.Shape)
	require.Equal(t, []int{2, 2, 8, 8, 2}, batch.Masks.Shape)
}

func TestRunRejectsLabelMismatch(t *testing.T) {
	_, err := Run(context.Background(), RunConfig{
		Samples: synthetic(t, 2, 1), Loss: dice.Paper{}, Epochs: 1, BatchSize: 2, Labels: 3,
	})
	require.Error(t, err)
}
