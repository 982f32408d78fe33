package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"segforge/internal/dataset"
	"segforge/internal/dice"
	"segforge/internal/metrics"
	"segforge/internal/model"
	"segforge/internal/plot"
	"segforge/internal/volume"
)

// RunConfig captures everything a training run needs. Exactly one of Roots
// or Samples provides training data.
type RunConfig struct {
	Roots   map[string][]string
	Samples []dataset.Sample
	// Eval is scored after training when non-empty.
	Eval []dataset.Sample

	Loss    dice.Policy
	Epsilon float32

	// Labels, when set, must match the mask channel count of the data.
	Labels int

	Epochs          int
	BatchSize       int
	SamplesPerEpoch int
	NumWorkers      int
	LogEvery        int
	Seed            int64

	LearningRate float32
	WeightDecay  float32
	LRDecay      float32

	PlotPath string
}

// Report is the outcome of Run.
type Report struct {
	Model   *model.VoxelHead
	History metrics.History
	// FinalDice is the mean training coefficient per label in the last epoch.
	FinalDice []float64
	Eval      *EvalReport
	Elapsed   time.Duration
}

// Run trains a VoxelHead on the configured data.
func Run(ctx context.Context, cfg RunConfig) (*Report, error) {
	if cfg.Loss == nil {
		return nil, errors.New("trainer: loss policy is required")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.SamplesPerEpoch <= 0 {
		cfg.SamplesPerEpoch = cfg.BatchSize
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	samples, samplerErr, err := openSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	first, err := nextBatch(ctx, samples, samplerErr, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	if cfg.Labels > 0 && first.Masks.Channels() != cfg.Labels {
		return nil, fmt.Errorf("trainer: data has %d labels, configured %d", first.Masks.Channels(), cfg.Labels)
	}
	opt := model.NewAdam(model.AdamOptions{LearningRate: cfg.LearningRate, WeightDecay: cfg.WeightDecay})
	sched := model.NewExponentialLR(opt, cfg.LRDecay)
	mdl := model.NewVoxelHead(first.Inputs.Channels(), first.Masks.Channels(), opt, cfg.Seed)

	logger := log.WithField("loss", cfg.Loss.Name())
	logger.WithFields(log.Fields{
		"epochs":     cfg.Epochs,
		"batch_size": cfg.BatchSize,
		"labels":     first.Masks.Channels(),
		"features":   first.Inputs.Channels(),
	}).Info("start training")

	stepsPerEpoch := (cfg.SamplesPerEpoch + cfg.BatchSize - 1) / cfg.BatchSize
	report := &Report{Model: mdl}
	pendingBatch := &first

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		var window metrics.Window
		for step := 1; step <= stepsPerEpoch; step++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			startData := time.Now()
			var batch model.Batch
			if pendingBatch != nil {
				batch, pendingBatch = *pendingBatch, nil
			} else if batch, err = nextBatch(ctx, samples, samplerErr, cfg.BatchSize); err != nil {
				return nil, err
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			res, err := mdl.TrainStep(batch, cfg.Loss)
			if err != nil {
				return nil, fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
			}
			computeTime := time.Since(startCompute)

			window.Record(batch.Inputs.Shape[0], dataTime, computeTime, res.Overall, res.Coefficients)

			if step%cfg.LogEvery == 0 {
				logger.WithFields(log.Fields{
					"epoch":         epoch,
					"step":          step,
					"loss":          res.Overall,
					"training_loss": res.TrainingLoss(),
					"data_ms":       float64(dataTime.Microseconds()) / 1000,
					"compute_ms":    float64(computeTime.Microseconds()) / 1000,
				}).Debug("step")
			}
		}
		lr := sched.Step()

		snap := window.Snapshot()
		for seg, d := range snap.MeanDice {
			logger.WithFields(log.Fields{"epoch": epoch, "segment": seg, "dice": d}).Info("training dice coefficient")
		}
		logger.WithFields(log.Fields{
			"epoch":           epoch,
			"training_loss":   snap.MeanLoss,
			"volumes_per_sec": snap.VolumesPerSec,
			"lr":              lr,
		}).Info("epoch done")
		report.History.Add(snap.MeanLoss)
		report.FinalDice = snap.MeanDice
	}
	report.Elapsed = time.Since(start)
	logger.WithField("elapsed", report.Elapsed.Round(time.Millisecond)).Info("training completed")

	if len(cfg.Eval) > 0 {
		report.Eval, err = Evaluate(ctx, mdl, cfg.Eval, cfg.Epsilon, cfg.NumWorkers)
		if err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		logger.WithFields(log.Fields{"volumes": len(report.Eval.Scores), "mean_dice": report.Eval.Mean}).Info("evaluation done")
	}

	if cfg.PlotPath != "" {
		title := fmt.Sprintf("Losses over epochs (%s)", cfg.Loss.Name())
		if err := plot.LossCurve(cfg.PlotPath, title, report.History.Losses); err != nil {
			return nil, err
		}
		logger.WithField("path", cfg.PlotPath).Info("saved loss plot")
	}
	return report, nil
}

// openSource starts the shard sampler when roots are configured, otherwise
// cycles through the in-memory samples.
func openSource(ctx context.Context, cfg RunConfig) (<-chan dataset.Sample, <-chan error, error) {
	if len(cfg.Roots) > 0 {
		return dataset.StartSampler(ctx, dataset.SamplerOptions{
			Roots:      cfg.Roots,
			Seed:       cfg.Seed,
			NumWorkers: cfg.NumWorkers,
		})
	}
	if len(cfg.Samples) == 0 {
		return nil, nil, errors.New("trainer: no training data")
	}
	out := make(chan dataset.Sample)
	go func() {
		defer close(out)
		for i := 0; ; i = (i + 1) % len(cfg.Samples) {
			select {
			case <-ctx.Done():
				return
			case out <- cfg.Samples[i]:
			}
		}
	}()
	return out, nil, nil
}

func nextBatch(ctx context.Context, samples <-chan dataset.Sample, errs <-chan error, batchSize int) (model.Batch, error) {
	images := make([]*volume.Volume, 0, batchSize)
	masks := make([]*volume.Volume, 0, batchSize)
	for len(images) < batchSize {
		select {
		case <-ctx.Done():
			return model.Batch{}, ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return model.Batch{}, err
			}
			if !ok {
				errs = nil
			}
		case sample, ok := <-samples:
			if !ok {
				return model.Batch{}, errors.New("trainer: sample stream closed")
			}
			images = append(images, sample.Image)
			masks = append(masks, sample.Mask)
		}
	}
	inputs, err := volume.Stack(images...)
	if err != nil {
		return model.Batch{}, fmt.Errorf("batch images: %w", err)
	}
	targets, err := volume.Stack(masks...)
	if err != nil {
		return model.Batch{}, fmt.Errorf("batch masks: %w", err)
	}
	return model.Batch{Inputs: inputs, Masks: targets}, nil
}
