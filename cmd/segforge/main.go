package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"

	"segforge/internal/config"
	"segforge/internal/dataset"
	"segforge/internal/dice"
	"segforge/internal/isic"
	"segforge/internal/trainer"
)

func main() {
	parser := argparse.NewParser("segforge", "Multi-label Dice segmentation training and ISIC box overlays")

	train := parser.NewCommand("train", "Train a segmentation head with a Dice loss policy")
	cfgPath := train.String("c", "config", &argparse.Options{Help: "Path to YAML config", Default: "configs/demo.yaml"})
	epochs := train.Int("e", "epochs", &argparse.Options{Help: "Override number of epochs", Default: 0})
	batchSize := train.Int("b", "batch-size", &argparse.Options{Help: "Override batch size", Default: 0})
	lossName := train.String("l", "loss", &argparse.Options{Help: "Loss policy: paper, alternative, exponential, arithmetic (or 0-3)"})
	seed := train.Int("s", "seed", &argparse.Options{Help: "PRNG seed", Default: 0})
	plotPath := train.String("p", "plot", &argparse.Options{Help: "Write the epoch loss curve to this PNG"})
	trainVerbose := train.Flag("v", "verbose", &argparse.Options{Help: "Log every step"})

	synth := parser.NewCommand("synth", "Write synthetic labelled volumes as tar shards")
	synthOut := synth.String("o", "out", &argparse.Options{Help: "Output directory", Required: true})
	synthCount := synth.Int("n", "count", &argparse.Options{Help: "Number of volumes", Default: 16})
	synthShards := synth.Int("", "shards", &argparse.Options{Help: "Number of shards", Default: 2})
	synthLabels := synth.Int("", "channels", &argparse.Options{Help: "Number of labels", Default: 2})
	synthDepth := synth.Int("", "depth", &argparse.Options{Help: "Volume depth", Default: 8})
	synthHeight := synth.Int("", "height", &argparse.Options{Help: "Volume height", Default: 32})
	synthWidth := synth.Int("", "width", &argparse.Options{Help: "Volume width", Default: 32})
	synthNoise := synth.Float("", "noise", &argparse.Options{Help: "Image noise standard deviation", Default: 0.1})
	synthSeed := synth.Int("s", "seed", &argparse.Options{Help: "PRNG seed", Default: 1})

	overlay := parser.NewCommand("overlay", "Score ISIC box predictions and draw them over the images")
	ovRoot := overlay.String("r", "root", &argparse.Options{Help: "Dataset root holding <partition>/images and <partition>/labels", Required: true})
	ovPartition := overlay.Selector("", "partition", []string{"train", "val", "test"}, &argparse.Options{Help: "Partition to score", Default: "test"})
	ovPred := overlay.String("", "pred-dir", &argparse.Options{Help: "Directory of predicted YOLO label files", Required: true})
	ovOut := overlay.String("o", "out", &argparse.Options{Help: "Directory for overlay PNGs (skipped when empty)"})
	ovSize := overlay.Int("", "size", &argparse.Options{Help: "Square image size the boxes are scaled to", Default: isic.DefaultSize})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *trainVerbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case train.Happened():
		err = runTrain(ctx, *cfgPath, config.Overrides{
			Epochs:    *epochs,
			BatchSize: *batchSize,
			Loss:      *lossName,
			Seed:      int64(*seed),
			PlotPath:  *plotPath,
		})
	case synth.Happened():
		err = runSynth(*synthOut, *synthShards, dataset.SynthOptions{
			Count:  *synthCount,
			Depth:  *synthDepth,
			Height: *synthHeight,
			Width:  *synthWidth,
			Labels: *synthLabels,
			Noise:  float32(*synthNoise),
			Seed:   int64(*synthSeed),
		})
	case overlay.Happened():
		err = runOverlay(*ovRoot, *ovPartition, *ovPred, *ovOut, *ovSize)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runTrain(ctx context.Context, cfgPath string, overrides config.Overrides) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	policy, err := dice.Lookup(cfg.Loss, cfg.Epsilon)
	if err != nil {
		return err
	}

	runCfg := trainer.RunConfig{
		Loss:            policy,
		Epsilon:         cfg.Epsilon,
		Labels:          cfg.Channels,
		Epochs:          cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		SamplesPerEpoch: cfg.SamplesPerEpoch,
		NumWorkers:      cfg.NumWorkers,
		LogEvery:        cfg.LogEvery,
		Seed:            cfg.Seed,
		LearningRate:    cfg.LearningRate,
		WeightDecay:     *cfg.WeightDecay,
		LRDecay:         cfg.LRDecay,
		PlotPath:        cfg.PlotPath,
	}

	if len(cfg.TrainRoots) > 0 {
		runCfg.Roots, err = dataset.DiscoverRoots(cfg.TrainRoots)
		if err != nil {
			return err
		}
		for root, shards := range runCfg.Roots {
			log.WithFields(log.Fields{"root": root, "shards": len(shards)}).Info("discovered training shards")
		}
	} else if s := cfg.Synthetic; s != nil {
		opts := dataset.SynthOptions{
			Count: s.Count, Depth: s.Depth, Height: s.Height, Width: s.Width,
			Labels: cfg.Channels, Noise: s.Noise, Seed: cfg.Seed,
		}
		if runCfg.Samples, err = dataset.Synthesize(opts); err != nil {
			return err
		}
		opts.Count = max(1, s.Count/4)
		opts.Seed++
		if runCfg.Eval, err = dataset.Synthesize(opts); err != nil {
			return err
		}
	}

	if len(cfg.EvalRoots) > 0 {
		roots, err := dataset.DiscoverRoots(cfg.EvalRoots)
		if err != nil {
			return err
		}
		runCfg.Eval = nil
		for _, root := range cfg.EvalRoots {
			samples, err := dataset.LoadShards(ctx, roots[root])
			if err != nil {
				return err
			}
			runCfg.Eval = append(runCfg.Eval, samples...)
		}
	}

	report, err := trainer.Run(ctx, runCfg)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if best, epoch := report.History.Best(); epoch >= 0 {
		log.WithFields(log.Fields{"epoch": epoch + 1, "loss": best}).Info("best epoch")
	}
	return nil
}

func runSynth(out string, shards int, opts dataset.SynthOptions) error {
	if shards <= 0 {
		shards = 1
	}
	samples, err := dataset.Synthesize(opts)
	if err != nil {
		return err
	}
	per := (len(samples) + shards - 1) / shards
	for n := 0; n*per < len(samples); n++ {
		chunk := samples[n*per : min((n+1)*per, len(samples))]
		path := filepath.Join(out, dataset.ShardName(n))
		if err := dataset.WriteShard(path, chunk); err != nil {
			return err
		}
		log.WithFields(log.Fields{"shard": path, "volumes": len(chunk)}).Info("wrote shard")
	}
	return nil
}

func runOverlay(root, partition, predDir, outDir string, size int) error {
	report, err := isic.Compare(root, partition, predDir, size)
	if err != nil {
		return err
	}
	for _, m := range report.Matches {
		fields := log.Fields{"id": m.ID, "iou": m.IOU}
		if m.Pred == nil {
			log.WithFields(fields).Warn("no detection")
			continue
		}
		fields["confidence"] = m.Pred.Confidence
		log.WithFields(fields).Info("detection")
	}
	log.WithFields(log.Fields{
		"images":   len(report.Matches),
		"detected": report.Detected,
		"mean_iou": report.MeanIOU,
	}).Info("partition scored")

	if outDir == "" {
		return nil
	}
	if err := isic.WriteOverlays(root, partition, outDir, size, report); err != nil {
		return err
	}
	log.WithField("dir", outDir).Info("wrote overlays")
	return nil
}
