package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"segforge/internal/dice"
)

// Synthetic describes generated training data used when no roots are set.
type Synthetic struct {
	Count  int     `yaml:"count"`
	Depth  int     `yaml:"depth"`
	Height int     `yaml:"height"`
	Width  int     `yaml:"width"`
	Noise  float32 `yaml:"noise"`
}

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainRoots      []string   `yaml:"train_roots"`
	EvalRoots       []string   `yaml:"eval_roots"`
	Channels        int        `yaml:"channels"`
	Epochs          int        `yaml:"epochs"`
	BatchSize       int        `yaml:"batch_size"`
	SamplesPerEpoch int        `yaml:"samples_per_epoch"`
	NumWorkers      int        `yaml:"num_workers"`
	Seed            int64      `yaml:"seed"`
	LogEvery        int        `yaml:"log_every"`
	Loss            string     `yaml:"loss"`
	Epsilon         float32    `yaml:"epsilon"`
	LearningRate    float32    `yaml:"learning_rate"`
	WeightDecay     *float32   `yaml:"weight_decay"` // nil means 1e-5; 0 disables decay
	LRDecay         float32    `yaml:"lr_decay"`
	PlotPath        string     `yaml:"plot_path"`
	Synthetic       *Synthetic `yaml:"synthetic"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs    int
	BatchSize int
	Loss      string
	Seed      int64
	PlotPath  string
}

// Load reads and validates a Config from YAML. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Loss != "" {
		c.Loss = o.Loss
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.PlotPath != "" {
		c.PlotPath = o.PlotPath
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.TrainRoots) == 0 && c.Synthetic == nil {
		return errors.New("either train_roots or synthetic must be set")
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be > 0 (got %d)", c.Channels)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be >= 0 (got %d)", c.BatchSize)
	}
	if c.BatchSize == 0 {
		c.BatchSize = 2
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	if c.Loss == "" {
		c.Loss = "arithmetic"
	}
	if _, err := dice.Lookup(c.Loss, c.Epsilon); err != nil {
		return fmt.Errorf("loss: %w", err)
	}
	if c.Epsilon <= 0 {
		c.Epsilon = dice.DefaultEpsilon
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 5e-4
	}
	if c.WeightDecay == nil {
		wd := float32(1e-5)
		c.WeightDecay = &wd
	}
	if *c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", *c.WeightDecay)
	}
	if c.LRDecay <= 0 || c.LRDecay > 1 {
		c.LRDecay = 0.985
	}
	if s := c.Synthetic; s != nil {
		if s.Count <= 0 || s.Depth <= 0 || s.Height <= 0 || s.Width <= 0 {
			return fmt.Errorf("synthetic: count and dimensions must be > 0 (got %+v)", *s)
		}
	}
	if c.SamplesPerEpoch <= 0 {
		c.SamplesPerEpoch = c.BatchSize
		if c.Synthetic != nil {
			c.SamplesPerEpoch = c.Synthetic.Count
		}
	}
	return nil
}
