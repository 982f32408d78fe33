package metrics

import "time"

// Window accumulates timing, loss and per-label Dice across training steps.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	loss    float64
	coefs   []float64
}

// Record adds one step. coefs holds that step's per-label coefficients.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float32, coefs []float32) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.loss += float64(loss)
	if w.coefs == nil {
		w.coefs = make([]float64, len(coefs))
	}
	for i := range coefs {
		if i < len(w.coefs) {
			w.coefs[i] += float64(coefs[i])
		}
	}
}

// Steps is the number of steps recorded since the last Snapshot.
func (w *Window) Steps() int {
	return w.steps
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.VolumesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		n := float64(w.steps)
		snap.AvgDataMS = (w.data.Seconds() * 1000) / n
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / n
		snap.MeanLoss = w.loss / n
		snap.MeanDice = make([]float64, len(w.coefs))
		for i, c := range w.coefs {
			snap.MeanDice[i] = c / n
		}
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps         int
	VolumesPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
	MeanLoss      float64
	// MeanDice is the mean coefficient per label over the window's steps.
	MeanDice []float64
}

// History keeps one reported loss per epoch.
type History struct {
	Losses []float64
}

func (h *History) Add(loss float64) {
	h.Losses = append(h.Losses, loss)
}

// Best returns the lowest loss and its zero-based epoch, or -1 when empty.
func (h *History) Best() (float64, int) {
	best, at := 0.0, -1
	for i, l := range h.Losses {
		if at < 0 || l < best {
			best, at = l, i
		}
	}
	return best, at
}
