// Package plot renders training curves to PNG.
package plot

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
)

const (
	width  = 1000
	height = 500
	margin = 60
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("plot: no values")

// LossCurve draws values against their index and writes a PNG to path.
func LossCurve(path, title string, values []float64) error {
	img, err := RenderLossCurve(title, values)
	if err != nil {
		return err
	}
	if err := gg.SavePNG(path, img); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

// RenderLossCurve draws the chart into an image without touching disk.
func RenderLossCurve(title string, values []float64) (image.Image, error) {
	if len(values) == 0 {
		return nil, ErrNoData
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		hi = lo + 1
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	plotW := float64(width - 2*margin)
	plotH := float64(height - 2*margin)
	x := func(i int) float64 {
		if len(values) == 1 {
			return margin + plotW/2
		}
		return margin + plotW*float64(i)/float64(len(values)-1)
	}
	y := func(v float64) float64 {
		return margin + plotH*(1-(v-lo)/(hi-lo))
	}

	// grid
	dc.SetRGB(0.88, 0.88, 0.88)
	dc.SetLineWidth(1)
	for g := 0; g <= 4; g++ {
		gy := margin + plotH*float64(g)/4
		dc.DrawLine(margin, gy, margin+plotW, gy)
		dc.Stroke()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(margin, margin, plotW, plotH)
	dc.Stroke()
	dc.DrawStringAnchored(title, width/2, margin/2, 0.5, 0.5)
	dc.DrawStringAnchored("Epochs", width/2, height-margin/3, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.4f", hi), margin-5, margin, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.4f", lo), margin-5, margin+plotH, 1, 0.5)

	dc.SetRGB(0.12, 0.47, 0.71)
	dc.SetLineWidth(2)
	for i, v := range values {
		if i == 0 {
			dc.MoveTo(x(i), y(v))
		} else {
			dc.LineTo(x(i), y(v))
		}
	}
	dc.Stroke()
	if len(values) == 1 {
		dc.DrawCircle(x(0), y(values[0]), 3)
		dc.Fill()
	}
	return dc.Image(), nil
}
