package isic

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// DefaultSize is the square resolution the lesion images were resized to
// for the detector.
const DefaultSize = 512

// Overlay draws the true box in red and, when present, the predicted box in
// blue on img after resizing it to size×size.
func Overlay(img image.Image, size int, truth Box, pred *Box) image.Image {
	if size <= 0 {
		size = DefaultSize
	}
	if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
		img = imaging.Resize(img, size, size, imaging.Lanczos)
	}
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)

	if pred != nil {
		drawRect(dc, pred.Pixels(size))
		dc.SetRGB(0, 0, 1)
		dc.Stroke()
	}
	drawRect(dc, truth.Pixels(size))
	dc.SetRGB(1, 0, 0)
	dc.Stroke()

	dc.SetRGB(1, 1, 1)
	dc.DrawString("true", 6, 14)
	if pred != nil {
		dc.DrawString(fmt.Sprintf("pred %.2f", pred.Confidence), 6, 28)
	}
	return dc.Image()
}

func drawRect(dc *gg.Context, r Rect) {
	dc.DrawRectangle(float64(r.X), float64(r.Y), float64(r.Width), float64(r.Height))
}

// RenderOverlay loads imagePath, draws the boxes and writes a PNG to out.
func RenderOverlay(imagePath string, size int, truth Box, pred *Box, out string) error {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create overlay dir: %w", err)
	}
	if err := gg.SavePNG(out, Overlay(img, size, truth, pred)); err != nil {
		return fmt.Errorf("save overlay: %w", err)
	}
	return nil
}
