package plot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fogleman/gg"
	"github.com/stretchr/testify/require"
)

func TestLossCurveWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "losses.png")
	require.NoError(t, LossCurve(path, "Losses over epochs", []float64{0.9, 0.6, 0.45, 0.4}))

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, st.Size(), int64(0))

	img, err := gg.LoadPNG(path)
	require.NoError(t, err)
	require.Equal(t, width, img.Bounds().Dx())
	require.Equal(t, height, img.Bounds().Dy())
}

func TestRenderLossCurveEdgeCases(t *testing.T) {
	_, err := RenderLossCurve("empty", nil)
	require.ErrorIs(t, err, ErrNoData)

	img, err := RenderLossCurve("flat", []float64{0.5})
	require.NoError(t, err)
	require.NotNil(t, img)

	img, err = RenderLossCurve("flat", []float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	require.NotNil(t, img)
}
