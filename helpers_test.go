package lblcrop

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestImage returns a w x h gradient, so that crops of different regions differ.
func newTestImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

// writeTestImage writes a w x h gradient to path, as PNG or JPEG depending on the extension.
func writeTestImage(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	img := newTestImage(w, h)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 95}))
	default:
		require.NoError(t, png.Encode(f, img))
	}
}

// writeTestFile writes content to path, creating parent directories.
func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// mustBox is NewBoundingBox for known-good coordinates.
func mustBox(t *testing.T, label string, xmin, ymin, xmax, ymax int) BoundingBox {
	t.Helper()
	b, err := NewBoundingBox(label, xmin, ymin, xmax, ymax)
	require.NoError(t, err)
	return b
}

// imageSize returns the dimensions and format of the image at path.
func imageSize(t *testing.T, path string) (int, int, string) {
	t.Helper()
	cfg, format, err := decodeImageConfig(path)
	require.NoError(t, err)
	return cfg.Width, cfg.Height, format
}
