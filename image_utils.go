package lblcrop

import (
	"image"
	"io"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp" // Registers the webp decoder with package image.
)

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	config, format, err = image.DecodeConfig(file)
	if err != nil {
		return image.Config{}, "", errors.Wrapf(err, "cannot probe %q", path)
	}
	return config, format, nil
}

// loadImage reads and decodes the image at path and returns the results of image.Decode.
func loadImage(path string) (img image.Image, format string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err = image.Decode(f)
	if err != nil {
		return nil, "", errors.Wrapf(err, "cannot decode %q", path)
	}
	return img, format, nil
}

// cropImage copies the pixels inside r out of img.
func cropImage(img image.Image, r image.Rectangle) (image.Image, error) {
	b := img.Bounds()
	// Box coordinates are relative to the image origin, which need not be (0,0).
	r = r.Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, errors.Wrapf(ErrEmptyBox, "crop %v of %v image", r, b.Size())
	}
	return imaging.Crop(img, r), nil
}

// resizeExact resamples img to exactly width x height pixels, ignoring its aspect ratio.
func resizeExact(img image.Image, width, height int) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("cannot resize an empty image")
	}
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

// encodeImage writes img to w in the named format, as reported by image.Decode.
func encodeImage(w io.Writer, img image.Image, format string, jpegQuality int) error {
	format = strings.ToLower(format)
	if format == "webp" {
		return webp.Encode(w, img, &webp.Options{Quality: float32(jpegQuality)})
	}

	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return errors.Wrapf(err, "cannot encode %q images", format)
	}
	return imaging.Encode(w, img, f, imaging.JPEGQuality(jpegQuality))
}

// saveImage encodes img in the given format and writes it to path.
func saveImage(path string, img image.Image, format string, jpegQuality int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(f, &err)

	if err := encodeImage(f, img, format, jpegQuality); err != nil {
		_ = os.Remove(path)
		return errors.Wrapf(err, "cannot write %q", path)
	}
	return nil
}
