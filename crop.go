package lblcrop

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Cropper cuts the retained boxes out of their source images and writes them to the output
// directory, encoded in the format of the source image.
type Cropper struct {
	imageDir     string // Image paths below it keep their relative directory in the output.
	outputDir    string
	resizeWidth  int // Zero disables resizing.
	resizeHeight int
	jpegQuality  int
	labelDirs    bool // Write crops to one sub directory per label.
}

// NewCropper returns a Cropper configured from cfg.
func NewCropper(cfg Config) *Cropper {
	imageDir := cfg.ImageDir
	if cfg.Source() == SourceYOLO {
		imageDir = cfg.YOLOImageDir
	}
	return &Cropper{
		imageDir:     imageDir,
		outputDir:    cfg.OutputDir,
		resizeWidth:  cfg.ResizeWidth,
		resizeHeight: cfg.ResizeHeight,
		jpegQuality:  cfg.JPEGQuality,
		labelDirs:    cfg.LabelDirs,
	}
}

// OutputPath returns the path of the crop for box index i of the image at imagePath:
// <image-stem>_<label>_<index>.<ext>, in the output directory or its label sub directory.
// The directory of imagePath relative to the image directory is kept, so that images with the
// same name in different directories do not overwrite each other's crops.
func (c *Cropper) OutputPath(imagePath, label string, i int) string {
	label = sanitizeLabel(label)
	name := fmt.Sprintf("%s_%s_%d%s", stem(imagePath), label, i, filepath.Ext(imagePath))
	dir := c.outputDir
	if c.labelDirs {
		dir = filepath.Join(dir, label)
	}
	return filepath.Join(dir, c.relativeDir(imagePath), name)
}

// relativeDir returns the directory of imagePath relative to the image directory, or "" if
// imagePath is not below it.
func (c *Cropper) relativeDir(imagePath string) string {
	if c.imageDir == "" {
		return ""
	}
	rel, err := filepath.Rel(c.imageDir, filepath.Dir(imagePath))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return rel
}

// Process decodes the image of job once and writes one crop per retained box, in index order.
//
// It returns one CropOutcome per box. If the image cannot be decoded, every box fails with the
// same error. Failing to write one crop does not affect the other boxes.
func (c *Cropper) Process(job RetainedJob) []CropOutcome {
	outcomes := make([]CropOutcome, len(job.Boxes))
	for i, rb := range job.Boxes {
		outcomes[i] = CropOutcome{
			ImagePath:   job.ImagePath,
			Index:       rb.Index,
			Box:         rb.Box,
			AspectRatio: rb.AspectRatio,
		}
	}

	img, format, err := loadImage(job.ImagePath)
	if err != nil {
		log.WithField("image", job.ImagePath).Warnf("Failed to load image: %v", err)
		for i := range outcomes {
			outcomes[i].Err = err
		}
		return outcomes
	}
	log.WithField("image", job.ImagePath).Debugf("Cropping %d boxes from %s image", len(job.Boxes),
		format)

	for i, rb := range job.Boxes {
		o := &outcomes[i]
		o.OutputPath, o.Width, o.Height, o.Err = c.cropBox(img, format, job.ImagePath, rb)
		if o.Err != nil {
			o.OutputPath = ""
			log.WithFields(log.Fields{"image": job.ImagePath, "box": rb.Index}).
				Warnf("Failed to crop %s: %v", rb.Box, o.Err)
		}
	}

	return outcomes
}

// cropBox crops, optionally resizes, and saves a single box.
func (c *Cropper) cropBox(img image.Image, format, imagePath string, rb RetainedBox) (
	path string, width, height int, err error) {

	log.Debugf("  cropping left %d right %d upper %d lower %d",
		rb.Box.XMin, rb.Box.XMax, rb.Box.YMin, rb.Box.YMax)
	crop, err := cropImage(img, rb.Box.Rect())
	if err != nil {
		return "", 0, 0, err
	}

	if c.resizeWidth > 0 && c.resizeHeight > 0 {
		if crop, err = resizeExact(crop, c.resizeWidth, c.resizeHeight); err != nil {
			return "", 0, 0, err
		}
	}

	path = c.OutputPath(imagePath, rb.Box.Label, rb.Index)
	if dir := filepath.Dir(path); dir != c.outputDir {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", 0, 0, errors.Wrap(err, "cannot create the output sub directory")
		}
	}
	if err := saveImage(path, crop, format, c.jpegQuality); err != nil {
		return "", 0, 0, err
	}

	size := crop.Bounds().Size()
	return path, size.X, size.Y, nil
}
