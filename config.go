package lblcrop

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Fatal configuration errors.
var (
	ErrNoSource           = errors.New("no annotation source specified")
	ErrConflictingSources = errors.New("the PASCAL and YOLO sources are mutually exclusive")
	ErrIncompleteYOLO     = errors.New("YOLO input needs an image dir, a label dir and a names file")
)

const defaultJPEGQuality = 90

// Source selects the annotation format.
type Source int

// The supported annotation sources.
const (
	SourceNone Source = iota
	SourcePascal
	SourceYOLO
)

func (s Source) String() string {
	switch s {
	case SourcePascal:
		return "pascal"
	case SourceYOLO:
		return "yolo"
	}
	return "none"
}

// Config is the configuration for a run. It is built once and passed by value.
type Config struct {
	PascalDir string // Directory of PASCAL VOC documents.

	YOLOImageDir  string
	YOLOLabelDir  string
	YOLONamesFile string

	ImageDir  string // Base directory for PASCAL image file names.
	OutputDir string

	MaxAspectRatio float64  // Zero disables the filter.
	Labels         []string // Label allow-list; empty keeps all.

	ResizeWidth  int // Both zero to keep the crop size.
	ResizeHeight int
	JPEGQuality  int
	LabelDirs    bool // Write crops to per-label sub directories.

	BBoxInfoPath string // CSV report destination; empty for none.

	Workers       int
	Verbose       bool
	NoProgressBar bool
	Summary       bool // Print a summary of the loaded annotations before cropping.

	TFRecordPath         string // TFRecord export destination; empty for none.
	TFRecordLabelMapPath string
	NumShards            int
}

// Source returns the selected annotation source.
func (c Config) Source() Source {
	switch {
	case c.PascalDir != "":
		return SourcePascal
	case c.YOLOImageDir != "" || c.YOLOLabelDir != "" || c.YOLONamesFile != "":
		return SourceYOLO
	}
	return SourceNone
}

// ShowProgress reports whether a progress bar should be displayed.
func (c Config) ShowProgress() bool {
	return !c.Verbose && !c.NoProgressBar
}

// Validate checks c and returns a copy with defaults filled in and paths cleaned.
func (c Config) Validate() (Config, error) {
	haveYOLO := c.YOLOImageDir != "" || c.YOLOLabelDir != "" || c.YOLONamesFile != ""
	switch {
	case c.PascalDir == "" && !haveYOLO:
		return c, ErrNoSource
	case c.PascalDir != "" && haveYOLO:
		return c, ErrConflictingSources
	case haveYOLO && (c.YOLOImageDir == "" || c.YOLOLabelDir == "" || c.YOLONamesFile == ""):
		return c, ErrIncompleteYOLO
	}

	if c.OutputDir == "" {
		return c, errors.New("missing output directory")
	}
	if c.MaxAspectRatio != 0 && c.MaxAspectRatio < 1 {
		return c, errors.Errorf("invalid max aspect ratio %v, must be >= 1", c.MaxAspectRatio)
	}
	if c.ResizeWidth < 0 || c.ResizeHeight < 0 || (c.ResizeWidth == 0) != (c.ResizeHeight == 0) {
		return c, errors.Errorf("invalid resize target %dx%d", c.ResizeWidth, c.ResizeHeight)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		if c.JPEGQuality != 0 {
			log.Warnf("Invalid JPEG quality %d, setting it to %d", c.JPEGQuality, defaultJPEGQuality)
		}
		c.JPEGQuality = defaultJPEGQuality
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.NumShards <= 0 {
		c.NumShards = 1
	}
	if c.TFRecordPath != "" && c.TFRecordLabelMapPath == "" {
		c.TFRecordLabelMapPath = c.TFRecordPath + ".pbtxt"
	}

	for _, p := range []*string{&c.PascalDir, &c.YOLOImageDir, &c.YOLOLabelDir, &c.YOLONamesFile,
		&c.ImageDir, &c.OutputDir, &c.BBoxInfoPath, &c.TFRecordPath, &c.TFRecordLabelMapPath} {
		if *p != "" {
			*p = filepath.Clean(*p)
		}
	}
	if c.Source() == SourcePascal && c.ImageDir == "" {
		c.ImageDir = c.PascalDir
	}
	c.Labels = append([]string(nil), c.Labels...)

	return c, nil
}

// DefaultsFromEnv returns a Config with the defaults taken from the environment.
func DefaultsFromEnv() Config {
	return Config{
		OutputDir:   getEnv("LBLCROP_OUTPUT_DIR", ""),
		Workers:     getEnvAsInt("LBLCROP_WORKERS", 0),
		JPEGQuality: getEnvAsInt("LBLCROP_JPEG_QUALITY", defaultJPEGQuality),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warnf("Ignoring non-integer value %q of %s", value, key)
	}
	return defaultValue
}
