package lblcrop

// YOLO (darknet) specific functionality.

import (
	"iter"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// imageExts are the file extensions considered when matching label files to images.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
}

// NamesTable maps a zero-based class index to its label.
type NamesTable struct {
	Path   string
	Labels []string
}

// LoadNamesTable reads a names file with one label per line. The class index of a label is its
// zero-based line number. Trailing blank lines are ignored; other empty labels are kept, so that
// the indices of the following lines do not shift, and logged.
func LoadNamesTable(path string) (*NamesTable, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load the names file")
	}

	labels := make([]string, len(lines))
	for i, l := range lines {
		labels[i] = strings.TrimSpace(l)
	}
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	for i, l := range labels {
		if l == "" {
			log.WithFields(log.Fields{"file": path, "line": i + 1}).
				Warnf("Empty label for class index %d", i)
		}
	}
	return &NamesTable{Path: path, Labels: labels}, nil
}

// Label returns the label for the class index.
func (t *NamesTable) Label(classIndex int) (string, bool) {
	if classIndex < 0 || classIndex >= len(t.Labels) {
		return "", false
	}
	return t.Labels[classIndex], true
}

// YOLOObject is a single annotation line: a class index and a box given by its center and
// size, normalised to the image width and height.
type YOLOObject struct {
	ClassIndex                      int
	CenterX, CenterY, Width, Height float64
}

// ToBoundingBox converts the normalised box to absolute pixel coordinates for an image of
// the given size.
func (o YOLOObject) ToBoundingBox(label string, imageWidth, imageHeight int) (BoundingBox, error) {
	w, h := float64(imageWidth), float64(imageHeight)
	return NewBoundingBox(label,
		int(math.Round((o.CenterX-o.Width/2)*w)),
		int(math.Round((o.CenterY-o.Height/2)*h)),
		int(math.Round((o.CenterX+o.Width/2)*w)),
		int(math.Round((o.CenterY+o.Height/2)*h)))
}

// parseYOLOLine parses "<class_index> <cx> <cy> <w> <h>". Additional trailing values, such
// as a confidence score, are ignored.
func parseYOLOLine(line string) (YOLOObject, error) {
	var o YOLOObject

	tokens := strings.Fields(line)
	if len(tokens) < 5 {
		return o, errors.Errorf("insufficient tokens in %q", line)
	}

	classIndex, err := strconv.Atoi(tokens[0])
	if err != nil || classIndex < 0 {
		return o, errors.Errorf("invalid class index %q", tokens[0])
	}
	o.ClassIndex = classIndex

	vals := [4]*float64{&o.CenterX, &o.CenterY, &o.Width, &o.Height}
	for i, v := range vals {
		*v, err = strconv.ParseFloat(tokens[i+1], 64)
		if err != nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return o, errors.Errorf("unexpected value %q in %q", tokens[i+1], line)
		}
	}

	return o, nil
}

// YOLOReader reads YOLO label files and matches them by file name to the images in an image
// directory.
type YOLOReader struct {
	labelFiles []string
	images     map[string]string // Base name without extension to image path.
	names      *NamesTable
}

// NewYOLOReader returns a reader over labelFiles. The names table file is skipped if it is
// among the label files.
func NewYOLOReader(labelFiles []string, imageDir string, names *NamesTable) (*YOLOReader, error) {
	if names == nil {
		return nil, errors.New("missing names table")
	}

	files, err := filesInDir(imageDir)
	if err != nil {
		return nil, err
	}
	imageFiles := files[:0]
	for _, f := range files {
		if imageExts[strings.ToLower(filepath.Ext(f))] {
			imageFiles = append(imageFiles, f)
		}
	}

	namesPath, _ := filepath.Abs(names.Path)
	filtered := make([]string, 0, len(labelFiles))
	for _, f := range labelFiles {
		if abs, _ := filepath.Abs(f); abs == namesPath {
			continue
		}
		filtered = append(filtered, f)
	}

	log.Printf("Found %d images for %d YOLO label files", len(imageFiles), len(filtered))
	return &YOLOReader{
		labelFiles: filtered,
		images:     mapFileNamesToPaths(imageFiles),
		names:      names,
	}, nil
}

// Records returns a lazy sequence of the parsed label files. Label files without an image, or
// whose image cannot be probed, are logged and skipped. Each call starts over.
func (r *YOLOReader) Records() iter.Seq[AnnotationRecord] {
	return func(yield func(AnnotationRecord) bool) {
		for _, path := range r.labelFiles {
			imagePath, found := r.images[stem(path)]
			if !found {
				log.WithField("file", path).Warn("No corresponding image file, skipping")
				continue
			}

			rec, err := r.parseFile(path, imagePath)
			if err != nil {
				log.WithField("file", path).Warnf("Error while parsing, skipping: %v", err)
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// parseFile reads one label file. Lines that cannot be used are logged and skipped.
func (r *YOLOReader) parseFile(labelPath, imagePath string) (AnnotationRecord, error) {
	lines, err := readLines(labelPath)
	if err != nil {
		return AnnotationRecord{}, err
	}

	// The image size is needed to scale the normalised coordinates.
	cfg, _, err := decodeImageConfig(imagePath)
	if err != nil {
		return AnnotationRecord{}, errors.Wrap(err, "failed to decode the image metadata")
	}

	rec := AnnotationRecord{
		Source:    labelPath,
		ImagePath: imagePath,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Boxes:     make([]BoundingBox, 0, len(lines)),
	}
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := log.Fields{"file": labelPath, "line": i + 1}

		o, err := parseYOLOLine(line)
		if err != nil {
			log.WithFields(fields).Warnf("Skipping line: %v", err)
			continue
		}
		label, ok := r.names.Label(o.ClassIndex)
		if !ok {
			log.WithFields(fields).Warnf("Skipping line: class index %d out of range [0,%d)",
				o.ClassIndex, len(r.names.Labels))
			continue
		}
		b, err := o.ToBoundingBox(label, cfg.Width, cfg.Height)
		if err != nil {
			log.WithFields(fields).Warnf("Skipping line: %v", err)
			continue
		}
		rec.Boxes = append(rec.Boxes, b)
	}

	return rec, nil
}
