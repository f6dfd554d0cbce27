package lblcrop

// PASCAL VOC specific functionality.

import (
	"encoding/xml"
	"iter"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PascalBndbox is the bounding box of a PASCAL object. Coordinates are kept as text since
// some tools write them as floats.
type PascalBndbox struct {
	XMin string `xml:"xmin"`
	YMin string `xml:"ymin"`
	XMax string `xml:"xmax"`
	YMax string `xml:"ymax"`
}

// PascalObject is a single annotation within a PASCAL document.
type PascalObject struct {
	Name   string        `xml:"name"`
	Bndbox *PascalBndbox `xml:"bndbox"`
}

// PascalAnnotation defines the PASCAL annotation structure for a single image. Only the
// file name is used to locate the image; folder and path are ignored.
type PascalAnnotation struct {
	XMLName  xml.Name       `xml:"annotation"`
	Filename string         `xml:"filename"`
	Objects  []PascalObject `xml:"object"`
}

// PascalReader reads PASCAL VOC documents, one per image.
type PascalReader struct {
	labelFiles []string
	imageDir   string
}

// NewPascalReader returns a reader over the given annotation documents. Image file names are
// resolved against imageDir.
func NewPascalReader(labelFiles []string, imageDir string) *PascalReader {
	return &PascalReader{labelFiles: labelFiles, imageDir: imageDir}
}

// Records returns a lazy sequence of the parsed documents. Documents which fail to parse are
// logged and skipped. Each call starts over.
func (r *PascalReader) Records() iter.Seq[AnnotationRecord] {
	return func(yield func(AnnotationRecord) bool) {
		labels := make(interner)
		for _, path := range r.labelFiles {
			rec, err := parsePascalFile(path, r.imageDir, labels)
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

// parsePascalFile reads the document at path and converts it to an AnnotationRecord.
func parsePascalFile(path, imageDir string, labels interner) (AnnotationRecord, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return AnnotationRecord{}, err
	}

	doc, err := parsePascal(enc)
	if err != nil {
		return AnnotationRecord{}, err
	}

	rec := AnnotationRecord{
		Source:    path,
		ImagePath: filepath.Join(imageDir, filepath.FromSlash(doc.Filename)),
		Boxes:     make([]BoundingBox, 0, len(doc.Objects)),
	}
	for i, o := range doc.Objects {
		b, err := o.toBoundingBox(labels)
		if errors.Is(err, ErrEmptyBox) {
			log.WithFields(log.Fields{"file": path, "object": i}).Warnf("Skipping box: %v", err)
			continue
		} else if err != nil {
			return AnnotationRecord{}, errors.Wrapf(err, "object %d", i)
		}
		rec.Boxes = append(rec.Boxes, b)
	}

	return rec, nil
}

// parsePascal unmarshals a PASCAL document and checks the required fields.
func parsePascal(enc []byte) (PascalAnnotation, error) {
	var doc PascalAnnotation
	if err := xml.Unmarshal(enc, &doc); err != nil {
		return doc, errors.Wrap(err, "invalid PASCAL document")
	}

	doc.Filename = strings.TrimSpace(doc.Filename)
	if doc.Filename == "" {
		return doc, errors.New("missing <filename>")
	}
	for i, o := range doc.Objects {
		if strings.TrimSpace(o.Name) == "" {
			return doc, errors.Errorf("object %d: missing <name>", i)
		}
		if o.Bndbox == nil {
			return doc, errors.Errorf("object %d: missing <bndbox>", i)
		}
	}

	return doc, nil
}

// toBoundingBox converts the object, truncating fractional coordinates.
func (o PascalObject) toBoundingBox(labels interner) (BoundingBox, error) {
	var coords [4]int
	for i, s := range [4]string{o.Bndbox.XMin, o.Bndbox.YMin, o.Bndbox.XMax, o.Bndbox.YMax} {
		v, err := parseCoord(s)
		if err != nil {
			return BoundingBox{}, err
		}
		coords[i] = v
	}

	return NewBoundingBox(labels.intern(strings.TrimSpace(o.Name)),
		coords[0], coords[1], coords[2], coords[3])
}

// parseCoord parses an integer or float pixel coordinate, truncating toward zero.
func parseCoord(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("missing coordinate")
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Errorf("invalid coordinate %q", s)
	}
	return int(f), nil
}

// interner deduplicates label strings across records.
type interner map[string]string

func (in interner) intern(s string) string {
	if v, ok := in[s]; ok {
		return v
	}
	in[s] = s
	return s
}
