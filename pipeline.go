package lblcrop

import (
	"iter"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Reader produces the annotation records of one source format.
type Reader interface {
	// Records returns a lazy sequence over all records. Each call starts over.
	Records() iter.Seq[AnnotationRecord]
}

// NewReader returns the reader for the source selected in cfg. Problems that make the whole
// source unusable, such as an unreadable names file, are returned as errors.
func NewReader(cfg Config) (Reader, error) {
	switch cfg.Source() {
	case SourcePascal:
		files, err := FilesByExt(cfg.PascalDir, ".xml")
		if err != nil {
			return nil, err
		}
		log.Printf("Found %d PASCAL files under %q", len(files), cfg.PascalDir)
		return NewPascalReader(files, cfg.ImageDir), nil

	case SourceYOLO:
		names, err := LoadNamesTable(cfg.YOLONamesFile)
		if err != nil {
			return nil, err
		}
		files, err := FilesByExt(cfg.YOLOLabelDir, ".txt")
		if err != nil {
			return nil, err
		}
		return NewYOLOReader(files, cfg.YOLOImageDir, names)
	}

	return nil, ErrNoSource
}

// Prepare creates the output directory, checks that it is writable, and creates the parent
// directories of the report files. It must succeed before any work is dispatched.
func Prepare(cfg Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return errors.Wrap(err, "cannot create the output directory")
	}
	// An existing directory may still be read-only.
	tmp, err := os.CreateTemp(cfg.OutputDir, ".lblcrop-*")
	if err != nil {
		return errors.Wrapf(err, "output directory %q is not writable", cfg.OutputDir)
	}
	tmp.Close()
	if err := os.Remove(tmp.Name()); err != nil {
		return errors.Wrapf(err, "cannot clean up %q", tmp.Name())
	}

	for _, p := range []string{cfg.BBoxInfoPath, cfg.TFRecordPath, cfg.TFRecordLabelMapPath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return errors.Wrapf(err, "cannot create the directory for %q", p)
		}
	}
	return nil
}

// LoadRecords reads all records from reader, resolves their image sizes and clips their boxes
// to the image bounds. Records whose image cannot be probed are logged and dropped. The
// result is sorted by annotation file path.
func LoadRecords(reader Reader) []AnnotationRecord {
	var records []AnnotationRecord
	invalid := 0
	for rec := range reader.Records() {
		if err := resolveRecord(&rec); err != nil {
			log.WithFields(log.Fields{"file": rec.Source, "image": rec.ImagePath}).
				Warnf("Skipping annotation: %v", err)
			invalid++
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Source < records[j].Source
	})
	log.Printf("Annotation files: %d to be processed, %d without a usable image",
		len(records), invalid)
	return records
}

// resolveRecord probes the image size, unless known, and clips the boxes to it. Boxes left
// without area are dropped.
func resolveRecord(rec *AnnotationRecord) error {
	if !rec.hasSize() {
		cfg, _, err := decodeImageConfig(rec.ImagePath)
		if err != nil {
			return err
		}
		rec.Width, rec.Height = cfg.Width, cfg.Height
	}

	boxes := rec.Boxes[:0]
	for i, b := range rec.Boxes {
		fields := log.Fields{"file": rec.Source, "box": i}
		clamped, changed, err := b.Clamp(rec.Width, rec.Height)
		if err != nil {
			log.WithFields(fields).Warnf("Dropping box: %v", err)
			continue
		}
		if changed {
			log.WithFields(fields).Infof("Clamped %s to %s", b, clamped)
		}
		boxes = append(boxes, clamped)
	}
	rec.Boxes = boxes
	return nil
}

// BuildJobs applies filter to the records and coalesces the retained boxes into one job per
// image, so that every image is decoded once. Records are expected in the order returned by
// LoadRecords; the boxes of records sharing an image are numbered in that order. Jobs are
// sorted by image path and images without retained boxes get no job.
func BuildJobs(records []AnnotationRecord, filter Filter) []RetainedJob {
	type group struct {
		width, height int
		boxes         []BoundingBox
	}
	groups := make(map[string]*group)
	for _, rec := range records {
		g, ok := groups[rec.ImagePath]
		if !ok {
			g = &group{width: rec.Width, height: rec.Height}
			groups[rec.ImagePath] = g
		}
		g.boxes = append(g.boxes, rec.Boxes...)
	}

	jobs := make([]RetainedJob, 0, len(groups))
	numBoxes, numRetained := 0, 0
	for path, g := range groups {
		numBoxes += len(g.boxes)
		retained := filter.Apply(g.boxes)
		if len(retained) == 0 {
			continue
		}
		numRetained += len(retained)
		jobs = append(jobs, RetainedJob{
			ImagePath: path,
			Width:     g.width,
			Height:    g.height,
			Boxes:     retained,
		})
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ImagePath < jobs[j].ImagePath
	})

	log.Printf("Filtered out %d of %d boxes; %d images to crop",
		numBoxes-numRetained, numBoxes, len(jobs))
	return jobs
}

// Run crops all jobs and writes the reports configured in cfg. Prepare must have been called.
func Run(cfg Config, jobs []RetainedJob, progress Progress) (*Report, error) {
	d := NewDispatcher(cfg, NewCropper(cfg), progress)
	report := d.Run(jobs)

	if cfg.BBoxInfoPath != "" {
		if err := report.WriteCSVFile(cfg.BBoxInfoPath); err != nil {
			return report, err
		}
		log.Printf("Wrote %d box rows to %s", len(report.Rows), cfg.BBoxInfoPath)
	}
	if cfg.TFRecordPath != "" {
		err := WriteTFRecord(cfg.TFRecordPath, cfg.TFRecordLabelMapPath, report, cfg.NumShards)
		if err != nil {
			return report, err
		}
	}

	return report, nil
}
