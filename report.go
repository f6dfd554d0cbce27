package lblcrop

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// ReportRow is the geometry of one successfully cropped box.
type ReportRow struct {
	ImagePath   string
	Index       int
	OutputPath  string
	Width       int // Box width, before any resizing.
	Height      int // Box height, before any resizing.
	AspectRatio float64
	Label       string
	CropWidth   int // Size of the written crop.
	CropHeight  int
}

// LabelSummary counts boxes per label.
type LabelSummary map[string]int

// Add adds n to the count for label.
func (s LabelSummary) Add(label string, n int) {
	s[label] += n
}

// Merge adds all counts of other to s.
func (s LabelSummary) Merge(other LabelSummary) {
	for label, n := range other {
		s[label] += n
	}
}

// Total is the sum of all counts.
func (s LabelSummary) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// LabelCount is an entry of a sorted LabelSummary.
type LabelCount struct {
	Label string
	Count int
}

// Sorted returns the counts by descending count, and by label for equal counts.
func (s LabelSummary) Sorted() []LabelCount {
	counts := make([]LabelCount, 0, len(s))
	for label, n := range s {
		counts = append(counts, LabelCount{Label: label, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Label < counts[j].Label
	})
	return counts
}

// Report aggregates the outcomes of a run.
type Report struct {
	Jobs     int
	Rows     []ReportRow   // Sorted by image path, then box index.
	Labels   LabelSummary  // Successful crops per label.
	Failures []CropOutcome // Sorted by image path, then box index.
}

func newReport() *Report {
	return &Report{Labels: make(LabelSummary)}
}

// add records the outcomes of one job.
func (r *Report) add(outcomes []CropOutcome) {
	r.Jobs++
	for _, o := range outcomes {
		if !o.OK() {
			r.Failures = append(r.Failures, o)
			continue
		}
		r.Rows = append(r.Rows, ReportRow{
			ImagePath:   o.ImagePath,
			Index:       o.Index,
			OutputPath:  o.OutputPath,
			Width:       o.Box.Width(),
			Height:      o.Box.Height(),
			AspectRatio: o.AspectRatio,
			Label:       o.Box.Label,
			CropWidth:   o.Width,
			CropHeight:  o.Height,
		})
		r.Labels.Add(o.Box.Label, 1)
	}
}

// merge adds the contents of other to r.
func (r *Report) merge(other *Report) {
	r.Jobs += other.Jobs
	r.Rows = append(r.Rows, other.Rows...)
	r.Labels.Merge(other.Labels)
	r.Failures = append(r.Failures, other.Failures...)
}

// finalize puts the rows and failures into their canonical order.
func (r *Report) finalize() {
	sort.Slice(r.Rows, func(i, j int) bool {
		a, b := r.Rows[i], r.Rows[j]
		if a.ImagePath != b.ImagePath {
			return a.ImagePath < b.ImagePath
		}
		return a.Index < b.Index
	})
	sort.Slice(r.Failures, func(i, j int) bool {
		a, b := r.Failures[i], r.Failures[j]
		if a.ImagePath != b.ImagePath {
			return a.ImagePath < b.ImagePath
		}
		return a.Index < b.Index
	})
}

// WriteCSV writes the per-box geometry rows to w.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"width", "height", "aspect_ratio", "label"}); err != nil {
		return err
	}
	for _, row := range r.Rows {
		err := cw.Write([]string{
			strconv.Itoa(row.Width),
			strconv.Itoa(row.Height),
			strconv.FormatFloat(row.AspectRatio, 'f', -1, 64),
			row.Label,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the per-box geometry rows to the file at path.
func (r *Report) WriteCSVFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer closeWithErrCheck(f, &err)

	if err := r.WriteCSV(f); err != nil {
		return errors.Wrapf(err, "cannot write %q", path)
	}
	return nil
}

// PrintLabels writes the crop counts by label to w.
func (r *Report) PrintLabels(w io.Writer) {
	fmt.Fprintln(w, "Crops by label:")
	for _, c := range r.Labels.Sorted() {
		fmt.Fprintf(w, "  %5d %-40s\n", c.Count, strconv.Quote(c.Label))
	}
	fmt.Fprintf(w, "  %5d total\n", r.Labels.Total())
}

// PrintFailures writes the failed boxes to w, if any.
func (r *Report) PrintFailures(w io.Writer) {
	if len(r.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "Failed crops: %d\n", len(r.Failures))
	for _, o := range r.Failures {
		fmt.Fprintf(w, "  %s #%d %q: %v\n", o.ImagePath, o.Index, o.Box.Label, o.Err)
	}
}
