package lblcrop

import (
	"fmt"
	"io"
	"sort"
	"strconv"
)

// AnnotationSummary describes the loaded annotations before any filtering.
type AnnotationSummary struct {
	Records     int
	Objects     int
	Labels      LabelSummary
	MultiImages []ImageRefCount // Images referenced by more than one record, by path.
}

// ImageRefCount is the number of records that reference an image.
type ImageRefCount struct {
	ImagePath string
	Count     int
}

// Summarize counts the records, objects and labels in records.
func Summarize(records []AnnotationRecord) AnnotationSummary {
	s := AnnotationSummary{Records: len(records), Labels: make(LabelSummary)}
	refs := make(map[string]int, len(records))
	for _, rec := range records {
		for _, b := range rec.Boxes {
			s.Labels.Add(b.Label, 1)
			s.Objects++
		}
		refs[rec.ImagePath]++
	}

	for path, n := range refs {
		if n > 1 {
			s.MultiImages = append(s.MultiImages, ImageRefCount{ImagePath: path, Count: n})
		}
	}
	sort.Slice(s.MultiImages, func(i, j int) bool {
		return s.MultiImages[i].ImagePath < s.MultiImages[j].ImagePath
	})

	return s
}

// Print writes the summary to w.
func (s AnnotationSummary) Print(w io.Writer) {
	fmt.Fprintln(w, "\nSummary of loaded annotations:")
	fmt.Fprintf(w, "  %d annotations with %d objects\n", s.Records, s.Objects)
	fmt.Fprintf(w, "  %d labels:\n", len(s.Labels))
	for _, c := range s.Labels.Sorted() {
		fmt.Fprintf(w, "   %5d %s\n", c.Count, strconv.Quote(c.Label))
	}

	if len(s.MultiImages) > 0 {
		fmt.Fprintln(w, "\n  Images referenced in multiple annotations:")
		for _, m := range s.MultiImages {
			fmt.Fprintf(w, "    %5d  %s\n", m.Count, m.ImagePath)
		}
	}
	fmt.Fprintln(w)
}
