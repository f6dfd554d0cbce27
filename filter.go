package lblcrop

// Geometry derivation and box filters.

// AspectRatio returns max(width,height)/min(width,height), which is >= 1 for any box
// with a positive area.
func AspectRatio(width, height int) float64 {
	w, h := float64(width), float64(height)
	if w < h {
		w, h = h, w
	}
	return w / h
}

// Filter drops boxes by aspect ratio and label. The zero value keeps everything.
type Filter struct {
	maxAspectRatio float64
	labels         map[string]struct{}
}

// NewFilter returns a Filter that drops boxes with an aspect ratio above maxAspectRatio
// (zero disables the check) and boxes whose label is not in labels (empty keeps all).
func NewFilter(maxAspectRatio float64, labels []string) Filter {
	f := Filter{maxAspectRatio: maxAspectRatio}
	if len(labels) > 0 {
		f.labels = make(map[string]struct{}, len(labels))
		for _, l := range labels {
			f.labels[l] = struct{}{}
		}
	}
	return f
}

// Keep reports whether a box with the given label and aspect ratio passes the filter.
func (f Filter) Keep(label string, aspectRatio float64) bool {
	if f.maxAspectRatio > 0 && aspectRatio > f.maxAspectRatio {
		return false
	}
	if f.labels != nil {
		if _, ok := f.labels[label]; !ok {
			return false
		}
	}
	return true
}

// Apply returns the boxes that pass the filter, in their original order. Each retained box
// carries its index in boxes and its aspect ratio.
func (f Filter) Apply(boxes []BoundingBox) []RetainedBox {
	retained := make([]RetainedBox, 0, len(boxes))
	for i, b := range boxes {
		ar := AspectRatio(b.Width(), b.Height())
		if !f.Keep(b.Label, ar) {
			continue
		}
		retained = append(retained, RetainedBox{Box: b, Index: i, AspectRatio: ar})
	}
	return retained
}
