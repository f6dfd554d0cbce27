package lblcrop

// The intermediate annotation representation shared by both readers.

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
)

// ErrEmptyBox is returned for rectangles without a positive area.
var ErrEmptyBox = errors.New("bounding box has no area")

// BoundingBox is one labelled object. The coordinates are pixel edge offsets from the
// top-left corner of the image, with XMin < XMax and YMin < YMax. The object covers the
// pixel columns XMin..XMax-1 and rows YMin..YMax-1.
type BoundingBox struct {
	Label                  string
	XMin, YMin, XMax, YMax int
}

// NewBoundingBox returns the box for the given coordinates, or ErrEmptyBox if it has no
// positive area.
func NewBoundingBox(label string, xmin, ymin, xmax, ymax int) (BoundingBox, error) {
	b := BoundingBox{Label: label, XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax}
	if xmin >= xmax || ymin >= ymax {
		return b, errors.Wrapf(ErrEmptyBox, "%s", b)
	}
	return b, nil
}

// Width is the object width in pixels.
func (b BoundingBox) Width() int {
	return b.XMax - b.XMin
}

// Height is the object height in pixels.
func (b BoundingBox) Height() int {
	return b.YMax - b.YMin
}

// Rect converts b to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%q (%d,%d)(%d,%d)", b.Label, b.XMin, b.YMin, b.XMax, b.YMax)
}

// Clamp clips b to an image of the given size.
//
// It returns the clipped box, whether clipping changed it, and ErrEmptyBox if nothing of
// the box is left inside the image.
func (b BoundingBox) Clamp(width, height int) (clamped BoundingBox, changed bool, err error) {
	r := b.Rect().Intersect(image.Rect(0, 0, width, height))
	if r.Empty() {
		return b, true, errors.Wrapf(ErrEmptyBox, "%s outside of %dx%d image", b, width, height)
	}

	clamped = BoundingBox{Label: b.Label, XMin: r.Min.X, YMin: r.Min.Y, XMax: r.Max.X, YMax: r.Max.Y}
	return clamped, clamped != b, nil
}

// AnnotationRecord holds the boxes parsed from one annotation file.
type AnnotationRecord struct {
	Source    string        // The annotation file the record was parsed from.
	ImagePath string        // The annotated image; may still need joining with an image dir.
	Width     int           // Image width, zero if not probed yet.
	Height    int           // Image height, zero if not probed yet.
	Boxes     []BoundingBox // In document order.
}

// hasSize reports whether the image dimensions are known.
func (r *AnnotationRecord) hasSize() bool {
	return r.Width > 0 && r.Height > 0
}

// RetainedBox is a box that survived filtering, along with its derived geometry.
type RetainedBox struct {
	Box         BoundingBox
	Index       int     // Sequence index of the box within its job; used in file names.
	AspectRatio float64 // max(w,h)/min(w,h)
}

// RetainedJob is the unit of work for one source image: all of its retained boxes.
type RetainedJob struct {
	ImagePath string
	Width     int
	Height    int
	Boxes     []RetainedBox // Sorted by Index.
}

// CropOutcome is the result of cropping a single box.
type CropOutcome struct {
	ImagePath   string
	Index       int
	Box         BoundingBox // The box as derived by the filter stage.
	OutputPath  string      // Empty if the crop failed.
	Width       int         // Final pixel width, after resizing.
	Height      int         // Final pixel height, after resizing.
	AspectRatio float64
	Err         error
}

// OK reports whether the crop was written.
func (o CropOutcome) OK() bool {
	return o.Err == nil
}
