package nn

import (
	"github.com/chewxy/math32"
)

// Box is an axis-aligned rectangle given by its corners.
// Depending on context, the units are absolute pixels or image-normalized [0,1] coordinates.
type Box struct {
	XMin float32 `json:"xmin"`
	YMin float32 `json:"ymin"`
	XMax float32 `json:"xmax"`
	YMax float32 `json:"ymax"`
}

// Create a box from center and size
func BoxFromCenter(xc, yc, w, h float32) Box {
	return Box{
		XMin: xc - w/2,
		YMin: yc - h/2,
		XMax: xc + w/2,
		YMax: yc + h/2,
	}
}

func (b Box) Width() float32 {
	return b.XMax - b.XMin
}

func (b Box) Height() float32 {
	return b.YMax - b.YMin
}

// Area is zero for degenerate (inverted) boxes
func (b Box) Area() float32 {
	return max(0, b.Width()) * max(0, b.Height())
}

func (b Box) Center() (float32, float32) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

func (b Box) Intersection(o Box) Box {
	r := Box{
		XMin: max(b.XMin, o.XMin),
		YMin: max(b.YMin, o.YMin),
		XMax: min(b.XMax, o.XMax),
		YMax: min(b.YMax, o.YMax),
	}
	if r.XMax < r.XMin {
		r.XMax = r.XMin
	}
	if r.YMax < r.YMin {
		r.YMax = r.YMin
	}
	return r
}

// Intersection over Union. Returns 0 when both boxes are empty.
func (b Box) IOU(o Box) float32 {
	inter := b.Intersection(o).Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Mirror horizontally inside an image of the given width
func (b Box) FlipX(width float32) Box {
	return Box{
		XMin: width - b.XMax,
		YMin: b.YMin,
		XMax: width - b.XMin,
		YMax: b.YMax,
	}
}

// Scale each axis independently
func (b Box) Scale(sx, sy float32) Box {
	return Box{
		XMin: b.XMin * sx,
		YMin: b.YMin * sy,
		XMax: b.XMax * sx,
		YMax: b.YMax * sy,
	}
}

// Clip to [0,w] x [0,h]
func (b Box) Clip(w, h float32) Box {
	return Box{
		XMin: math32.Min(math32.Max(b.XMin, 0), w),
		YMin: math32.Min(math32.Max(b.YMin, 0), h),
		XMax: math32.Min(math32.Max(b.XMax, 0), w),
		YMax: math32.Min(math32.Max(b.YMax, 0), h),
	}
}
