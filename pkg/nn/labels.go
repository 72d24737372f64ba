package nn

// Size is the (height, width) of an image
type Size struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Object is a labelled object in a single frame, with its box in absolute pixel coordinates
type Object struct {
	ID   int    `json:"id"`   // Index into the category vocabulary
	Name string `json:"name"` // Category name, eg "car"
	Box  Box    `json:"bndbox"`
}

// Annotation holds the ground truth of one frame
type Annotation struct {
	Size    Size     `json:"size"`
	Objects []Object `json:"object"`
}

// Return a deep copy, so that augmentations on one frame never touch another
func (a Annotation) Clone() Annotation {
	c := Annotation{Size: a.Size}
	if a.Objects != nil {
		c.Objects = make([]Object, len(a.Objects))
		copy(c.Objects, a.Objects)
	}
	return c
}

// Return the boxes in image-normalized coordinates, as used by the detector output
func (a Annotation) NormalizedBoxes() []Prediction {
	out := make([]Prediction, 0, len(a.Objects))
	w := float32(a.Size.Width)
	h := float32(a.Size.Height)
	for _, o := range a.Objects {
		out = append(out, Prediction{
			Box:   o.Box.Scale(1/w, 1/h),
			Score: 1,
			Label: o.ID,
		})
	}
	return out
}
