// Package annotation defines the shared domain types of the AvesLingo
// pipeline: vision-produced vocabulary annotations, bounding boxes, and the
// review context they are evaluated in.
package annotation

import (
	"math"
)

// BoundingBox locates a feature inside an image, in pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Delta holds the per-field difference between two boxes, typically an
// AI-proposed box and its human correction.
type Delta struct {
	X      float64 `json:"delta_x"`
	Y      float64 `json:"delta_y"`
	Width  float64 `json:"delta_width"`
	Height float64 `json:"delta_height"`
}

// DeltaFrom computes corrected - original for each field.
func DeltaFrom(original, corrected BoundingBox) Delta {
	return Delta{
		X:      corrected.X - original.X,
		Y:      corrected.Y - original.Y,
		Width:  corrected.Width - original.Width,
		Height: corrected.Height - original.Height,
	}
}

// Magnitude returns the Euclidean length of the delta across all four fields.
func (d Delta) Magnitude() float64 {
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Width*d.Width + d.Height*d.Height)
}

// Apply shifts a box by the delta.
func (d Delta) Apply(box BoundingBox) BoundingBox {
	return BoundingBox{
		X:      box.X + d.X,
		Y:      box.Y + d.Y,
		Width:  box.Width + d.Width,
		Height: box.Height + d.Height,
	}
}

// Annotation is one vocabulary term attached to a region of a bird image,
// as produced by a vision model.
type Annotation struct {
	SpanishTerm     string       `json:"spanishTerm"`
	EnglishTerm     string       `json:"englishTerm"`
	Pronunciation   string       `json:"pronunciation,omitempty"`
	DifficultyLevel int          `json:"difficultyLevel,omitempty"`
	Confidence      float64      `json:"confidence"`
	BoundingBox     *BoundingBox `json:"boundingBox,omitempty"`
}

// Context describes the review situation an annotation event happened in.
type Context struct {
	Species string `json:"species"`
	ImageID string `json:"imageId,omitempty"`
}
