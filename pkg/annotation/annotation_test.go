package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltaFrom(t *testing.T) {
	original := BoundingBox{X: 100, Y: 150, Width: 50, Height: 40}
	corrected := BoundingBox{X: 110, Y: 160, Width: 55, Height: 42}

	d := DeltaFrom(original, corrected)
	assert.Equal(t, 10.0, d.X)
	assert.Equal(t, 10.0, d.Y)
	assert.Equal(t, 5.0, d.Width)
	assert.Equal(t, 2.0, d.Height)
}

func TestDelta_Magnitude(t *testing.T) {
	// 3-4-5 triangle: only x and y shift
	original := BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}
	corrected := BoundingBox{X: 3, Y: 4, Width: 10, Height: 10}

	d := DeltaFrom(original, corrected)
	assert.InDelta(t, 5.0, d.Magnitude(), 1e-9)
}

func TestDelta_Magnitude_ZeroForIdenticalBoxes(t *testing.T) {
	box := BoundingBox{X: 20, Y: 30, Width: 15, Height: 25}
	assert.Zero(t, DeltaFrom(box, box).Magnitude())
}

func TestDelta_Apply(t *testing.T) {
	box := BoundingBox{X: 100, Y: 100, Width: 40, Height: 30}
	d := Delta{X: -5, Y: 10, Width: 2, Height: -3}

	shifted := d.Apply(box)
	assert.Equal(t, BoundingBox{X: 95, Y: 110, Width: 42, Height: 27}, shifted)
}
