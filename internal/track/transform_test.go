package track

import (
	"math"
	"testing"
)

func TestIdentityTransform(t *testing.T) {
	tr := IdentityTransform()
	x, y := tr.Apply(0.12, -0.34)
	if x != 0.12 || y != -0.34 {
		t.Errorf("identity transform moved point: (%v, %v)", x, y)
	}
}

func TestScaleTransform(t *testing.T) {
	scale := 1000.0 / 0.197 // Meters to arena pixels
	tr := ScaleTransform(scale)
	x, y := tr.Apply(0.197, 0.0985)
	if math.Abs(x-1000) > 1e-9 || math.Abs(y-500) > 1e-9 {
		t.Errorf("expected (1000, 500), got (%v, %v)", x, y)
	}
}

func TestTransformPerspectiveDivide(t *testing.T) {
	// Bottom row scales the homogeneous coordinate by 2.
	tr := Transform{
		1, 0, 0,
		0, 1, 0,
		0, 0, 2,
	}
	x, y := tr.Apply(4, 6)
	if x != 2 || y != 3 {
		t.Errorf("expected (2, 3) after divide, got (%v, %v)", x, y)
	}
}
