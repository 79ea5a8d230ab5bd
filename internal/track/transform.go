package track

// Transform is a 3x3 row-major homogeneous transform applied to 2-D points
// with a perspective divide. The tracker uses one, supplied by the upstream
// detection source, to map filtered positions from meters to output pixel
// coordinates.
type Transform [9]float64

// IdentityTransform returns the identity mapping.
func IdentityTransform() Transform {
	return Transform{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// ScaleTransform returns a uniform scaling by s.
func ScaleTransform(s float64) Transform {
	return Transform{
		s, 0, 0,
		0, s, 0,
		0, 0, 1,
	}
}

// Apply maps (x, y) through the transform, including the homogeneous
// divide.
func (tr Transform) Apply(x, y float64) (float64, float64) {
	px := tr[0]*x + tr[1]*y + tr[2]
	py := tr[3]*x + tr[4]*y + tr[5]
	w := tr[6]*x + tr[7]*y + tr[8]
	return px / w, py / w
}
