package composition

import "math"

// Matrix is a 2D affine transform in normalized device coordinates:
//
//	| A B C |
//	| D E F |
//	| 0 0 1 |
type Matrix struct {
	A, B, C float64
	D, E, F float64
}

func Identity() Matrix {
	return Matrix{A: 1, E: 1}
}

// Concat returns m applied after n.
func (m Matrix) Concat(n Matrix) Matrix {
	return Matrix{
		A: m.A*n.A + m.B*n.D,
		B: m.A*n.B + m.B*n.E,
		C: m.A*n.C + m.B*n.F + m.C,
		D: m.D*n.A + m.E*n.D,
		E: m.D*n.B + m.E*n.E,
		F: m.D*n.C + m.E*n.F + m.F,
	}
}

func (m Matrix) PostScale(sx, sy float64) Matrix {
	return Matrix{A: sx, E: sy}.Concat(m)
}

func (m Matrix) PostTranslate(tx, ty float64) Matrix {
	return Matrix{A: 1, E: 1, C: tx, F: ty}.Concat(m)
}

func (m Matrix) MapPoint(x, y float64) (float64, float64) {
	return m.A*x + m.B*y + m.C, m.D*x + m.E*y + m.F
}

// AxisAligned reports whether the transform has no rotation or shear.
func (m Matrix) AxisAligned() bool {
	const eps = 1e-9
	return math.Abs(m.B) < eps && math.Abs(m.D) < eps
}
