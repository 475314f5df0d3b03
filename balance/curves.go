package balance

import (
	"iter"
	"math/cmplx"

	"github.com/CK6170/Rotorbalance-go/matrix"
)

// Point is one (x, y) sample of a curve.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Collect drains a curve into a slice.
func Collect(seq iter.Seq2[float64, float64]) []Point {
	pts := []Point{}
	for x, y := range seq {
		pts = append(pts, Point{X: x, Y: y})
	}
	return pts
}

// MassVsRadius yields (radius m, mass g) for each candidate radius, keeping
// the unbalance |bc| fixed. Radii are checked before anything is yielded.
func MassVsRadius(bc complex128, radii []float64) (iter.Seq2[float64, float64], error) {
	if cmplx.IsNaN(bc) || cmplx.IsInf(bc) {
		return nil, singular("correction is not finite")
	}
	for i, r := range radii {
		if !finite(r) || r <= 0 {
			return nil, invalidRadius("candidate radius #%d must be > 0, got %g", i+1, r)
		}
	}
	rs := append([]float64(nil), radii...)
	return func(yield func(float64, float64) bool) {
		for _, r := range rs {
			if !yield(r, MassAt(bc, r)) {
				return
			}
		}
	}, nil
}

// ResidualVsAngle sweeps the mounting angle of one plane's correction while
// the other plane keeps its solved value, and yields (angle, ||R0 + H·U||).
// plane is 1 or 2. The correction used at each angle is massG grams at
// radiusM, mounted per the opposite convention.
func ResidualVsAngle(h *matrix.Matrix, r0, bc *matrix.Vector, plane int, massG, radiusM float64,
	anglesDeg []float64, opposite bool) (iter.Seq2[float64, float64], error) {
	if err := checkSweep(bc, plane, massG, radiusM); err != nil {
		return nil, err
	}
	if h == nil || r0 == nil || h.Cols != 2 || h.Rows != r0.Length {
		return nil, degenerate("influence matrix and baseline do not match")
	}
	if !h.IsFinite() || !r0.IsFinite() {
		return nil, singular("influence matrix or baseline contains NaN/Inf")
	}
	angles := append([]float64(nil), anglesDeg...)
	base := bc.Copy()
	return func(yield func(float64, float64) bool) {
		u := base.Copy()
		for _, a := range angles {
			u.Values[plane-1] = CorrectionAt(massG, radiusM, a, opposite)
			if !yield(a, r0.Add(h.MulVector(u)).Norm()) {
				return
			}
		}
	}, nil
}

// UnbalanceErrorVsAngle yields (angle, |bc_p - U(angle)|) in kg·m: how far a
// correction of massG at radiusM mounted at each angle is from the solved one.
func UnbalanceErrorVsAngle(bc *matrix.Vector, plane int, massG, radiusM float64,
	anglesDeg []float64, opposite bool) (iter.Seq2[float64, float64], error) {
	if err := checkSweep(bc, plane, massG, radiusM); err != nil {
		return nil, err
	}
	angles := append([]float64(nil), anglesDeg...)
	target := bc.Values[plane-1]
	return func(yield func(float64, float64) bool) {
		for _, a := range angles {
			if !yield(a, cmplx.Abs(target-CorrectionAt(massG, radiusM, a, opposite))) {
				return
			}
		}
	}, nil
}

func checkSweep(bc *matrix.Vector, plane int, massG, radiusM float64) error {
	if bc == nil || bc.Length != 2 {
		return degenerate("correction vector must have 2 planes")
	}
	if plane != 1 && plane != 2 {
		return degenerate("plane must be 1 or 2, got %d", plane)
	}
	if !finite(radiusM) || radiusM <= 0 {
		return invalidRadius("sweep radius must be > 0, got %g", radiusM)
	}
	if !finite(massG) || massG < 0 {
		return degenerate("sweep mass must be a non-negative number, got %g", massG)
	}
	if !bc.IsFinite() {
		return singular("correction vector is not finite")
	}
	return nil
}
