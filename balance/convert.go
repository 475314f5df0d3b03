package balance

import (
	"math/cmplx"

	"github.com/CK6170/Rotorbalance-go/matrix"
)

// PlaneCorrection is the mass to add on one plane and where to put it.
type PlaneCorrection struct {
	Plane    int     `json:"plane"`
	MassG    float64 `json:"mass_g"`
	AngleDeg float64 `json:"angle_deg"`
	RadiusM  float64 `json:"radius_m"`
}

// PlacementAngle turns a correction unbalance bc into a mounting angle in
// [0, 360). The rotor's own unbalance sits at -bc; with opposite set the mass
// is mounted opposite to it (at arg(bc)), otherwise at the unbalance angle.
func PlacementAngle(bc complex128, opposite bool) float64 {
	_, deg := matrix.Polar(-bc)
	if opposite {
		deg += 180.0
	}
	deg = matrix.NormalizeDeg(deg)
	// round-off just below a full turn reads as 0
	if 360.0-deg < 1e-9 {
		deg = 0
	}
	return deg
}

// CorrectionAt is the inverse of PlacementAngle: the complex correction
// unbalance (kg·m) of massG grams at radiusM mounted at angleDeg.
func CorrectionAt(massG, radiusM, angleDeg float64, opposite bool) complex128 {
	if !opposite {
		angleDeg += 180.0
	}
	return matrix.Phasor(massG/1000.0*radiusM, angleDeg)
}

// MassAt is the mass in grams that produces unbalance u at radius r (m).
func MassAt(u complex128, radiusM float64) float64 {
	return cmplx.Abs(u) / radiusM * 1000.0
}

// ToMassAngle converts the correction vector to a mass and angle per plane.
func ToMassAngle(bc *matrix.Vector, radii [2]float64, opposite bool) ([2]PlaneCorrection, error) {
	var out [2]PlaneCorrection
	if bc == nil || bc.Length != 2 {
		return out, degenerate("correction vector must have 2 planes")
	}
	for i := 0; i < 2; i++ {
		if !finite(radii[i]) || radii[i] <= 0 {
			return out, invalidRadius("plane %d radius must be > 0, got %g", i+1, radii[i])
		}
	}
	if !bc.IsFinite() {
		return out, singular("correction vector is not finite")
	}
	for i := 0; i < 2; i++ {
		out[i] = PlaneCorrection{
			Plane:    i + 1,
			MassG:    MassAt(bc.Values[i], radii[i]),
			AngleDeg: PlacementAngle(bc.Values[i], opposite),
			RadiusM:  radii[i],
		}
	}
	return out, nil
}
