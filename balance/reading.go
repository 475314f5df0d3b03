// Package balance computes two-plane rotor balancing corrections with the
// influence coefficient method.
//
// A balancing run measures the rotor three times: as found (R0), with a trial
// mass on plane 1 (R1) and with a trial mass on plane 2 (R2). From those the
// engine estimates how each sensor responds to unbalance on each plane, solves
// for the unbalance that cancels R0 and turns it into a mass and an angle per
// plane. Everything here is a pure function of its inputs.
package balance

import (
	"math"

	"github.com/CK6170/Rotorbalance-go/matrix"
)

// Reading is one sensor's vibration: amplitude and phase in degrees.
type Reading struct {
	Amplitude float64 `json:"amplitude"`
	PhaseDeg  float64 `json:"phase_deg"`
}

// Runs holds the three measurement tables of a balancing job.
type Runs struct {
	R0 []Reading `json:"r0"`
	R1 []Reading `json:"r1"`
	R2 []Reading `json:"r2"`
}

// Validate checks the three tables once at the boundary: non-empty, same
// sensor count, finite numbers and non-negative amplitudes.
func (r Runs) Validate() error {
	if len(r.R0) == 0 {
		return degenerate("table R0 is empty (at least one sensor row is required)")
	}
	if len(r.R0) != len(r.R1) || len(r.R0) != len(r.R2) {
		return degenerate("R0, R1, R2 must have the same number of sensors (got %d, %d, %d)",
			len(r.R0), len(r.R1), len(r.R2))
	}
	tables := []struct {
		name string
		rows []Reading
	}{{"R0", r.R0}, {"R1", r.R1}, {"R2", r.R2}}
	for _, tbl := range tables {
		name := tbl.name
		for i, rd := range tbl.rows {
			if !finite(rd.Amplitude) || !finite(rd.PhaseDeg) {
				return degenerate("table %s row %d: non-numeric value", name, i+1)
			}
			if rd.Amplitude < 0 {
				return degenerate("table %s row %d: amplitude must be >= 0", name, i+1)
			}
		}
	}
	return nil
}

// Sensors returns M, the number of sensor rows.
func (r Runs) Sensors() int { return len(r.R0) }

// Phasors converts a table to complex vibration vectors. Phases are folded
// into [0, 360) first.
func Phasors(tbl []Reading) *matrix.Vector {
	v := matrix.NewVector(len(tbl))
	for i, rd := range tbl {
		v.Values[i] = matrix.Phasor(rd.Amplitude, matrix.NormalizeDeg(rd.PhaseDeg))
	}
	return v
}

// Trial is a known calibration mass placed on one plane.
type Trial struct {
	MassG    float64 `json:"mass_g"`
	AngleDeg float64 `json:"angle_deg"`
	RadiusM  float64 `json:"radius_m"`
}

// Unbalance is the trial's complex unbalance in kg·m.
func (t Trial) Unbalance() complex128 {
	return matrix.Phasor(t.MassG/1000.0*t.RadiusM, t.AngleDeg)
}

// Validate rejects trials that cannot produce a usable influence coefficient.
func (t Trial) Validate(plane int) error {
	if !finite(t.MassG) || !finite(t.AngleDeg) || !finite(t.RadiusM) {
		return degenerate("plane %d trial: non-numeric value", plane)
	}
	if t.MassG <= 0 {
		return degenerate("plane %d trial: mass_g must be > 0", plane)
	}
	if t.RadiusM <= 0 {
		return degenerate("plane %d trial: radius_m must be > 0", plane)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
