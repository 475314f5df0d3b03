package balance

import (
	"gonum.org/v1/gonum/floats"
)

// SweepConfig describes the candidate radii and angles of the what-if curves.
type SweepConfig struct {
	RadiusMinMM   float64 `json:"radius_min_mm" yaml:"radius_min_mm" mapstructure:"radius_min_mm"`
	RadiusMaxMM   float64 `json:"radius_max_mm" yaml:"radius_max_mm" mapstructure:"radius_max_mm"`
	RadiusPoints  int     `json:"radius_points" yaml:"radius_points" mapstructure:"radius_points"`
	AngleStartDeg float64 `json:"angle_start_deg" yaml:"angle_start_deg" mapstructure:"angle_start_deg"`
	AngleStopDeg  float64 `json:"angle_stop_deg" yaml:"angle_stop_deg" mapstructure:"angle_stop_deg"` // exclusive
	AngleStepDeg  float64 `json:"angle_step_deg" yaml:"angle_step_deg" mapstructure:"angle_step_deg"`
	FixedRadiusM  float64 `json:"fixed_radius_m" yaml:"fixed_radius_m" mapstructure:"fixed_radius_m"`
}

// DefaultSweep: 0.1–75 mm in 750 points, 0–359° in 1° steps, 50 mm fixed radius.
func DefaultSweep() SweepConfig {
	return SweepConfig{
		RadiusMinMM:   0.1,
		RadiusMaxMM:   75.0,
		RadiusPoints:  750,
		AngleStartDeg: 0,
		AngleStopDeg:  360,
		AngleStepDeg:  1,
		FixedRadiusM:  0.050,
	}
}

// MaxSweepPoints bounds the length of every candidate list a sweep produces.
const MaxSweepPoints = 100000

func (s SweepConfig) Validate() error {
	if !finite(s.RadiusMinMM) || s.RadiusMinMM <= 0 {
		return invalidRadius("sweep radius_min_mm must be > 0, got %g", s.RadiusMinMM)
	}
	if !finite(s.RadiusMaxMM) || s.RadiusMaxMM < s.RadiusMinMM {
		return invalidRadius("sweep radius_max_mm must be >= radius_min_mm, got %g", s.RadiusMaxMM)
	}
	if !finite(s.FixedRadiusM) || s.FixedRadiusM <= 0 {
		return invalidRadius("sweep fixed_radius_m must be > 0, got %g", s.FixedRadiusM)
	}
	if s.RadiusPoints < 0 || s.RadiusPoints > MaxSweepPoints {
		return degenerate("sweep radius_points must be in [0, %d], got %d", MaxSweepPoints, s.RadiusPoints)
	}
	if !finite(s.AngleStepDeg) || s.AngleStepDeg <= 0 {
		return degenerate("sweep angle_step_deg must be > 0, got %g", s.AngleStepDeg)
	}
	if !finite(s.AngleStartDeg) || !finite(s.AngleStopDeg) {
		return degenerate("sweep angle range must be finite")
	}
	if n := s.angleCount(); !finite(n) || n > MaxSweepPoints {
		return degenerate("sweep angle range yields more than %d points (step %g)", MaxSweepPoints, s.AngleStepDeg)
	}
	return nil
}

// angleCount is (stop-start)/step, or 0 for an empty range.
func (s SweepConfig) angleCount() float64 {
	if s.AngleStopDeg <= s.AngleStartDeg {
		return 0
	}
	return (s.AngleStopDeg - s.AngleStartDeg) / s.AngleStepDeg
}

// Radii returns the candidate radii in meters, evenly spaced and inclusive.
func (s SweepConfig) Radii() []float64 {
	switch {
	case s.RadiusPoints <= 0 || s.RadiusPoints > MaxSweepPoints:
		return []float64{}
	case s.RadiusPoints == 1:
		return []float64{s.RadiusMinMM / 1000.0}
	}
	rs := floats.Span(make([]float64, s.RadiusPoints), s.RadiusMinMM, s.RadiusMaxMM)
	floats.Scale(1.0/1000.0, rs)
	return rs
}

// Angles returns start, start+step, ... strictly below stop.
func (s SweepConfig) Angles() []float64 {
	if s.AngleStepDeg <= 0 || s.AngleStopDeg <= s.AngleStartDeg {
		return []float64{}
	}
	c := s.angleCount()
	if !finite(c) || c > MaxSweepPoints {
		return []float64{}
	}
	out := make([]float64, 0, int(c)+1)
	for i := 0; ; i++ {
		a := s.AngleStartDeg + float64(i)*s.AngleStepDeg
		if a >= s.AngleStopDeg {
			break
		}
		out = append(out, a)
	}
	return out
}

// PlaneCurves are the plotted curves of one plane.
type PlaneCurves struct {
	Plane                 int     `json:"plane"`
	MassVsRadius          []Point `json:"mass_vs_radius"`           // x: radius m, y: mass g
	ResidualVsAngle       []Point `json:"residual_vs_angle"`        // x: angle deg, y: |R0 + H·U|
	UnbalanceErrorVsAngle []Point `json:"unbalance_error_vs_angle"` // x: angle deg, y: kg·m
	FixedMassG            float64 `json:"fixed_mass_g"`
	FixedAngleDeg         float64 `json:"fixed_angle_deg"`
}

// CurveSet bundles both planes' curves for a result.
type CurveSet struct {
	FixedRadiusM float64        `json:"fixed_radius_m"`
	Planes       [2]PlaneCurves `json:"planes"`
}

// BuildCurves materializes every sensitivity curve of a result. The angle
// sweeps hold the mass that would be needed at the fixed radius.
func BuildCurves(res *Result, cfg SweepConfig) (*CurveSet, error) {
	if res == nil || res.Correction == nil {
		return nil, degenerate("no result to sweep")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	radii := cfg.Radii()
	angles := cfg.Angles()
	out := &CurveSet{FixedRadiusM: cfg.FixedRadiusM}
	for p := 1; p <= 2; p++ {
		bc := res.Correction.Values[p-1]
		massFixed := MassAt(bc, cfg.FixedRadiusM)

		mvr, err := MassVsRadius(bc, radii)
		if err != nil {
			return nil, err
		}
		rva, err := ResidualVsAngle(res.H, res.R0, res.Correction, p, massFixed, cfg.FixedRadiusM, angles, res.Opposite)
		if err != nil {
			return nil, err
		}
		eva, err := UnbalanceErrorVsAngle(res.Correction, p, massFixed, cfg.FixedRadiusM, angles, res.Opposite)
		if err != nil {
			return nil, err
		}
		out.Planes[p-1] = PlaneCurves{
			Plane:                 p,
			MassVsRadius:          Collect(mvr),
			ResidualVsAngle:       Collect(rva),
			UnbalanceErrorVsAngle: Collect(eva),
			FixedMassG:            massFixed,
			FixedAngleDeg:         PlacementAngle(bc, res.Opposite),
		}
	}
	return out, nil
}
