package balance

import (
	"fmt"
	"strings"

	"github.com/CK6170/Rotorbalance-go/matrix"
)

// Input is everything one balancing computation needs.
type Input struct {
	Runs   Runs  `json:"runs"`
	Trial1 Trial `json:"trial1"`
	Trial2 Trial `json:"trial2"`
	// FinalRadii are the mounting radii of the corrections; a zero entry
	// falls back to that plane's trial radius.
	FinalRadii [2]float64 `json:"final_radii_m"`
	// Opposite mounts the correction opposite to the computed unbalance.
	Opposite bool `json:"opposite"`
}

// Radii resolves the final mounting radii.
func (in Input) Radii() [2]float64 {
	r := in.FinalRadii
	if r[0] == 0 {
		r[0] = in.Trial1.RadiusM
	}
	if r[1] == 0 {
		r[1] = in.Trial2.RadiusM
	}
	return r
}

// Result is the primary output of a balancing computation.
type Result struct {
	H               *matrix.Matrix
	R0              *matrix.Vector
	Correction      *matrix.Vector
	Residual        *matrix.Vector
	ResidualNorm    float64
	Rank            int
	Underdetermined bool
	Opposite        bool
	Planes          [2]PlaneCorrection
}

// Compute runs estimator, solver and converter on validated input.
func Compute(in Input) (*Result, error) {
	if err := in.Runs.Validate(); err != nil {
		return nil, err
	}
	if err := in.Trial1.Validate(1); err != nil {
		return nil, err
	}
	if err := in.Trial2.Validate(2); err != nil {
		return nil, err
	}

	r0 := Phasors(in.Runs.R0)
	h, err := EstimateInfluence(r0, Phasors(in.Runs.R1), Phasors(in.Runs.R2),
		in.Trial1.Unbalance(), in.Trial2.Unbalance())
	if err != nil {
		return nil, err
	}
	sol, err := Solve(h, r0)
	if err != nil {
		return nil, err
	}
	planes, err := ToMassAngle(sol.Correction, in.Radii(), in.Opposite)
	if err != nil {
		return nil, err
	}
	return &Result{
		H:               h,
		R0:              r0,
		Correction:      sol.Correction,
		Residual:        sol.Residual,
		ResidualNorm:    sol.ResidualNorm,
		Rank:            sol.Rank,
		Underdetermined: sol.Underdetermined,
		Opposite:        in.Opposite,
		Planes:          planes,
	}, nil
}

// Summary is the short operator report.
func (r *Result) Summary() string {
	var b strings.Builder
	b.WriteString("Two-plane RFM balancing\n")
	fmt.Fprintf(&b, "Final radii (m): [%.3f  %.3f]\n", r.Planes[0].RadiusM, r.Planes[1].RadiusM)
	for _, p := range r.Planes {
		fmt.Fprintf(&b, "Plane %d -> %.2f g @ %.1f°\n", p.Plane, p.MassG, p.AngleDeg)
	}
	fmt.Fprintf(&b, "Predicted residual: %.6g\n", r.ResidualNorm)
	if r.Underdetermined {
		b.WriteString("Note: single sensor, correction is not unique (minimum-norm shown)\n")
	}
	return b.String()
}
