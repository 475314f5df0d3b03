package modern

import (
	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/matrix"
	"github.com/CK6170/Rotorbalance-go/models"
)

// Complex is a JSON friendly complex number.
type Complex struct {
	Re        float64 `json:"re"`
	Im        float64 `json:"im"`
	Magnitude float64 `json:"magnitude"`
	PhaseDeg  float64 `json:"phase_deg"`
}

func toComplex(z complex128) Complex {
	mag, deg := matrix.Polar(z)
	return Complex{Re: real(z), Im: imag(z), Magnitude: mag, PhaseDeg: deg}
}

func toComplexes(v *matrix.Vector) []Complex {
	if v == nil {
		return nil
	}
	out := make([]Complex, v.Length)
	for i, z := range v.Values {
		out[i] = toComplex(z)
	}
	return out
}

// Report is what every front end shows and what gets saved next to a job.
type Report struct {
	Serial          string                     `json:"serial,omitempty"`
	Sensors         int                        `json:"sensors"`
	H               [][]Complex                `json:"h"`
	R0              []Complex                  `json:"r0"`
	Correction      []Complex                  `json:"correction_kgm"`
	Residual        []Complex                  `json:"residual"`
	ResidualNorm    float64                    `json:"residual_norm"`
	Rank            int                        `json:"rank"`
	Underdetermined bool                       `json:"underdetermined"`
	Opposite        bool                       `json:"opposite"`
	Planes          [2]balance.PlaneCorrection `json:"planes"`
	Summary         string                     `json:"summary"`
	Sweep           balance.SweepConfig        `json:"sweep"`
	Curves          *balance.CurveSet          `json:"curves,omitempty"`

	Result *balance.Result `json:"-"`
}

// Compute runs the engine on a job and materializes its curves. A job
// FIXRADIUS overrides the sweep's fixed radius.
func Compute(j *models.JOB, sweep balance.SweepConfig) (*Report, error) {
	in, err := JobInput(j)
	if err != nil {
		return nil, err
	}
	if j.FIXRADIUS != 0 {
		sweep.FixedRadiusM = j.FIXRADIUS
	}
	res, err := balance.Compute(*in)
	if err != nil {
		return nil, err
	}
	curves, err := balance.BuildCurves(res, sweep)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		Sensors:         res.R0.Length,
		H:               make([][]Complex, res.H.Rows),
		R0:              toComplexes(res.R0),
		Correction:      toComplexes(res.Correction),
		Residual:        toComplexes(res.Residual),
		ResidualNorm:    res.ResidualNorm,
		Rank:            res.Rank,
		Underdetermined: res.Underdetermined,
		Opposite:        res.Opposite,
		Planes:          res.Planes,
		Summary:         res.Summary(),
		Sweep:           sweep,
		Curves:          curves,
		Result:          res,
	}
	if j.SERIAL != nil {
		rep.Serial = j.SERIAL.PORT
	}
	for i, row := range res.H.Values {
		rep.H[i] = make([]Complex, len(row))
		for k, z := range row {
			rep.H[i][k] = toComplex(z)
		}
	}
	return rep, nil
}
