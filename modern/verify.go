package modern

import (
	"context"
	"fmt"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/models"
)

// Verification compares a check run, taken with the corrections mounted,
// against the baseline and the predicted residual.
type Verification struct {
	BaselineNorm  float64 `json:"baseline_norm"`
	PredictedNorm float64 `json:"predicted_norm"`
	MeasuredNorm  float64 `json:"measured_norm"`
	// Reduction is 1 - measured/baseline; 0.9 means 90% less vibration.
	Reduction float64 `json:"reduction"`
}

// CompareRun scores a check-run frame against a report.
func CompareRun(r *Report, rows []*models.READING) (*Verification, error) {
	if r == nil || r.Result == nil {
		return nil, fmt.Errorf("report nil")
	}
	if len(rows) != r.Result.R0.Length {
		return nil, fmt.Errorf("%w: check run has %d sensors, baseline %d",
			balance.ErrDegenerateInput, len(rows), r.Result.R0.Length)
	}
	tbl := make([]balance.Reading, len(rows))
	for i, row := range rows {
		if row == nil {
			return nil, fmt.Errorf("%w: check run row %d is null", balance.ErrDegenerateInput, i+1)
		}
		tbl[i] = balance.Reading{Amplitude: row.AMPLITUDE, PhaseDeg: row.PHASE}
	}
	measured := balance.Phasors(tbl)
	if !measured.IsFinite() {
		return nil, fmt.Errorf("%w: check run contains NaN/Inf", balance.ErrDegenerateInput)
	}
	v := &Verification{
		BaselineNorm:  r.Result.R0.Norm(),
		PredictedNorm: r.ResidualNorm,
		MeasuredNorm:  measured.Norm(),
	}
	if v.BaselineNorm > 0 {
		v.Reduction = 1 - v.MeasuredNorm/v.BaselineNorm
	}
	return v, nil
}

// VerifyCorrection captures a check run and scores it.
func VerifyCorrection(ctx context.Context, meter FrameReader, ignore int, r *Report, onUpdate func(CaptureUpdate)) (*Verification, error) {
	rows, err := CaptureRun(ctx, meter, ignore, onUpdate)
	if err != nil {
		return nil, err
	}
	return CompareRun(r, rows)
}
