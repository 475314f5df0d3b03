package modern

import (
	"fmt"

	"github.com/CK6170/Rotorbalance-go/models"
)

// CaptureStep is one run the operator has to perform on the machine.
type CaptureStep struct {
	Run    models.RUN
	Label  string // [BASE], [TRIAL1], [TRIAL2]
	Prompt string
}

// BuildCapturePlan lists the three runs in measurement order.
func BuildCapturePlan(j *models.JOB) ([]CaptureStep, error) {
	if j == nil {
		return nil, fmt.Errorf("job nil")
	}
	if j.TRIAL1 == nil || j.TRIAL2 == nil {
		return nil, fmt.Errorf("missing TRIAL1/TRIAL2 section")
	}
	return []CaptureStep{
		{
			Run:    models.RunBase,
			Label:  "[BASE]",
			Prompt: "Remove all trial masses, bring the rotor to speed, then press Enter.",
		},
		{
			Run:    models.RunTrial1,
			Label:  "[TRIAL1]",
			Prompt: trialPrompt(1, j.TRIAL1),
		},
		{
			Run:    models.RunTrial2,
			Label:  "[TRIAL2]",
			Prompt: trialPrompt(2, j.TRIAL2),
		},
	}, nil
}

func trialPrompt(plane int, t *models.TRIAL) string {
	other := 2
	if plane == 2 {
		other = 1
	}
	return fmt.Sprintf(
		"Put %.2f g at %.1f° and %.1f mm on plane %d (plane %d bare), bring the rotor to speed, then press Enter.",
		t.MASS, t.ANGLE, t.RADIUS*1000, plane, other,
	)
}

// ApplyCapture stores a captured frame as the run of step.
func ApplyCapture(j *models.JOB, step CaptureStep, rows []*models.READING) error {
	if j == nil {
		return fmt.Errorf("job nil")
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s: empty frame", step.Label)
	}
	if j.SENSORS > 0 && len(rows) != j.SENSORS {
		return fmt.Errorf("%s: got %d sensors, job has %d", step.Label, len(rows), j.SENSORS)
	}
	j.SetTable(step.Run, rows)
	if j.SENSORS <= 0 {
		j.SENSORS = len(rows)
	}
	return nil
}
