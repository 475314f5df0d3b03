package modern

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/models"
)

const identityJobJSON = `{
  "SERIAL": {"PORT": "COM3", "BAUDRATE": 115200},
  "R0": [{"AMPLITUDE": 1, "PHASE": 0}, {"AMPLITUDE": 1, "PHASE": 0}],
  "R1": [{"AMPLITUDE": 2, "PHASE": 0}, {"AMPLITUDE": 1, "PHASE": 0}],
  "R2": [{"AMPLITUDE": 1, "PHASE": 0}, {"AMPLITUDE": 2, "PHASE": 0}],
  "TRIAL1": {"MASS": 1000, "ANGLE": 0, "RADIUS": 1},
  "TRIAL2": {"MASS": 1000, "ANGLE": 0, "RADIUS": 1},
  "FINAL": [0.05, 0.05],
  "OPPOSITE": true
}`

const identityJobYAML = `serial:
  port: COM3
  baudrate: 115200
r0: [{amplitude: 1, phase: 0}, {amplitude: 1, phase: 0}]
r1: [{amplitude: 2, phase: 0}, {amplitude: 1, phase: 0}]
r2: [{amplitude: 1, phase: 0}, {amplitude: 2, phase: 0}]
trial1: {mass: 1000, angle: 0, radius: 1}
trial2: {mass: 1000, angle: 0, radius: 1}
final: [0.05, 0.05]
opposite: true
ignore: 7
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func smallSweep() balance.SweepConfig {
	s := balance.DefaultSweep()
	s.RadiusPoints = 10
	s.AngleStepDeg = 30
	return s
}

func TestLoadJobJSONAndYAML(t *testing.T) {
	t.Parallel()

	js, err := LoadJob(writeFile(t, "job.json", identityJobJSON))
	require.NoError(t, err)
	ym, err := LoadJob(writeFile(t, "job.yaml", identityJobYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultIgnore, js.IGNORE)
	assert.Equal(t, 7, ym.IGNORE)
	assert.Equal(t, 2, js.SENSORS)
	assert.Equal(t, 2, ym.SENSORS)

	ym.IGNORE = js.IGNORE
	assert.Equal(t, js, ym)
}

func TestLoadJobErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadJob(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	_, err = LoadJob(writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
	_, err = LoadJob(writeFile(t, "notrials.json", `{"R0": []}`))
	assert.ErrorContains(t, err, "TRIAL1")
}

func TestPersistJobRoundTrip(t *testing.T) {
	t.Parallel()

	j, err := DecodeJob([]byte(identityJobJSON), false)
	require.NoError(t, err)
	for _, name := range []string{"out.json", "out.yml"} {
		p := filepath.Join(t.TempDir(), name)
		require.NoError(t, PersistJob(p, j))
		back, err := LoadJob(p)
		require.NoError(t, err)
		assert.Equal(t, j, back, name)
	}
}

func TestResultPath(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"rotor.json":          "rotor_balanced.json",
		"rotor.YAML":          "rotor_balanced.json",
		"dir/rotor.yml":       "dir/rotor_balanced.json",
		"rotor_balanced.json": "rotor_balanced.json",
		"rotor":               "rotor_balanced.json",
	} {
		assert.Equal(t, want, ResultPath(in), in)
	}
}

func TestJobInput(t *testing.T) {
	t.Parallel()

	j, err := DecodeJob([]byte(identityJobJSON), false)
	require.NoError(t, err)
	in, err := JobInput(j)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0.05, 0.05}, in.FinalRadii)
	assert.True(t, in.Opposite)
	assert.Equal(t, balance.Reading{Amplitude: 2}, in.Runs.R1[0])

	j.FINAL = nil
	in, err = JobInput(j)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{1, 1}, in.Radii())

	j.FINAL = []float64{0.05, 0}
	_, err = JobInput(j)
	assert.ErrorIs(t, err, balance.ErrInvalidRadius)

	j.FINAL = []float64{1, 2, 3}
	_, err = JobInput(j)
	assert.ErrorIs(t, err, balance.ErrDegenerateInput)

	j.FINAL = nil
	j.R2[1] = nil
	_, err = JobInput(j)
	assert.ErrorIs(t, err, balance.ErrDegenerateInput)

	_, err = JobInput(nil)
	assert.ErrorIs(t, err, balance.ErrDegenerateInput)
}

func TestComputeIdentityJob(t *testing.T) {
	t.Parallel()

	j, err := DecodeJob([]byte(identityJobJSON), false)
	require.NoError(t, err)
	rep, err := Compute(j, smallSweep())
	require.NoError(t, err)

	assert.Equal(t, "COM3", rep.Serial)
	assert.Equal(t, 2, rep.Sensors)
	require.Len(t, rep.H, 2)
	assert.InDelta(t, 1, rep.H[0][0].Re, 1e-12)
	assert.InDelta(t, 0, rep.H[0][1].Magnitude, 1e-12)
	for _, p := range rep.Planes {
		assert.InDelta(t, 20000, p.MassG, 1e-6)
		assert.InDelta(t, 180, p.AngleDeg, 1e-9)
	}
	assert.InDelta(t, 0, rep.ResidualNorm, 1e-12)
	assert.Contains(t, rep.Summary, "Plane 1 -> 20000.00 g @ 180.0°")
	require.NotNil(t, rep.Curves)
	assert.Len(t, rep.Curves.Planes[0].MassVsRadius, 10)
	assert.Len(t, rep.Curves.Planes[1].ResidualVsAngle, 12)

	j.FIXRADIUS = 0.1
	rep, err = Compute(j, smallSweep())
	require.NoError(t, err)
	assert.Equal(t, 0.1, rep.Curves.FixedRadiusM)
	assert.InDelta(t, 10000, rep.Curves.Planes[0].FixedMassG, 1e-6)
}

func TestComputeSurfacesEngineErrors(t *testing.T) {
	t.Parallel()

	j, err := DecodeJob([]byte(identityJobJSON), false)
	require.NoError(t, err)
	j.R1 = j.R0
	_, err = Compute(j, smallSweep())
	assert.ErrorIs(t, err, balance.ErrSingularSystem)
	assert.Equal(t, "singular_system", balance.Kind(err))
}

func TestSaveReportJSON(t *testing.T) {
	t.Parallel()

	j, err := DecodeJob([]byte(identityJobJSON), false)
	require.NoError(t, err)
	rep, err := Compute(j, smallSweep())
	require.NoError(t, err)

	dir := t.TempDir()
	p := filepath.Join(dir, "rotor_balanced.json")
	require.NoError(t, SaveReportJSON(p, rep))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Contains(t, back, "planes")
	assert.Contains(t, back, "curves")
	assert.NotContains(t, back, "Result")

	_, err = os.Stat(filepath.Join(dir, "rotor_balanced.version"))
	assert.NoError(t, err)

	assert.Error(t, SaveReportJSON(p, nil))
}

func TestBuildCapturePlan(t *testing.T) {
	t.Parallel()

	j, err := DecodeJob([]byte(identityJobJSON), false)
	require.NoError(t, err)
	steps, err := BuildCapturePlan(j)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"[BASE]", "[TRIAL1]", "[TRIAL2]"}, []string{steps[0].Label, steps[1].Label, steps[2].Label})
	assert.Equal(t, models.RunTrial2, steps[2].Run)
	assert.Contains(t, steps[1].Prompt, "1000.00 g")
	assert.Contains(t, steps[1].Prompt, "plane 1")

	_, err = BuildCapturePlan(&models.JOB{})
	assert.Error(t, err)
}

func TestApplyCapture(t *testing.T) {
	t.Parallel()

	j := &models.JOB{TRIAL1: &models.TRIAL{}, TRIAL2: &models.TRIAL{}}
	steps, err := BuildCapturePlan(j)
	require.NoError(t, err)

	rows := []*models.READING{{AMPLITUDE: 1, PHASE: 10}, {AMPLITUDE: 2, PHASE: 20}}
	require.NoError(t, ApplyCapture(j, steps[0], rows))
	assert.Equal(t, 2, j.SENSORS)
	assert.Equal(t, rows, j.R0)

	assert.Error(t, ApplyCapture(j, steps[1], rows[:1]))
	assert.Error(t, ApplyCapture(j, steps[1], nil))
	require.NoError(t, ApplyCapture(j, steps[1], rows))
	assert.Equal(t, rows, j.R1)
}

type scriptedMeter struct {
	frames [][]*models.READING
	errs   []error
	calls  int
}

func (m *scriptedMeter) ReadFrame() ([]*models.READING, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.frames) {
		return m.frames[i], nil
	}
	return m.frames[len(m.frames)-1], nil
}

func frame(amp float64) []*models.READING {
	return []*models.READING{{AMPLITUDE: amp}, {AMPLITUDE: amp}}
}

func TestCaptureRunSkipsWarmup(t *testing.T) {
	t.Parallel()

	m := &scriptedMeter{frames: [][]*models.READING{frame(1), frame(2), frame(3), frame(4)}}
	var phases []CapturePhase
	rows, err := CaptureRun(context.Background(), m, 3, func(u CaptureUpdate) {
		phases = append(phases, u.Phase)
		assert.Equal(t, 3, u.IgnoreTarget)
	})
	require.NoError(t, err)
	assert.Equal(t, frame(4), rows)
	assert.Equal(t, 4, m.calls)
	assert.Equal(t, CapturePhaseFinished, phases[len(phases)-1])
}

func TestCaptureRunRetriesErrors(t *testing.T) {
	t.Parallel()

	m := &scriptedMeter{
		frames: [][]*models.READING{nil, frame(5)},
		errs:   []error{errors.New("timeout")},
	}
	var seen []error
	rows, err := CaptureRun(context.Background(), m, 0, func(u CaptureUpdate) {
		if u.Err != nil {
			seen = append(seen, u.Err)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, frame(5), rows)
	assert.Len(t, seen, 1)

	dead := &scriptedMeter{frames: [][]*models.READING{nil}, errs: make([]error, MaxFrameErrors)}
	for i := range dead.errs {
		dead.errs[i] = errors.New("no answer")
	}
	_, err = CaptureRun(context.Background(), dead, 0, nil)
	assert.ErrorContains(t, err, "no answer")
	assert.Equal(t, MaxFrameErrors, dead.calls)
}

func TestCaptureRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CaptureRun(ctx, &scriptedMeter{frames: [][]*models.READING{frame(1)}}, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = CaptureRun(context.Background(), nil, 0, nil)
	assert.Error(t, err)
}

func TestVerifyCorrection(t *testing.T) {
	t.Parallel()

	j, err := DecodeJob([]byte(identityJobJSON), false)
	require.NoError(t, err)
	rep, err := Compute(j, smallSweep())
	require.NoError(t, err)

	v, err := VerifyCorrection(context.Background(),
		&scriptedMeter{frames: [][]*models.READING{frame(0.1)}}, 0, rep, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.4142135623730951, v.BaselineNorm, 1e-12)
	assert.InDelta(t, 0.9, v.Reduction, 1e-12)
	assert.InDelta(t, 0, v.PredictedNorm, 1e-12)

	_, err = CompareRun(rep, frame(1)[:1])
	assert.ErrorIs(t, err, balance.ErrDegenerateInput)
	_, err = CompareRun(nil, frame(1))
	assert.Error(t, err)
}
