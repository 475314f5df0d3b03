package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/internal/logging"
	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
)

const identityJob = `{
  "SERIAL": {"PORT": "fake", "BAUDRATE": 115200},
  "SENSORS": 2,
  "R0": [{"AMPLITUDE": 1, "PHASE": 0}, {"AMPLITUDE": 1, "PHASE": 0}],
  "R1": [{"AMPLITUDE": 2, "PHASE": 0}, {"AMPLITUDE": 1, "PHASE": 0}],
  "R2": [{"AMPLITUDE": 1, "PHASE": 0}, {"AMPLITUDE": 2, "PHASE": 0}],
  "TRIAL1": {"MASS": 1000, "ANGLE": 0, "RADIUS": 1},
  "TRIAL2": {"MASS": 1000, "ANGLE": 0, "RADIUS": 1},
  "FINAL": [0.05, 0.05],
  "OPPOSITE": true,
  "IGNORE": 1
}`

type fakeMeter struct {
	mu     sync.Mutex
	frame  []*models.READING
	closed bool
}

func (m *fakeMeter) set(amps ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = make([]*models.READING, len(amps))
	for i, a := range amps {
		m.frame[i] = &models.READING{AMPLITUDE: a}
	}
}

func (m *fakeMeter) ReadFrame() ([]*models.READING, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.READING, len(m.frame))
	for i, r := range m.frame {
		c := *r
		out[i] = &c
	}
	return out, nil
}

func (m *fakeMeter) GetVersion() (string, error) { return "1.0", nil }

func (m *fakeMeter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, meter *fakeMeter) *httptest.Server {
	t.Helper()
	s := New(Options{
		Logger: logging.NewTest(),
		OpenMeter: func(*models.JOB) (meterConn, error) {
			return meter, nil
		},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	resp, err := http.Post(ts.URL+path, "application/json", rd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func upload(t *testing.T, ts *httptest.Server, name, body string) UploadResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/upload/job", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	var out UploadResponse
	decode(t, resp, &out)
	return out
}

type computeOut struct {
	ReportID string `json:"reportId"`
	Report   struct {
		Planes []struct {
			MassG    float64 `json:"mass_g"`
			AngleDeg float64 `json:"angle_deg"`
		} `json:"planes"`
		ResidualNorm float64 `json:"residual_norm"`
	} `json:"report"`
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeMeter{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var h HealthResponse
	decode(t, resp, &h)
	assert.True(t, h.OK)

	resp2 := postJSON(t, ts, "/api/health", "{}")
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestComputeUploadedJob(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeMeter{})

	up := upload(t, ts, "rotor.json", identityJob)
	assert.Equal(t, 2, up.Sensors)

	resp := postJSON(t, ts, "/api/compute", ComputeRequest{JobRef: JobRef{JobID: up.JobID}})
	require.Equal(t, 200, resp.StatusCode)
	var out computeOut
	decode(t, resp, &out)
	require.Len(t, out.Report.Planes, 2)
	for _, p := range out.Report.Planes {
		assert.InDelta(t, 20000, p.MassG, 1e-6)
		assert.InDelta(t, 180, p.AngleDeg, 1e-9)
	}

	dl, err := http.Get(ts.URL + "/api/download?id=" + out.ReportID)
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, 200, dl.StatusCode)
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "rotor_balanced.json")

	dl2, err := http.Get(ts.URL + "/api/download?id=" + up.JobID)
	require.NoError(t, err)
	defer dl2.Body.Close()
	raw, err := io.ReadAll(dl2.Body)
	require.NoError(t, err)
	assert.JSONEq(t, identityJob, string(raw))
}

func TestComputeErrorMapping(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeMeter{})

	var job models.JOB
	require.NoError(t, json.Unmarshal([]byte(identityJob), &job))

	flat := job
	flat.R1 = flat.R0
	resp := postJSON(t, ts, "/api/compute", ComputeRequest{JobRef: JobRef{Job: &flat}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var apiErr APIError
	decode(t, resp, &apiErr)
	assert.Equal(t, "singular_system", apiErr.Kind)

	badRadius := job
	badRadius.FINAL = []float64{0.05, -1}
	resp = postJSON(t, ts, "/api/compute", ComputeRequest{JobRef: JobRef{Job: &badRadius}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decode(t, resp, &apiErr)
	assert.Equal(t, "invalid_radius", apiErr.Kind)

	short := job
	short.R2 = short.R2[:1]
	resp = postJSON(t, ts, "/api/compute", ComputeRequest{JobRef: JobRef{Job: &short}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decode(t, resp, &apiErr)
	assert.Equal(t, "degenerate_input", apiErr.Kind)

	assert.Equal(t, 400, postJSON(t, ts, "/api/compute", "{").StatusCode)
	assert.Equal(t, 400, postJSON(t, ts, "/api/compute", "{}").StatusCode)
	assert.Equal(t, 404, postJSON(t, ts, "/api/compute", `{"jobId":"nope"}`).StatusCode)
}

func TestComputeRejectsUnboundedSweep(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeMeter{})
	up := upload(t, ts, "rotor.json", identityJob)

	for _, modify := range []func(*balance.SweepConfig){
		func(c *balance.SweepConfig) { c.AngleStepDeg = 1e-300 },
		func(c *balance.SweepConfig) { c.RadiusPoints = 2000000000 },
	} {
		sweep := balance.DefaultSweep()
		modify(&sweep)
		resp := postJSON(t, ts, "/api/compute", ComputeRequest{JobRef: JobRef{JobID: up.JobID}, Sweep: &sweep})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		var apiErr APIError
		decode(t, resp, &apiErr)
		assert.Equal(t, "degenerate_input", apiErr.Kind)
	}

	radii := make([]float64, balance.MaxSweepPoints+1)
	for i := range radii {
		radii[i] = 50
	}
	resp := postJSON(t, ts, "/api/curves/radius", CurveRadiusRequest{JobRef: JobRef{JobID: up.JobID}, Plane: 1, RadiiMM: radii})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = postJSON(t, ts, "/api/curves/angle", CurveAngleRequest{JobRef: JobRef{JobID: up.JobID}, Plane: 1, Angles: radii})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// still serving
	resp = postJSON(t, ts, "/api/compute", ComputeRequest{JobRef: JobRef{JobID: up.JobID}})
	assert.Equal(t, 200, resp.StatusCode)
}

func TestCurves(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeMeter{})
	up := upload(t, ts, "rotor.json", identityJob)

	resp := postJSON(t, ts, "/api/curves/radius", CurveRadiusRequest{
		JobRef:  JobRef{JobID: up.JobID},
		Plane:   1,
		RadiiMM: []float64{50, 100},
	})
	require.Equal(t, 200, resp.StatusCode)
	var radius CurveResponse
	decode(t, resp, &radius)
	require.Len(t, radius.Points, 2)
	assert.InDelta(t, 20000, radius.Points[0].Y, 1e-6)
	assert.InDelta(t, 10000, radius.Points[1].Y, 1e-6)

	resp = postJSON(t, ts, "/api/curves/angle", CurveAngleRequest{
		JobRef: JobRef{JobID: up.JobID},
		Plane:  2,
		Angles: []float64{180, 0},
	})
	require.Equal(t, 200, resp.StatusCode)
	var angle CurveResponse
	decode(t, resp, &angle)
	require.Len(t, angle.Points, 2)
	assert.InDelta(t, 0.05, angle.RadiusM, 1e-12)
	assert.InDelta(t, 20000, angle.MassG, 1e-6)
	assert.InDelta(t, 0, angle.Points[0].Y, 1e-9)
	assert.Greater(t, angle.Points[1].Y, 1.0)
	assert.InDelta(t, 0, angle.UnbalanceError[0].Y, 1e-9)

	// default sweep: 750 radii
	resp = postJSON(t, ts, "/api/curves/radius", CurveRadiusRequest{JobRef: JobRef{JobID: up.JobID}, Plane: 2})
	require.Equal(t, 200, resp.StatusCode)
	decode(t, resp, &radius)
	assert.Len(t, radius.Points, 750)

	assert.Equal(t, 400, postJSON(t, ts, "/api/curves/radius", CurveRadiusRequest{JobRef: JobRef{JobID: up.JobID}, Plane: 3}).StatusCode)

	resp = postJSON(t, ts, "/api/curves/radius", CurveRadiusRequest{
		JobRef: JobRef{JobID: up.JobID}, Plane: 1, RadiiMM: []float64{10, 0},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = postJSON(t, ts, "/api/curves/angle", CurveAngleRequest{
		JobRef: JobRef{JobID: up.JobID}, Plane: 1, RadiusM: -1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var apiErr APIError
	decode(t, resp, &apiErr)
	assert.Equal(t, "invalid_radius", apiErr.Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeMeter{})
	up := upload(t, ts, "rotor.json", identityJob)
	require.Equal(t, 200, postJSON(t, ts, "/api/compute", ComputeRequest{JobRef: JobRef{JobID: up.JobID}}).StatusCode)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rotorbalance_computations_total{kind="none",outcome="ok"} 1`)
	assert.Contains(t, string(body), "rotorbalance_last_job_sensors 2")
}

type wsMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	hello := readUntil(t, conn, "hello")
	assert.Contains(t, string(hello.Data), `"connected":true`)
	return conn
}

// readUntil skips messages until one of type want arrives; an "error"
// message fails the test.
func readUntil(t *testing.T, conn *websocket.Conn, want string) wsMsg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var m wsMsg
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == want {
			return m
		}
		require.NotEqual(t, "error", m.Type, string(m.Data))
	}
}

func TestCaptureFlow(t *testing.T) {
	t.Parallel()
	meter := &fakeMeter{}
	ts := newTestServer(t, meter)
	up := upload(t, ts, "rotor.json", identityJob)

	resp, err := http.Get(ts.URL + "/api/capture/plan")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)

	resp = postJSON(t, ts, "/api/connect", ConnectRequest{JobID: up.JobID})
	require.Equal(t, 200, resp.StatusCode)
	var conn ConnectResponse
	decode(t, resp, &conn)
	assert.Equal(t, "1.0", conn.Version)
	assert.Equal(t, 2, conn.Sensors)

	ws := dialWS(t, ts, "/ws/capture")

	frames := [][]float64{{1, 1}, {2, 1}, {1, 2}}
	var done wsMsg
	for i, amps := range frames {
		meter.set(amps...)
		require.Equal(t, 200, postJSON(t, ts, "/api/capture/startStep", CaptureStartStepRequest{StepIndex: i}).StatusCode)
		readUntil(t, ws, "stepDone")
		if i == len(frames)-1 {
			done = readUntil(t, ws, "done")
		}
	}

	var result struct {
		JobID    string `json:"jobId"`
		ReportID string `json:"reportId"`
	}
	require.NoError(t, json.Unmarshal(done.Data, &result))
	assert.NotEmpty(t, result.JobID)
	assert.NotEmpty(t, result.ReportID)
	assert.Contains(t, string(done.Data), `"mass_g":20000`)

	planResp, err := http.Get(ts.URL + "/api/capture/plan")
	require.NoError(t, err)
	defer planResp.Body.Close()
	var plan CapturePlanResponse
	decode(t, planResp, &plan)
	require.Len(t, plan.Steps, 3)
	for _, st := range plan.Steps {
		assert.True(t, st.Captured, st.Label)
	}

	// check run with the corrections mounted
	meter.set(0.1, 0.1)
	require.Equal(t, 200, postJSON(t, ts, "/api/verify/start", VerifyRequest{ReportID: result.ReportID}).StatusCode)
	verified := readUntil(t, ws, "verified")
	var v struct {
		Verification struct {
			Reduction float64 `json:"reduction"`
		} `json:"verification"`
	}
	require.NoError(t, json.Unmarshal(verified.Data, &v))
	assert.InDelta(t, 0.9, v.Verification.Reduction, 1e-9)

	assert.Equal(t, 400, postJSON(t, ts, "/api/capture/startStep", CaptureStartStepRequest{StepIndex: 5}).StatusCode)
	assert.Equal(t, 404, postJSON(t, ts, "/api/verify/start", VerifyRequest{ReportID: "nope"}).StatusCode)

	require.Equal(t, 200, postJSON(t, ts, "/api/disconnect", "{}").StatusCode)
	meter.mu.Lock()
	assert.True(t, meter.closed)
	meter.mu.Unlock()
	assert.Equal(t, 400, postJSON(t, ts, "/api/monitor/start", "{}").StatusCode)
}

func TestMonitor(t *testing.T) {
	t.Parallel()
	meter := &fakeMeter{}
	meter.set(3, 4)
	ts := newTestServer(t, meter)
	up := upload(t, ts, "rotor.json", identityJob)
	require.Equal(t, 200, postJSON(t, ts, "/api/connect", ConnectRequest{JobID: up.JobID}).StatusCode)

	ws := dialWS(t, ts, "/ws/monitor")
	require.Equal(t, 200, postJSON(t, ts, "/api/monitor/start", "{}").StatusCode)
	frame := readUntil(t, ws, "frame")
	var f FrameDTO
	require.NoError(t, json.Unmarshal(frame.Data, &f))
	assert.InDelta(t, 5, f.Norm, 1e-12)

	require.Equal(t, 200, postJSON(t, ts, "/api/monitor/stop", "{}").StatusCode)
	readUntil(t, ws, "stopped")
}

func TestCaptureFromPreviousSessionIsDropped(t *testing.T) {
	t.Parallel()
	meter := &fakeMeter{}
	s := New(Options{
		Logger:    logging.NewTest(),
		OpenMeter: func(*models.JOB) (meterConn, error) { return meter, nil },
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	up := upload(t, ts, "rotor.json", identityJob)

	require.Equal(t, 200, postJSON(t, ts, "/api/connect", ConnectRequest{JobID: up.JobID}).StatusCode)
	s.dev.mu.Lock()
	oldJob := s.dev.job
	s.dev.mu.Unlock()
	oldSession := s.dev.sessionID()

	steps, err := modern.BuildCapturePlan(oldJob)
	require.NoError(t, err)
	rows := []*models.READING{{AMPLITUDE: 3}, {AMPLITUDE: 3}}

	// a capture that finishes after a disconnect and reconnect
	require.Equal(t, 200, postJSON(t, ts, "/api/disconnect", "{}").StatusCode)
	require.Equal(t, 200, postJSON(t, ts, "/api/connect", ConnectRequest{JobID: up.JobID}).StatusCode)
	assert.NotEqual(t, oldSession, s.dev.sessionID())

	snapshot, err := s.storeCapture(oldSession, oldJob, steps[0], rows)
	assert.Error(t, err)
	assert.Nil(t, snapshot)
	assert.InDelta(t, 1, oldJob.R0[0].AMPLITUDE, 1e-12)

	planResp, err := http.Get(ts.URL + "/api/capture/plan")
	require.NoError(t, err)
	defer planResp.Body.Close()
	var plan CapturePlanResponse
	decode(t, planResp, &plan)
	require.Len(t, plan.Steps, 3)
	for _, st := range plan.Steps {
		assert.False(t, st.Captured, st.Label)
	}

	s.dev.mu.Lock()
	newJob := s.dev.job
	s.dev.mu.Unlock()
	snapshot, err = s.storeCapture(s.dev.sessionID(), newJob, steps[0], rows)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
	assert.InDelta(t, 3, newJob.R0[0].AMPLITUDE, 1e-12)
}
