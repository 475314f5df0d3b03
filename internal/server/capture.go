package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
)

// cloneJob gives a device session its own copy to fill with captures.
func cloneJob(j *models.JOB) (*models.JOB, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	var out models.JOB
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, ok := s.store.Get(req.JobID)
	if !ok || rec.Kind != kindJob {
		s.writeJSON(w, 404, APIError{Error: "jobId not found (upload a job first)"})
		return
	}
	job, err := cloneJob(rec.Job)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.cancelLocked()
	_ = s.dev.disconnectLocked()

	meter, err := s.openMeter(job)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	version, err := meter.GetVersion()
	if err != nil {
		_ = meter.Close()
		s.writeJSON(w, 400, APIError{Error: "meter version probe failed: " + err.Error()})
		return
	}

	s.dev.jobID = rec.ID
	s.dev.job = job
	s.dev.meter = meter
	s.dev.capMu.Lock()
	s.dev.captured = make(map[models.RUN]bool)
	s.dev.session++
	s.dev.capMu.Unlock()

	port := ""
	if job.SERIAL != nil {
		port = job.SERIAL.PORT
	}
	s.log.Info("meter connected", zap.String("port", port), zap.String("version", version))
	s.writeJSON(w, 200, ConnectResponse{
		Connected: true,
		Port:      port,
		Sensors:   job.SENSORS,
		Version:   version,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	_ = s.dev.disconnectLocked()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleStopOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleCapturePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	job := s.dev.job
	s.dev.mu.Unlock()
	if job == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	steps, err := modern.BuildCapturePlan(job)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.dev.capMu.Lock()
	defer s.dev.capMu.Unlock()
	out := make([]CaptureStepDTO, 0, len(steps))
	for i, st := range steps {
		out = append(out, CaptureStepDTO{
			StepIndex: i,
			Run:       st.Run.String(),
			Label:     st.Label,
			Prompt:    st.Prompt,
			Captured:  s.dev.captured[st.Run],
		})
	}
	s.writeJSON(w, 200, CapturePlanResponse{Steps: out})
}

func sampleDTO(u modern.CaptureUpdate) SampleDTO {
	d := SampleDTO{
		Phase:        string(u.Phase),
		IgnoreDone:   u.IgnoreDone,
		IgnoreTarget: u.IgnoreTarget,
		Current:      u.Current,
	}
	if u.Final != nil {
		d.Current = u.Final
	}
	if u.Err != nil {
		d.Error = u.Err.Error()
	}
	return d
}

func errorMessage(err error) WSMessage {
	return WSMessage{Type: "error", Data: map[string]string{"error": err.Error()}}
}

func (s *Server) handleCaptureStartStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req CaptureStartStepRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}

	s.dev.mu.Lock()
	if s.dev.meter == nil || s.dev.job == nil {
		s.dev.mu.Unlock()
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	job := s.dev.job
	steps, err := modern.BuildCapturePlan(job)
	if err != nil {
		s.dev.mu.Unlock()
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	if req.StepIndex < 0 || req.StepIndex >= len(steps) {
		s.dev.mu.Unlock()
		s.writeJSON(w, 400, APIError{Error: "invalid stepIndex"})
		return
	}
	ctx := s.dev.startLocked("capture")
	meter := s.dev.meter
	session := s.dev.sessionID()
	s.dev.mu.Unlock()

	step := steps[req.StepIndex]
	go s.runCaptureStep(ctx, meter, session, job, req.StepIndex, step)

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) runCaptureStep(ctx context.Context, meter meterConn, session uint64, job *models.JOB, index int, step modern.CaptureStep) {
	rows, err := modern.CaptureRun(ctx, meter, job.IGNORE, func(u modern.CaptureUpdate) {
		s.wsCapture.Broadcast(WSMessage{Type: "sample", Data: sampleDTO(u)})
	})
	s.metrics.ObserveCapture(step.Run.String(), err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.wsCapture.Broadcast(WSMessage{Type: "stopped"})
			return
		}
		s.log.Warn("capture failed", zap.String("run", step.Run.String()), zap.Error(err))
		s.wsCapture.Broadcast(errorMessage(err))
		return
	}

	snapshot, err := s.storeCapture(session, job, step, rows)
	if err != nil {
		s.log.Warn("capture dropped", zap.String("run", step.Run.String()), zap.Error(err))
		s.wsCapture.Broadcast(errorMessage(err))
		return
	}
	s.wsCapture.Broadcast(WSMessage{
		Type: "stepDone",
		Data: map[string]interface{}{
			"stepIndex": index,
			"label":     step.Label,
			"readings":  rows,
		},
	})
	if snapshot == nil {
		return
	}

	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.wsCapture.Broadcast(errorMessage(err))
		return
	}
	name := "captured.json"
	if snapshot.SERIAL != nil && snapshot.SERIAL.PORT != "" {
		name = "captured_" + portLabel(snapshot.SERIAL.PORT) + ".json"
	}
	jobRec, err := s.store.Put(Record{Kind: kindJob, Name: name, Raw: raw, Job: snapshot})
	if err != nil {
		s.wsCapture.Broadcast(errorMessage(err))
		return
	}
	rep, repRec, err := s.compute(snapshot, name, s.sweep)
	if err != nil {
		s.wsCapture.Broadcast(errorMessage(err))
		return
	}
	s.wsCapture.Broadcast(WSMessage{
		Type: "done",
		Data: map[string]interface{}{
			"ok":       true,
			"jobId":    jobRec.ID,
			"reportId": repRec.ID,
			"report":   rep,
		},
	})
}

// storeCapture records a captured run if the session that started it is
// still the current one. Once all three runs are in it returns a copy of
// the filled job.
func (s *Server) storeCapture(session uint64, job *models.JOB, step modern.CaptureStep, rows []*models.READING) (*models.JOB, error) {
	s.dev.capMu.Lock()
	defer s.dev.capMu.Unlock()

	if s.dev.captured == nil || s.dev.session != session {
		return nil, errors.New("meter session changed during capture")
	}
	if err := modern.ApplyCapture(job, step, rows); err != nil {
		return nil, err
	}
	s.dev.captured[step.Run] = true
	if len(s.dev.captured) < 3 {
		return nil, nil
	}
	return cloneJob(job)
}

// portLabel turns a device path into something usable in a file name.
func portLabel(port string) string {
	port = strings.TrimPrefix(port, "/dev/")
	return strings.NewReplacer("/", "_", "\\", "_", ".", "_").Replace(port)
}
