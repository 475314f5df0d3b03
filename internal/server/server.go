package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/internal/publish"
	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
)

// Options configure a Server. Zero values fall back to defaults.
type Options struct {
	Sweep     balance.SweepConfig
	Web       string // static frontend root, empty for API only
	Logger    *zap.Logger
	Publisher publish.Publisher
	Metrics   *Metrics
	OpenMeter MeterOpener
}

type Server struct {
	mux *http.ServeMux

	store *JobStore
	dev   *DeviceSession

	// WebSocket hubs
	wsCapture *WSHub
	wsMonitor *WSHub

	log       *zap.Logger
	metrics   *Metrics
	pub       publish.Publisher
	sweep     balance.SweepConfig
	openMeter MeterOpener
}

func New(opts Options) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		store:     NewJobStore(),
		dev:       &DeviceSession{},
		wsCapture: NewWSHub(),
		wsMonitor: NewWSHub(),
		log:       opts.Logger,
		metrics:   opts.Metrics,
		pub:       opts.Publisher,
		sweep:     opts.Sweep,
		openMeter: opts.OpenMeter,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.sweep == (balance.SweepConfig{}) {
		s.sweep = balance.DefaultSweep()
	}
	if s.openMeter == nil {
		s.openMeter = openMeter
	}

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/upload/job", s.handleUploadJob)
	s.mux.HandleFunc("/api/compute", s.handleCompute)
	s.mux.HandleFunc("/api/curves/radius", s.handleCurveRadius)
	s.mux.HandleFunc("/api/curves/angle", s.handleCurveAngle)
	s.mux.HandleFunc("/api/download", s.handleDownload)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)

	s.mux.HandleFunc("/api/capture/plan", s.handleCapturePlan)
	s.mux.HandleFunc("/api/capture/startStep", s.handleCaptureStartStep)
	s.mux.HandleFunc("/api/capture/stop", s.handleStopOp)

	s.mux.HandleFunc("/api/monitor/start", s.handleMonitorStart)
	s.mux.HandleFunc("/api/monitor/stop", s.handleStopOp)
	s.mux.HandleFunc("/api/verify/start", s.handleVerifyStart)

	// WS
	s.mux.HandleFunc("/ws/capture", s.handleWSCapture)
	s.mux.HandleFunc("/ws/monitor", s.handleWSMonitor)

	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	// Static frontend
	if opts.Web != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(opts.Web)))
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// writeError answers 422 for balancing errors and 400 for anything else.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if kind := balance.Kind(err); kind != "" {
		s.writeJSON(w, http.StatusUnprocessableEntity, APIError{Error: err.Error(), Kind: kind})
		return
	}
	s.writeJSON(w, http.StatusBadRequest, APIError{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleUploadJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	f, hdr, err := fileFromMultipart(r, "file")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 4<<20))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	name := filepath.Base(hdr.Filename)
	job, err := modern.DecodeJob(raw, modern.IsYAMLPath(name))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, err := s.store.Put(Record{Kind: kindJob, Name: name, Raw: raw, Job: job})
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.log.Info("job uploaded", zap.String("id", rec.ID), zap.String("name", name), zap.Int("sensors", job.SENSORS))
	s.writeJSON(w, 200, UploadResponse{JobID: rec.ID, Kind: string(kindJob), Sensors: job.SENSORS})
}

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, nil, err
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	return f, hdr, nil
}

// resolveJob returns the inline job or the uploaded one, plus the name
// used for downloads.
func (s *Server) resolveJob(ref JobRef) (*models.JOB, string, int, error) {
	if ref.Job != nil {
		return ref.Job, "job.json", 0, nil
	}
	if ref.JobID == "" {
		return nil, "", 400, fmt.Errorf("missing jobId or job")
	}
	rec, ok := s.store.Get(ref.JobID)
	if !ok || rec.Kind != kindJob {
		return nil, "", 404, fmt.Errorf("jobId not found (upload a job first)")
	}
	return rec.Job, rec.Name, 0, nil
}

// compute runs a job, records the outcome and stores the report.
func (s *Server) compute(job *models.JOB, name string, sweep balance.SweepConfig) (*modern.Report, *Record, error) {
	rep, err := modern.Compute(job, sweep)
	s.metrics.ObserveCompute(rep, err)
	if err != nil {
		s.log.Warn("compute failed", zap.String("job", name), zap.String("kind", balance.Kind(err)), zap.Error(err))
		return nil, nil, err
	}
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.store.Put(Record{Kind: kindReport, Name: modern.ResultPath(name), Raw: raw, Job: job, Report: rep})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("computed",
		zap.String("job", name),
		zap.String("report", rec.ID),
		zap.Float64("plane1_g", rep.Planes[0].MassG),
		zap.Float64("plane1_deg", rep.Planes[0].AngleDeg),
		zap.Float64("plane2_g", rep.Planes[1].MassG),
		zap.Float64("plane2_deg", rep.Planes[1].AngleDeg),
		zap.Float64("residual", rep.ResidualNorm),
	)
	if s.pub != nil {
		if err := s.pub.Publish(rep); err != nil {
			s.log.Warn("publish failed", zap.Error(err))
		}
	}
	return rep, rec, nil
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ComputeRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	job, name, status, err := s.resolveJob(req.JobRef)
	if err != nil {
		s.writeJSON(w, status, APIError{Error: err.Error()})
		return
	}
	sweep := s.sweep
	if req.Sweep != nil {
		sweep = *req.Sweep
	}
	rep, rec, err := s.compute(job, name, sweep)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, ComputeResponse{ReportID: rec.ID, Report: rep})
}

// result runs the engine without curves.
func (s *Server) result(ref JobRef) (*balance.Result, *models.JOB, int, error) {
	job, _, status, err := s.resolveJob(ref)
	if err != nil {
		return nil, nil, status, err
	}
	in, err := modern.JobInput(job)
	if err != nil {
		return nil, nil, 0, err
	}
	res, err := balance.Compute(*in)
	if err != nil {
		return nil, nil, 0, err
	}
	return res, job, 0, nil
}

func (s *Server) handleCurveRadius(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req CurveRadiusRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if req.Plane != 1 && req.Plane != 2 {
		s.writeJSON(w, 400, APIError{Error: "plane must be 1 or 2"})
		return
	}
	res, _, status, err := s.result(req.JobRef)
	if status != 0 {
		s.writeJSON(w, status, APIError{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.RadiiMM) > balance.MaxSweepPoints {
		s.writeJSON(w, 400, APIError{Error: fmt.Sprintf("at most %d radii per request", balance.MaxSweepPoints)})
		return
	}
	radii := s.sweep.Radii()
	if req.RadiiMM != nil {
		radii = make([]float64, len(req.RadiiMM))
		for i, mm := range req.RadiiMM {
			radii[i] = mm / 1000.0
		}
	}
	seq, err := balance.MassVsRadius(res.Correction.Values[req.Plane-1], radii)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, CurveResponse{Plane: req.Plane, Points: balance.Collect(seq)})
}

func (s *Server) handleCurveAngle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req CurveAngleRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if len(req.Angles) > balance.MaxSweepPoints {
		s.writeJSON(w, 400, APIError{Error: fmt.Sprintf("at most %d angles per request", balance.MaxSweepPoints)})
		return
	}
	if req.Plane != 1 && req.Plane != 2 {
		s.writeJSON(w, 400, APIError{Error: "plane must be 1 or 2"})
		return
	}
	res, job, status, err := s.result(req.JobRef)
	if status != 0 {
		s.writeJSON(w, status, APIError{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	radius := req.RadiusM
	if radius == 0 {
		radius = s.sweep.FixedRadiusM
		if job.FIXRADIUS != 0 {
			radius = job.FIXRADIUS
		}
	}
	mass := balance.MassAt(res.Correction.Values[req.Plane-1], radius)
	if req.MassG != nil {
		mass = *req.MassG
	}
	angles := s.sweep.Angles()
	if req.Angles != nil {
		angles = req.Angles
	}
	rva, err := balance.ResidualVsAngle(res.H, res.R0, res.Correction, req.Plane, mass, radius, angles, res.Opposite)
	if err != nil {
		s.writeError(w, err)
		return
	}
	eva, err := balance.UnbalanceErrorVsAngle(res.Correction, req.Plane, mass, radius, angles, res.Opposite)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, CurveResponse{
		Plane:          req.Plane,
		MassG:          mass,
		RadiusM:        radius,
		Points:         balance.Collect(rva),
		UnbalanceError: balance.Collect(eva),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSON(w, 400, APIError{Error: "missing id"})
		return
	}
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeJSON(w, 404, APIError{Error: "not found"})
		return
	}
	name := rec.Name
	if name == "" {
		name = string(rec.Kind) + ".json"
	}
	ctype := "application/json"
	if modern.IsYAMLPath(name) {
		ctype = "application/yaml"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(name)))
	w.WriteHeader(200)
	_, _ = w.Write(rec.Raw)
}
