package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
)

// monitorInterval paces live frames on /ws/monitor.
var monitorInterval = 250 * time.Millisecond

type FrameDTO struct {
	Readings []*models.READING `json:"readings"`
	Norm     float64           `json:"norm"`
}

func frameDTO(rows []*models.READING) FrameDTO {
	tbl := make([]balance.Reading, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			tbl = append(tbl, balance.Reading{Amplitude: r.AMPLITUDE, PhaseDeg: r.PHASE})
		}
	}
	return FrameDTO{Readings: rows, Norm: balance.Phasors(tbl).Norm()}
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	if s.dev.meter == nil {
		s.dev.mu.Unlock()
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	ctx := s.dev.startLocked("monitor")
	meter := s.dev.meter
	s.dev.mu.Unlock()

	go func() {
		t := time.NewTicker(monitorInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.wsMonitor.Broadcast(WSMessage{Type: "stopped"})
				return
			case <-t.C:
				rows, err := meter.ReadFrame()
				if err != nil {
					s.wsMonitor.Broadcast(errorMessage(err))
					continue
				}
				s.wsMonitor.Broadcast(WSMessage{Type: "frame", Data: frameDTO(rows)})
			}
		}
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

// handleVerifyStart captures a check run with the corrections mounted and
// compares it against the report it came from.
func (s *Server) handleVerifyStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req VerifyRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, ok := s.store.Get(req.ReportID)
	if !ok || rec.Kind != kindReport {
		s.writeJSON(w, 404, APIError{Error: "reportId not found"})
		return
	}

	s.dev.mu.Lock()
	if s.dev.meter == nil || s.dev.job == nil {
		s.dev.mu.Unlock()
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	ctx := s.dev.startLocked("verify")
	meter := s.dev.meter
	ignore := s.dev.job.IGNORE
	s.dev.mu.Unlock()

	go func() {
		v, err := modern.VerifyCorrection(ctx, meter, ignore, rec.Report, func(u modern.CaptureUpdate) {
			s.wsCapture.Broadcast(WSMessage{Type: "sample", Data: sampleDTO(u)})
		})
		s.metrics.ObserveCapture("check", err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				s.wsCapture.Broadcast(WSMessage{Type: "stopped"})
				return
			}
			s.wsCapture.Broadcast(errorMessage(err))
			return
		}
		s.log.Info("check run",
			zap.String("report", rec.ID),
			zap.Float64("measured", v.MeasuredNorm),
			zap.Float64("predicted", v.PredictedNorm),
			zap.Float64("reduction", v.Reduction),
		)
		s.wsCapture.Broadcast(WSMessage{
			Type: "verified",
			Data: map[string]interface{}{
				"reportId":     rec.ID,
				"verification": v,
			},
		})
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}
