package server

import (
	"time"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
)

type APIError struct {
	Error string `json:"error"`
	// Kind is set for balancing errors: degenerate_input, singular_system,
	// invalid_radius.
	Kind string `json:"kind,omitempty"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

type UploadResponse struct {
	JobID   string `json:"jobId"`
	Kind    string `json:"kind"`
	Sensors int    `json:"sensors"`
}

// JobRef names a job either by upload id or inline.
type JobRef struct {
	JobID string      `json:"jobId,omitempty"`
	Job   *models.JOB `json:"job,omitempty"`
}

type ComputeRequest struct {
	JobRef
	Sweep *balance.SweepConfig `json:"sweep,omitempty"`
}

type ComputeResponse struct {
	ReportID string         `json:"reportId"`
	Report   *modern.Report `json:"report"`
}

type CurveRadiusRequest struct {
	JobRef
	Plane int `json:"plane"`
	// RadiiMM defaults to the configured sweep.
	RadiiMM []float64 `json:"radiiMm,omitempty"`
}

type CurveAngleRequest struct {
	JobRef
	Plane int `json:"plane"`
	// MassG defaults to the optimal mass at RadiusM.
	MassG   *float64  `json:"massG,omitempty"`
	RadiusM float64   `json:"radiusM,omitempty"`
	Angles  []float64 `json:"anglesDeg,omitempty"`
}

type CurveResponse struct {
	Plane          int             `json:"plane"`
	MassG          float64         `json:"massG,omitempty"`
	RadiusM        float64         `json:"radiusM,omitempty"`
	Points         []balance.Point `json:"points"`
	UnbalanceError []balance.Point `json:"unbalanceError,omitempty"`
}

type ConnectRequest struct {
	JobID string `json:"jobId"`
}

type ConnectResponse struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port"`
	Sensors   int    `json:"sensors"`
	Version   string `json:"version"`
}

type CaptureStepDTO struct {
	StepIndex int    `json:"stepIndex"`
	Run       string `json:"run"`
	Label     string `json:"label"`
	Prompt    string `json:"prompt"`
	Captured  bool   `json:"captured"`
}

type CapturePlanResponse struct {
	Steps []CaptureStepDTO `json:"steps"`
}

type CaptureStartStepRequest struct {
	StepIndex int `json:"stepIndex"`
}

type VerifyRequest struct {
	ReportID string `json:"reportId"`
}

type SampleDTO struct {
	Phase        string            `json:"phase"`
	IgnoreDone   int               `json:"ignoreDone"`
	IgnoreTarget int               `json:"ignoreTarget"`
	Current      []*models.READING `json:"current,omitempty"`
	Error        string            `json:"error,omitempty"`
}
