package server

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
	serialpkg "github.com/CK6170/Rotorbalance-go/serial"
)

// meterConn is the part of *serial.Meter the server drives.
type meterConn interface {
	modern.FrameReader
	GetVersion() (string, error)
	Close() error
}

// MeterOpener opens the meter a job describes.
type MeterOpener func(j *models.JOB) (meterConn, error)

// openMeter resolves the port (auto-detecting it when empty) and opens it.
func openMeter(j *models.JOB) (meterConn, error) {
	if j == nil || j.SERIAL == nil {
		return nil, fmt.Errorf("missing SERIAL in job")
	}
	if j.SENSORS <= 0 {
		return nil, fmt.Errorf("job has no SENSORS count")
	}
	if strings.TrimSpace(j.SERIAL.PORT) == "" {
		port := serialpkg.AutoDetectPort(j.SERIAL)
		if port == "" {
			return nil, fmt.Errorf("could not auto-detect serial port")
		}
		j.SERIAL.PORT = port
	}
	return serialpkg.OpenMeter(j.SERIAL, j.SENSORS)
}

type DeviceSession struct {
	mu sync.Mutex

	jobID string
	job   *models.JOB
	meter meterConn

	// One active operation at a time
	opCancel context.CancelFunc
	opKind   string

	// runs captured since connect; session changes on every connect and
	// disconnect so late captures from an older session are dropped
	capMu    sync.Mutex
	captured map[models.RUN]bool
	session  uint64
}

// sessionID returns the current capture session.
func (d *DeviceSession) sessionID() uint64 {
	d.capMu.Lock()
	defer d.capMu.Unlock()
	return d.session
}

func (d *DeviceSession) cancelLocked() {
	if d.opCancel != nil {
		d.opCancel()
		d.opCancel = nil
		d.opKind = ""
	}
}

func (d *DeviceSession) disconnectLocked() error {
	var err error
	if d.meter != nil {
		err = d.meter.Close()
	}
	d.meter = nil
	d.job = nil
	d.jobID = ""
	d.capMu.Lock()
	d.captured = nil
	d.session++
	d.capMu.Unlock()
	return err
}

// startLocked cancels whatever runs and registers a new operation.
func (d *DeviceSession) startLocked(kind string) context.Context {
	d.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	d.opCancel = cancel
	d.opKind = kind
	return ctx
}
