package modern

import (
	"fmt"

	"github.com/CK6170/Rotorbalance-go/models"
	serialpkg "github.com/CK6170/Rotorbalance-go/serial"
)

type Session struct {
	Job   *models.JOB
	Meter *serialpkg.Meter
}

func Connect(j *models.JOB) (*Session, error) {
	if j == nil || j.SERIAL == nil {
		return nil, fmt.Errorf("missing SERIAL section")
	}
	if j.SENSORS <= 0 {
		return nil, fmt.Errorf("SENSORS must be > 0")
	}
	m, err := serialpkg.OpenMeter(j.SERIAL, j.SENSORS)
	if err != nil {
		return nil, err
	}
	return &Session{Job: j, Meter: m}, nil
}

func (s *Session) Close() error {
	if s == nil || s.Meter == nil {
		return nil
	}
	return s.Meter.Close()
}

func ProbeVersion(s *Session) (string, error) {
	if s == nil || s.Meter == nil {
		return "", fmt.Errorf("not connected")
	}
	return s.Meter.GetVersion()
}
