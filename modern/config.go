package modern

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/models"
	serialpkg "github.com/CK6170/Rotorbalance-go/serial"
)

// DefaultIgnore is the number of warm-up frames discarded before a capture.
const DefaultIgnore = 3

// IsYAMLPath reports whether path names a YAML document.
func IsYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadJob reads a job file; .yaml/.yml is YAML, anything else JSON.
func LoadJob(path string) (*models.JOB, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeJob(b, IsYAMLPath(path))
}

// DecodeJob parses and normalizes a job document.
func DecodeJob(b []byte, asYAML bool) (*models.JOB, error) {
	var j models.JOB
	if asYAML {
		if err := yaml.Unmarshal(b, &j); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(b, &j); err != nil {
		return nil, err
	}
	if j.TRIAL1 == nil || j.TRIAL2 == nil {
		return nil, fmt.Errorf("missing TRIAL1/TRIAL2 section")
	}
	if j.IGNORE <= 0 {
		j.IGNORE = DefaultIgnore
	}
	if j.SENSORS <= 0 {
		j.SENSORS = len(j.R0)
	}
	return &j, nil
}

func PersistJob(path string, j *models.JOB) error {
	var (
		data []byte
		err  error
	)
	if IsYAMLPath(path) {
		data, err = yaml.Marshal(j)
	} else {
		data, err = json.MarshalIndent(j, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureSerialPort auto-detects the meter port if missing and optionally
// writes it back into the job file.
func EnsureSerialPort(jobPath string, j *models.JOB, persist bool) (changed bool, err error) {
	if j == nil || j.SERIAL == nil {
		return false, fmt.Errorf("missing SERIAL section")
	}
	if strings.TrimSpace(j.SERIAL.PORT) != "" {
		return false, nil
	}
	port := serialpkg.AutoDetectPort(j.SERIAL)
	if port == "" {
		return false, fmt.Errorf("could not auto-detect serial port")
	}
	j.SERIAL.PORT = port
	if persist {
		if err := PersistJob(jobPath, j); err != nil {
			return true, err
		}
	}
	return true, nil
}

// ResultPath derives the report path from the job path.
func ResultPath(jobPath string) string {
	lower := strings.ToLower(jobPath)
	if strings.HasSuffix(lower, "_balanced.json") {
		return jobPath
	}
	ext := filepath.Ext(jobPath)
	switch strings.ToLower(ext) {
	case ".json", ".yaml", ".yml":
		return strings.TrimSuffix(jobPath, ext) + "_balanced.json"
	}
	return jobPath + "_balanced.json"
}

// JobInput converts a job document into engine input.
func JobInput(j *models.JOB) (*balance.Input, error) {
	if j == nil {
		return nil, fmt.Errorf("%w: job is nil", balance.ErrDegenerateInput)
	}
	if j.TRIAL1 == nil || j.TRIAL2 == nil {
		return nil, fmt.Errorf("%w: missing trial specification", balance.ErrDegenerateInput)
	}
	if len(j.FINAL) > 2 {
		return nil, fmt.Errorf("%w: FINAL holds %d radii, want at most 2", balance.ErrDegenerateInput, len(j.FINAL))
	}
	for _, r := range []models.RUN{models.RunBase, models.RunTrial1, models.RunTrial2} {
		for i, row := range j.Table(r) {
			if row == nil {
				return nil, fmt.Errorf("%w: %s row %d is null", balance.ErrDegenerateInput, r, i+1)
			}
		}
	}
	in := &balance.Input{
		Runs: balance.Runs{
			R0: readings(j.R0),
			R1: readings(j.R1),
			R2: readings(j.R2),
		},
		Trial1:   trial(j.TRIAL1),
		Trial2:   trial(j.TRIAL2),
		Opposite: j.OPPOSITE,
	}
	copy(in.FinalRadii[:], j.FINAL)
	for i, r := range j.FINAL {
		if r <= 0 {
			return nil, fmt.Errorf("%w: FINAL radius of plane %d must be > 0, got %g", balance.ErrInvalidRadius, i+1, r)
		}
	}
	return in, nil
}

func readings(rows []*models.READING) []balance.Reading {
	out := make([]balance.Reading, 0, len(rows))
	for _, r := range rows {
		out = append(out, balance.Reading{Amplitude: r.AMPLITUDE, PhaseDeg: r.PHASE})
	}
	return out
}

func trial(t *models.TRIAL) balance.Trial {
	return balance.Trial{MassG: t.MASS, AngleDeg: t.ANGLE, RadiusM: t.RADIUS}
}
