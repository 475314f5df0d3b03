package models

import "fmt"

// SERIAL describes the vibration meter link.
type SERIAL struct {
	PORT     string `json:"PORT" yaml:"port"`
	BAUDRATE int    `json:"BAUDRATE" yaml:"baudrate"`
	COMMAND  string `json:"COMMAND,omitempty" yaml:"command,omitempty"` // frame request, default "R"
}

// READING is one row of a measurement table.
type READING struct {
	AMPLITUDE float64 `json:"AMPLITUDE" yaml:"amplitude"`
	PHASE     float64 `json:"PHASE" yaml:"phase"` // degrees
}

// TRIAL is the calibration weight used on one plane.
type TRIAL struct {
	MASS   float64 `json:"MASS" yaml:"mass"`     // grams
	ANGLE  float64 `json:"ANGLE" yaml:"angle"`   // degrees
	RADIUS float64 `json:"RADIUS" yaml:"radius"` // meters
}

// JOB is a balancing job file: meter link, the three runs and the options.
type JOB struct {
	SERIAL    *SERIAL    `json:"SERIAL,omitempty" yaml:"serial,omitempty"`
	SENSORS   int        `json:"SENSORS,omitempty" yaml:"sensors,omitempty"`
	R0        []*READING `json:"R0" yaml:"r0"`
	R1        []*READING `json:"R1" yaml:"r1"`
	R2        []*READING `json:"R2" yaml:"r2"`
	TRIAL1    *TRIAL     `json:"TRIAL1" yaml:"trial1"`
	TRIAL2    *TRIAL     `json:"TRIAL2" yaml:"trial2"`
	FINAL     []float64  `json:"FINAL,omitempty" yaml:"final,omitempty"` // final radii per plane, meters
	FIXRADIUS float64    `json:"FIXRADIUS,omitempty" yaml:"fixradius,omitempty"`
	OPPOSITE  bool       `json:"OPPOSITE" yaml:"opposite"`
	IGNORE    int        `json:"IGNORE,omitempty" yaml:"ignore,omitempty"`
	DEBUG     bool       `json:"DEBUG,omitempty" yaml:"debug,omitempty"`
}

// RUN names one of the three measurement runs.
type RUN int

const (
	RunBase RUN = iota
	RunTrial1
	RunTrial2
)

func (r RUN) String() string {
	switch r {
	case RunBase:
		return "R0"
	case RunTrial1:
		return "R1"
	case RunTrial2:
		return "R2"
	}
	return fmt.Sprintf("RUN(%d)", int(r))
}

// Table returns the readings of a run.
func (j *JOB) Table(r RUN) []*READING {
	switch r {
	case RunBase:
		return j.R0
	case RunTrial1:
		return j.R1
	case RunTrial2:
		return j.R2
	}
	return nil
}

// SetTable replaces the readings of a run.
func (j *JOB) SetTable(r RUN, rows []*READING) {
	switch r {
	case RunBase:
		j.R0 = rows
	case RunTrial1:
		j.R1 = rows
	case RunTrial2:
		j.R2 = rows
	}
}
