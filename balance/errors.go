package balance

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Match with errors.Is.
var (
	ErrDegenerateInput = errors.New("degenerate input")
	ErrSingularSystem  = errors.New("singular system")
	ErrInvalidRadius   = errors.New("invalid radius")
)

func degenerate(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDegenerateInput, fmt.Sprintf(format, a...))
}

func singular(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSingularSystem, fmt.Sprintf(format, a...))
}

func invalidRadius(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRadius, fmt.Sprintf(format, a...))
}

// Kind maps an engine error to a stable identifier for APIs and metrics.
// It returns "" for errors the engine did not produce.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDegenerateInput):
		return "degenerate_input"
	case errors.Is(err, ErrSingularSystem):
		return "singular_system"
	case errors.Is(err, ErrInvalidRadius):
		return "invalid_radius"
	}
	return ""
}
