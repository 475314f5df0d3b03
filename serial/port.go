package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/CK6170/Rotorbalance-go/models"
	goserial "github.com/tarm/serial"
)

// AutoDetectPort scans common COM ports to find a meter answering the
// Version command.
func AutoDetectPort(ser *models.SERIAL) string {
	baud := 0
	if ser != nil {
		baud = ser.BAUDRATE
	}
	for _, portName := range candidatePorts() {
		if TestPort(portName, baud) {
			return portName
		}
	}
	return ""
}

func candidatePorts() []string {
	if runtime.GOOS == "windows" {
		out := make([]string, 0, 64)
		for i := 1; i <= 64; i++ {
			out = append(out, fmt.Sprintf("COM%d", i))
		}
		return out
	}
	candidates := make([]string, 0, 32)
	for _, pat := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/cu.*"} {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				candidates = append(candidates, m)
			}
		}
	}
	return candidates
}

// TestPort opens name and checks for a version banner.
func TestPort(name string, baud int) bool {
	sp, err := goserial.OpenPort(portConfig(name, baud))
	if err != nil {
		return false
	}
	defer func() { _ = sp.Close() }()

	m := NewMeter(sp, nil, 1)
	_, err = m.GetVersion()
	return err == nil
}
