package serial

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	models "github.com/CK6170/Rotorbalance-go/models"
	goserial "github.com/tarm/serial"
)

const (
	defaultBaud    = 115200
	defaultCommand = "R"
	frameEnd       = "END"
)

// Meter is a multi-channel vibration meter answering one frame of
// amplitude/phase pairs (synchronous to the 1x tach signal) per request.
type Meter struct {
	Port         io.ReadWriteCloser
	Sensors      int
	SerialConfig *models.SERIAL
}

// OpenMeter opens the configured port. The caller owns Close.
func OpenMeter(ser *models.SERIAL, sensors int) (*Meter, error) {
	if ser == nil {
		return nil, fmt.Errorf("missing SERIAL")
	}
	if ser.PORT == "" {
		return nil, fmt.Errorf("missing SERIAL.PORT")
	}
	if sensors <= 0 {
		return nil, fmt.Errorf("sensor count must be > 0")
	}
	port, err := goserial.OpenPort(portConfig(ser.PORT, ser.BAUDRATE))
	if err != nil {
		return nil, err
	}
	return NewMeter(port, ser, sensors), nil
}

// NewMeter wraps an already open link.
func NewMeter(port io.ReadWriteCloser, ser *models.SERIAL, sensors int) *Meter {
	return &Meter{Port: port, Sensors: sensors, SerialConfig: ser}
}

func portConfig(name string, baud int) *goserial.Config {
	if baud <= 0 {
		baud = defaultBaud
	}
	return &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: time.Millisecond * 300,
	}
}

func (m *Meter) Close() error {
	if m == nil || m.Port == nil {
		return nil
	}
	return m.Port.Close()
}

// GetVersion returns the banner text after "Version ".
func (m *Meter) GetVersion() (string, error) {
	resp, err := request(m.Port, "V", "\n", 200)
	if err != nil {
		return "", fmt.Errorf("GetVersion error: %v", err)
	}
	i := strings.Index(resp, "Version ")
	if i == -1 {
		return "", fmt.Errorf("no version")
	}
	return strings.TrimSpace(resp[i+8:]), nil
}

// ReadFrame requests one frame and returns a reading per sensor.
func (m *Meter) ReadFrame() ([]*models.READING, error) {
	cmd := defaultCommand
	if m.SerialConfig != nil && strings.TrimSpace(m.SerialConfig.COMMAND) != "" {
		cmd = strings.TrimSpace(m.SerialConfig.COMMAND)
	}
	resp, err := request(m.Port, cmd, frameEnd, 1000)
	if err != nil {
		return nil, err
	}
	return ParseFrame(resp, m.Sensors)
}

// ParseFrame decodes lines "CH<n>,<amplitude>,<phase>" up to "END".
// Channels must be 1..sensors, each exactly once.
func ParseFrame(resp string, sensors int) ([]*models.READING, error) {
	out := make([]*models.READING, sensors)
	seen := 0
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == frameEnd {
			break
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 || !strings.HasPrefix(parts[0], "CH") {
			return nil, fmt.Errorf("bad frame line %q", line)
		}
		ch, err := strconv.Atoi(strings.TrimPrefix(parts[0], "CH"))
		if err != nil || ch < 1 || ch > sensors {
			return nil, fmt.Errorf("bad channel in %q", line)
		}
		if out[ch-1] != nil {
			return nil, fmt.Errorf("channel %d repeated", ch)
		}
		amp, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("channel %d amplitude: %w", ch, err)
		}
		ph, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("channel %d phase: %w", ch, err)
		}
		out[ch-1] = &models.READING{AMPLITUDE: amp, PHASE: ph}
		seen++
	}
	if seen != sensors {
		return nil, fmt.Errorf("frame has %d of %d channels", seen, sensors)
	}
	return out, nil
}

// request writes cmd+CR and reads until terminator shows up or timeoutMs
// passes without it.
func request(rw io.ReadWriter, cmd, terminator string, timeoutMs int) (string, error) {
	if rw == nil {
		return "", fmt.Errorf("port not open")
	}
	if _, err := rw.Write([]byte(cmd + "\r")); err != nil {
		return "", err
	}
	return readUntil(rw, terminator, timeoutMs)
}

func readUntil(r io.Reader, terminator string, timeoutMs int) (string, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 256)
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if strings.Contains(buf.String(), terminator) {
				return buf.String(), nil
			}
		}
		if err != nil && err != io.EOF {
			return buf.String(), err
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("timeout: no response")
	}
	return "", fmt.Errorf("timeout: %q without %q", strings.TrimSpace(buf.String()), terminator)
}
