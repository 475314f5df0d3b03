package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK6170/Rotorbalance-go/models"
)

// fakeLink answers each written command from a canned table.
type fakeLink struct {
	replies map[string]string
	written []string
	out     bytes.Buffer
	closed  bool
}

func (f *fakeLink) Write(p []byte) (int, error) {
	cmd := string(bytes.TrimRight(p, "\r"))
	f.written = append(f.written, cmd)
	f.out.WriteString(f.replies[cmd])
	return len(p), nil
}

func (f *fakeLink) Read(p []byte) (int, error) { return f.out.Read(p) }

func (f *fakeLink) Close() error {
	f.closed = true
	return nil
}

type brokenLink struct{ fakeLink }

func (b *brokenLink) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestParseFrame(t *testing.T) {
	t.Parallel()

	rows, err := ParseFrame("CH2,0.5,270\r\nCH1, 1.25 , 45.5\r\nEND\r\n", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, &models.READING{AMPLITUDE: 1.25, PHASE: 45.5}, rows[0])
	assert.Equal(t, &models.READING{AMPLITUDE: 0.5, PHASE: 270}, rows[1])
}

func TestParseFrameErrors(t *testing.T) {
	t.Parallel()

	for name, resp := range map[string]string{
		"missing":   "CH1,1,0\nEND\n",
		"repeated":  "CH1,1,0\nCH1,2,0\nEND\n",
		"range":     "CH3,1,0\nCH1,1,0\nEND\n",
		"amplitude": "CH1,x,0\nCH2,1,0\nEND\n",
		"phase":     "CH1,1,0\nCH2,1,?\nEND\n",
		"shape":     "CH1,1\nCH2,1,0\nEND\n",
		"prefix":    "X1,1,0\nCH2,1,0\nEND\n",
	} {
		_, err := ParseFrame(resp, 2)
		assert.Error(t, err, name)
	}
}

func TestMeterReadFrame(t *testing.T) {
	t.Parallel()

	link := &fakeLink{replies: map[string]string{
		"R": "CH1,2.0,10\nCH2,3.0,20\nCH3,4.0,30\nEND\n",
		"M": "CH1,9,9\nCH2,9,9\nCH3,9,9\nEND\n",
	}}
	m := NewMeter(link, &models.SERIAL{PORT: "fake"}, 3)

	rows, err := m.ReadFrame()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 4.0, rows[2].AMPLITUDE)
	assert.Equal(t, []string{"R"}, link.written)

	m.SerialConfig.COMMAND = "M"
	rows, err = m.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 9.0, rows[0].PHASE)
	assert.Equal(t, "M", link.written[1])

	require.NoError(t, m.Close())
	assert.True(t, link.closed)
}

func TestMeterGetVersion(t *testing.T) {
	t.Parallel()

	m := NewMeter(&fakeLink{replies: map[string]string{"V": "RFM meter Version 2.1.0\r\n"}}, nil, 1)
	v, err := m.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", v)

	m = NewMeter(&fakeLink{replies: map[string]string{"V": "hello\n"}}, nil, 1)
	_, err = m.GetVersion()
	assert.Error(t, err)
}

func TestMeterTimeoutAndReadError(t *testing.T) {
	t.Parallel()

	m := NewMeter(&fakeLink{replies: map[string]string{}}, nil, 1)
	_, err := m.ReadFrame()
	assert.ErrorContains(t, err, "timeout")

	m = NewMeter(&fakeLink{replies: map[string]string{"R": "CH1,1,0\n"}}, nil, 1)
	_, err = m.ReadFrame()
	assert.ErrorContains(t, err, "without")

	m = NewMeter(&brokenLink{}, nil, 1)
	_, err = m.ReadFrame()
	assert.ErrorContains(t, err, "device gone")

	var nilMeter *Meter
	assert.NoError(t, nilMeter.Close())
}

func TestOpenMeterValidates(t *testing.T) {
	t.Parallel()

	_, err := OpenMeter(nil, 2)
	assert.Error(t, err)
	_, err = OpenMeter(&models.SERIAL{}, 2)
	assert.Error(t, err)
	_, err = OpenMeter(&models.SERIAL{PORT: "COM9"}, 0)
	assert.Error(t, err)
}
