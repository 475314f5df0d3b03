package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	flag "github.com/spf13/pflag"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/internal/config"
	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
	"github.com/CK6170/Rotorbalance-go/ui"
)

type screen int

const (
	screenEntry screen = iota
	screenCapture
	screenResults
	screenMonitor
	screenVerify
)

type modeStatus int

const (
	statusIdle modeStatus = iota
	statusRunning
	statusDone
	statusError
)

type model struct {
	scr   screen
	sweep balance.SweepConfig

	// entry
	jobInput textinput.Model
	jobPath  string
	job      *models.JOB

	// connection
	sess     *modern.Session
	version  string
	lastErr  error
	infoLine string

	// capture state
	capSteps   []modern.CaptureStep
	capStepIdx int
	capStatus  modeStatus
	capUpdate  modern.CaptureUpdate

	// results
	report    *modern.Report
	savedPath string

	// monitor state
	monStatus modeStatus
	monFrame  []*models.READING
	monLastAt time.Time

	// check run state
	verStatus modeStatus
	verResult *modern.Verification

	// cancellation for long-running mode work
	modeCtx    context.Context
	modeCancel context.CancelFunc
	capRunID   int
	monRunID   int
	verRunID   int

	// progress from running captures
	progress chan modern.CaptureUpdate
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func initialModel(jobPath string, sweep balance.SweepConfig) model {
	in := textinput.New()
	in.Placeholder = "Path to job .json/.yaml"
	in.Focus()
	in.CharLimit = 512
	in.Width = 60
	if strings.TrimSpace(jobPath) != "" {
		in.SetValue(jobPath)
		in.CursorEnd()
	}
	return model{
		scr:      screenEntry,
		sweep:    sweep,
		jobInput: in,
		progress: make(chan modern.CaptureUpdate, 64),
	}
}

type errMsg struct{ err error }
type jobLoadedMsg struct {
	job  *models.JOB
	path string
}
type connectedMsg struct {
	sess    *modern.Session
	version string
}
type disconnectedMsg struct{}

type computedMsg struct {
	report *modern.Report
	saved  string
}

type capProgressMsg struct {
	runID int
	u     modern.CaptureUpdate
}
type capStepDoneMsg struct {
	runID int
	step  modern.CaptureStep
	rows  []*models.READING
}

type monFrameMsg struct {
	runID int
	rows  []*models.READING
}
type monStoppedMsg struct{ runID int }

type verDoneMsg struct {
	runID int
	v     *modern.Verification
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			_ = m.disconnect()
			return m, tea.Quit
		}

		switch m.scr {
		case screenEntry:
			return m.updateEntryKey(msg)
		case screenCapture:
			return m.updateCaptureKey(msg)
		case screenResults:
			return m.updateResultsKey(msg)
		case screenMonitor:
			return m.updateMonitorKey(msg)
		case screenVerify:
			return m.updateVerifyKey(msg)
		}

	case errMsg:
		m.lastErr = msg.err
		switch m.scr {
		case screenCapture:
			m.capStatus = statusError
		case screenMonitor:
			m.monStatus = statusError
		case screenVerify:
			m.verStatus = statusError
		}
		return m, nil

	case jobLoadedMsg:
		m.job = msg.job
		m.jobPath = msg.path
		m.jobInput.Blur()
		m.report = nil
		m.lastErr = nil
		m.infoLine = fmt.Sprintf("Loaded %s (%d sensors)", msg.path, msg.job.SENSORS)
		return m, nil

	case connectedMsg:
		m.sess = msg.sess
		m.version = msg.version
		m.infoLine = fmt.Sprintf("Connected on %s (meter %s, %d sensors)", m.sess.Job.SERIAL.PORT, msg.version, m.sess.Job.SENSORS)
		m.lastErr = nil
		return m, nil

	case disconnectedMsg:
		m.sess = nil
		m.infoLine = "Disconnected"
		return m, nil

	case computedMsg:
		m.report = msg.report
		m.savedPath = msg.saved
		m.scr = screenResults
		m.lastErr = nil
		if msg.saved != "" {
			m.infoLine = "Report saved to " + msg.saved
		}
		return m, nil

	case capProgressMsg:
		if msg.runID != m.capRunID && msg.runID != m.verRunID {
			return m, nil
		}
		m.capUpdate = msg.u
		if msg.u.Phase == modern.CapturePhaseFinished {
			return m, nil
		}
		return m, m.waitProgress(msg.runID)

	case capStepDoneMsg:
		if msg.runID != m.capRunID {
			return m, nil
		}
		if err := modern.ApplyCapture(m.job, msg.step, msg.rows); err != nil {
			return m, func() tea.Msg { return errMsg{err: err} }
		}
		m.capStepIdx++
		m.capUpdate = modern.CaptureUpdate{}
		if m.capStepIdx >= len(m.capSteps) {
			m.capStatus = statusDone
			return m, m.computeCmd(true)
		}
		m.capStatus = statusIdle
		return m, nil

	case monFrameMsg:
		if msg.runID != m.monRunID || m.scr != screenMonitor {
			return m, nil
		}
		m.monFrame = msg.rows
		m.monLastAt = time.Now()
		return m, m.nextMonitorTick(m.modeCtx, m.monRunID)

	case monStoppedMsg:
		return m, nil

	case verDoneMsg:
		if msg.runID != m.verRunID {
			return m, nil
		}
		m.verResult = msg.v
		m.verStatus = statusDone
		return m, nil
	}

	if m.scr == screenEntry {
		var cmd tea.Cmd
		m.jobInput, cmd = m.jobInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Rotorbalance") + "\n")
	b.WriteString(helpStyle.Render("Ctrl+C to quit. 'b' to go back from a mode.") + "\n\n")
	if m.infoLine != "" {
		b.WriteString(okStyle.Render(m.infoLine) + "\n")
	}
	if m.lastErr != nil {
		b.WriteString(errStyle.Render("Error: "+m.lastErr.Error()) + "\n")
	}
	b.WriteString("\n")

	switch m.scr {
	case screenEntry:
		b.WriteString(m.viewEntry())
	case screenCapture:
		b.WriteString(m.viewCapture())
	case screenResults:
		b.WriteString(m.viewResults())
	case screenMonitor:
		b.WriteString(m.viewMonitor())
	case screenVerify:
		b.WriteString(m.viewVerify())
	}
	return b.String()
}

func (m model) viewEntry() string {
	var b strings.Builder
	b.WriteString("Job file:\n")
	b.WriteString(m.jobInput.View() + "\n\n")
	if m.job == nil {
		b.WriteString(helpStyle.Render("Enter a job path then press Enter to load it.") + "\n")
		return b.String()
	}
	b.WriteString("Select:\n")
	b.WriteString("  c) Compute from the tables in the job\n")
	if m.sess == nil {
		b.WriteString("  m) Connect to the vibration meter\n")
	} else {
		b.WriteString("  1) Capture R0/R1/R2 from the meter\n")
		b.WriteString("  2) Monitor (live vibration)\n")
		if m.report != nil {
			b.WriteString("  3) Check run with corrections mounted\n")
		}
		b.WriteString("  d) Disconnect\n")
	}
	if m.report != nil {
		b.WriteString("  r) Last results\n")
	}
	b.WriteString(helpStyle.Render("Esc to pick another job.") + "\n")
	return b.String()
}

func progressLine(u modern.CaptureUpdate) string {
	switch u.Phase {
	case modern.CapturePhaseIgnoring:
		return fmt.Sprintf("Warm-up frames %d/%d", u.IgnoreDone, u.IgnoreTarget)
	case modern.CapturePhaseLive, modern.CapturePhaseFinished:
		return "Frame captured"
	}
	return "Waiting for meter..."
}

func (m model) viewCapture() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Capture") + "\n\n")
	if m.capStepIdx >= len(m.capSteps) {
		b.WriteString("Computing...\n")
		return b.String()
	}
	step := m.capSteps[m.capStepIdx]
	b.WriteString(step.Label + " " + step.Prompt + "\n\n")
	if m.capStatus == statusRunning {
		b.WriteString(progressLine(m.capUpdate) + "\n")
		if m.capUpdate.Err != nil {
			b.WriteString(errStyle.Render("meter: "+m.capUpdate.Err.Error()) + "\n")
		}
	} else {
		b.WriteString(helpStyle.Render("Press Enter to capture this run. Press b to go back.") + "\n")
	}
	return b.String()
}

func (m model) viewResults() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Results") + "\n\n")
	if m.report == nil {
		return b.String()
	}
	r := m.report
	b.WriteString(ui.PlaneTable(r.Planes) + "\n\n")
	b.WriteString(fmt.Sprintf("Predicted residual: %.6g\n", r.ResidualNorm))
	if r.Underdetermined {
		b.WriteString(errStyle.Render("Single sensor: minimum-norm correction shown") + "\n")
	}
	if r.Curves != nil {
		b.WriteString(fmt.Sprintf("\nResidual vs angle at %.0f mm:\n", r.Curves.FixedRadiusM*1000))
		for _, pc := range r.Curves.Planes {
			ys := make([]float64, len(pc.ResidualVsAngle))
			for i, p := range pc.ResidualVsAngle {
				ys[i] = p.Y
			}
			b.WriteString(fmt.Sprintf("  plane %d  %s\n", pc.Plane, ui.Sparkline(ys, 60)))
		}
	}
	b.WriteString("\n" + helpStyle.Render("Press s to save the report. Press b to go back.") + "\n")
	return b.String()
}

func (m model) viewMonitor() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Monitor (live vibration)") + "\n\n")
	if m.monFrame == nil {
		b.WriteString("Waiting for meter...\n")
	}
	for i, r := range m.monFrame {
		if r == nil {
			continue
		}
		b.WriteString(fmt.Sprintf("  CH%d: %8.3f @ %6.1f°\n", i+1, r.AMPLITUDE, r.PHASE))
	}
	if !m.monLastAt.IsZero() {
		b.WriteString(helpStyle.Render("updated "+m.monLastAt.Format("15:04:05.000")) + "\n")
	}
	b.WriteString(helpStyle.Render("Press b to go back (stops polling).") + "\n")
	return b.String()
}

func (m model) viewVerify() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Check run") + "\n\n")
	switch m.verStatus {
	case statusIdle:
		b.WriteString("Mount the corrections, bring the rotor to speed, then press Enter.\n")
	case statusRunning:
		b.WriteString(progressLine(m.capUpdate) + "\n")
	case statusDone:
		v := m.verResult
		b.WriteString(fmt.Sprintf("Baseline:  %.6g\nPredicted: %.6g\nMeasured:  %.6g\n", v.BaselineNorm, v.PredictedNorm, v.MeasuredNorm))
		b.WriteString(okStyle.Render(fmt.Sprintf("Vibration reduced by %.1f%%", v.Reduction*100)) + "\n")
	}
	b.WriteString(helpStyle.Render("Press b to go back.") + "\n")
	return b.String()
}

func (m *model) disconnect() error {
	m.stopMode()
	if m.sess != nil {
		_ = m.sess.Close()
		m.sess = nil
	}
	return nil
}

func (m *model) stopMode() {
	if m.modeCancel != nil {
		m.modeCancel()
		m.modeCancel = nil
	}
	m.modeCtx = nil
}

func (m *model) startMode() {
	m.stopMode()
	m.modeCtx, m.modeCancel = context.WithCancel(context.Background())
}

func (m model) updateEntryKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "enter":
		path := strings.TrimSpace(m.jobInput.Value())
		if path == "" {
			return m, func() tea.Msg { return errMsg{err: fmt.Errorf("job path is empty")} }
		}
		return m, loadJobCmd(path)
	}
	if m.job == nil {
		var cmd tea.Cmd
		m.jobInput, cmd = m.jobInput.Update(k)
		return m, cmd
	}

	switch k.String() {
	case "esc":
		// back to editing the path
		_ = m.disconnect()
		m.job = nil
		m.report = nil
		m.infoLine = ""
		m.jobInput.Focus()
		return m, textinput.Blink
	case "c":
		return m, m.computeCmd(false)
	case "r":
		if m.report != nil {
			m.scr = screenResults
		}
		return m, nil
	case "m":
		if m.sess != nil {
			return m, nil
		}
		return m, m.connectCmd()
	case "1":
		if m.sess == nil {
			return m, nil
		}
		steps, err := modern.BuildCapturePlan(m.job)
		if err != nil {
			return m, func() tea.Msg { return errMsg{err: err} }
		}
		m.startMode()
		m.capRunID++
		m.capSteps = steps
		m.capStepIdx = 0
		m.capStatus = statusIdle
		m.scr = screenCapture
		return m, nil
	case "2":
		if m.sess == nil {
			return m, nil
		}
		m.startMode()
		m.monRunID++
		m.monFrame = nil
		m.monStatus = statusRunning
		m.scr = screenMonitor
		return m, m.nextMonitorTick(m.modeCtx, m.monRunID)
	case "3":
		if m.sess == nil || m.report == nil {
			return m, nil
		}
		m.startMode()
		m.verRunID++
		m.verStatus = statusIdle
		m.verResult = nil
		m.scr = screenVerify
		return m, nil
	case "d":
		_ = m.disconnect()
		return m, func() tea.Msg { return disconnectedMsg{} }
	}
	return m, nil
}

func (m model) updateCaptureKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "b":
		m.stopMode()
		m.capRunID++
		m.scr = screenEntry
		m.capStatus = statusIdle
		return m, nil
	case "enter":
		if m.capStatus == statusRunning || m.capStepIdx >= len(m.capSteps) {
			return m, nil
		}
		if m.sess == nil {
			return m, func() tea.Msg { return errMsg{err: fmt.Errorf("not connected")} }
		}
		m.capStatus = statusRunning
		step := m.capSteps[m.capStepIdx]
		return m, tea.Batch(m.captureStepCmd(m.modeCtx, m.capRunID, step), m.waitProgress(m.capRunID))
	}
	return m, nil
}

func (m model) updateResultsKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "b":
		m.scr = screenEntry
		return m, nil
	case "s":
		if m.report == nil {
			return m, nil
		}
		path := modern.ResultPath(m.jobPath)
		if err := modern.SaveReportJSON(path, m.report); err != nil {
			return m, func() tea.Msg { return errMsg{err: err} }
		}
		m.savedPath = path
		m.infoLine = "Report saved to " + path
		return m, nil
	}
	return m, nil
}

func (m model) updateMonitorKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	if k.String() == "b" {
		m.stopMode()
		m.monRunID++
		m.scr = screenEntry
		m.monStatus = statusIdle
	}
	return m, nil
}

func (m model) updateVerifyKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "b":
		m.stopMode()
		m.verRunID++
		m.scr = screenEntry
		m.verStatus = statusIdle
		return m, nil
	case "enter":
		if m.verStatus == statusRunning || m.sess == nil || m.report == nil {
			return m, nil
		}
		m.verStatus = statusRunning
		return m, tea.Batch(m.verifyCmd(m.modeCtx, m.verRunID), m.waitProgress(m.verRunID))
	}
	return m, nil
}

func loadJobCmd(path string) tea.Cmd {
	return func() tea.Msg {
		j, err := modern.LoadJob(path)
		if err != nil {
			return errMsg{err: err}
		}
		return jobLoadedMsg{job: j, path: path}
	}
}

func (m model) connectCmd() tea.Cmd {
	job, path := m.job, m.jobPath
	return func() tea.Msg {
		if _, err := modern.EnsureSerialPort(path, job, true); err != nil {
			return errMsg{err: err}
		}
		sess, err := modern.Connect(job)
		if err != nil {
			return errMsg{err: err}
		}
		version, err := modern.ProbeVersion(sess)
		if err != nil {
			_ = sess.Close()
			return errMsg{err: err}
		}
		return connectedMsg{sess: sess, version: version}
	}
}

// computeCmd runs the engine; captured jobs are written back and saved
// with their report.
func (m model) computeCmd(save bool) tea.Cmd {
	job, path, sweep := m.job, m.jobPath, m.sweep
	return func() tea.Msg {
		rep, err := modern.Compute(job, sweep)
		if err != nil {
			return errMsg{err: err}
		}
		if !save {
			return computedMsg{report: rep}
		}
		if err := modern.PersistJob(path, job); err != nil {
			return errMsg{err: err}
		}
		out := modern.ResultPath(path)
		if err := modern.SaveReportJSON(out, rep); err != nil {
			return errMsg{err: err}
		}
		return computedMsg{report: rep, saved: out}
	}
}

// waitProgress relays one capture update from the worker to the model.
func (m model) waitProgress(runID int) tea.Cmd {
	ch := m.progress
	return func() tea.Msg {
		return capProgressMsg{runID: runID, u: <-ch}
	}
}

func (m model) sendProgress(u modern.CaptureUpdate) {
	select {
	case m.progress <- u:
	default:
	}
}

func (m model) captureStepCmd(ctx context.Context, runID int, step modern.CaptureStep) tea.Cmd {
	sess, ignore := m.sess, m.job.IGNORE
	return func() tea.Msg {
		if ctx == nil {
			return errMsg{err: fmt.Errorf("mode context not set")}
		}
		rows, err := modern.CaptureRun(ctx, sess.Meter, ignore, m.sendProgress)
		if err != nil {
			return errMsg{err: err}
		}
		return capStepDoneMsg{runID: runID, step: step, rows: rows}
	}
}

func (m model) verifyCmd(ctx context.Context, runID int) tea.Cmd {
	sess, ignore, rep := m.sess, m.job.IGNORE, m.report
	return func() tea.Msg {
		if ctx == nil {
			return errMsg{err: fmt.Errorf("mode context not set")}
		}
		v, err := modern.VerifyCorrection(ctx, sess.Meter, ignore, rep, m.sendProgress)
		if err != nil {
			return errMsg{err: err}
		}
		return verDoneMsg{runID: runID, v: v}
	}
}

func (m model) nextMonitorTick(ctx context.Context, runID int) tea.Cmd {
	sess := m.sess
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		if ctx == nil {
			return monStoppedMsg{runID: runID}
		}
		select {
		case <-ctx.Done():
			return monStoppedMsg{runID: runID}
		default:
		}
		if sess == nil {
			return errMsg{err: fmt.Errorf("not connected")}
		}
		rows, err := sess.Meter.ReadFrame()
		if err != nil {
			return errMsg{err: err}
		}
		return monFrameMsg{runID: runID, rows: rows}
	})
}

func main() {
	fs := flag.NewFlagSet("modernui", flag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])
	cfg, err := config.Load(fs, "")
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}

	p := tea.NewProgram(initialModel(fs.Arg(0), cfg.Sweep), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
