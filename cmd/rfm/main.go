package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	flag "github.com/spf13/pflag"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/internal/config"
	"github.com/CK6170/Rotorbalance-go/models"
	"github.com/CK6170/Rotorbalance-go/modern"
	"github.com/CK6170/Rotorbalance-go/ui"
)

func main() {
	fs := flag.NewFlagSet("rfm", flag.ExitOnError)
	config.RegisterFlags(fs)
	capture := fs.Bool("capture", false, "measure R0/R1/R2 from the meter before computing")
	verify := fs.Bool("verify", false, "after computing, take a check run with the corrections mounted")
	noSave := fs.Bool("no-save", false, "do not write the _balanced.json report")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: rfm [flags] <job.json|job.yaml>\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	jobPath := fs.Arg(0)

	cfg, err := config.Load(fs, "")
	if err != nil {
		ui.Failf("%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, jobPath, cfg, *capture, *verify, !*noSave); err != nil {
		ui.Failf("%v\n", err)
		if k := balance.Kind(err); k != "" {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, jobPath string, cfg *config.Config, capture, verify, save bool) error {
	job, err := modern.LoadJob(jobPath)
	if err != nil {
		return err
	}
	debug := job.DEBUG || cfg.Debug
	ui.Debugf(debug, "Loaded job: %s (%d sensors)\n", jobPath, job.SENSORS)

	var sess *modern.Session
	if capture || verify {
		sess, err = connect(jobPath, job, debug)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Close() }()
	}

	if capture {
		if err := captureRuns(ctx, sess, job); err != nil {
			return err
		}
		if err := modern.PersistJob(jobPath, job); err != nil {
			return err
		}
		ui.Debugf(debug, "Captured tables saved to %s\n", jobPath)
	}

	rep, err := modern.Compute(job, cfg.Sweep)
	if err != nil {
		return err
	}
	printReport(rep, debug)

	if save {
		out := modern.ResultPath(jobPath)
		if err := modern.SaveReportJSON(out, rep); err != nil {
			return err
		}
		ui.Greenf("Report saved to %s\n", out)
	}

	if verify {
		return checkRun(ctx, sess, job, rep)
	}
	return nil
}

func connect(jobPath string, job *models.JOB, debug bool) (*modern.Session, error) {
	changed, err := modern.EnsureSerialPort(jobPath, job, true)
	if err != nil {
		return nil, err
	}
	if changed {
		ui.Debugf(debug, "Detected serial port: %s (saved to job)\n", job.SERIAL.PORT)
	}
	sess, err := modern.Connect(job)
	if err != nil {
		return nil, err
	}
	version, err := modern.ProbeVersion(sess)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("meter on %s did not answer: %w", job.SERIAL.PORT, err)
	}
	ui.Greenf("Meter %s on %s\n", version, job.SERIAL.PORT)
	return sess, nil
}

func progress(debug bool) func(modern.CaptureUpdate) {
	return func(u modern.CaptureUpdate) {
		switch {
		case u.Err != nil:
			ui.Warningf("meter: %v\n", u.Err)
		case u.Phase == modern.CapturePhaseIgnoring:
			ui.Debugf(debug, "warm-up %d/%d\n", u.IgnoreDone, u.IgnoreTarget)
		}
	}
}

func captureRuns(ctx context.Context, sess *modern.Session, job *models.JOB) error {
	steps, err := modern.BuildCapturePlan(job)
	if err != nil {
		return err
	}
	for _, step := range steps {
		fmt.Fprintln(ui.Out)
		ui.Greenf("%s %s\n", step.Label, step.Prompt)
		ui.Greenf("Press <Enter> when the rotor is at speed. Or <ESC> to exit.\n")
		ui.DrainKeys()
		if !ui.WaitEnter() {
			return fmt.Errorf("capture cancelled")
		}
		rows, err := modern.CaptureRun(ctx, sess.Meter, job.IGNORE, progress(job.DEBUG))
		if err != nil {
			return fmt.Errorf("%s: %w", step.Label, err)
		}
		if err := modern.ApplyCapture(job, step, rows); err != nil {
			return err
		}
		printReadings(rows)
	}
	fmt.Fprintln(ui.Out)
	return nil
}

func checkRun(ctx context.Context, sess *modern.Session, job *models.JOB, rep *modern.Report) error {
	fmt.Fprintln(ui.Out)
	ui.Greenf("Mount the corrections, bring the rotor to speed and press <Enter>. Or <ESC> to skip.\n")
	ui.DrainKeys()
	if !ui.WaitEnter() {
		return nil
	}
	v, err := modern.VerifyCorrection(ctx, sess.Meter, job.IGNORE, rep, progress(job.DEBUG))
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "Baseline:  %.6g\nPredicted: %.6g\nMeasured:  %.6g\n", v.BaselineNorm, v.PredictedNorm, v.MeasuredNorm)
	if v.Reduction > 0 {
		ui.Greenf("Vibration reduced by %.1f%%\n", v.Reduction*100)
	} else {
		ui.Warningf("Vibration not reduced (%.1f%%)\n", v.Reduction*100)
	}
	return nil
}

func printReadings(rows []*models.READING) {
	for i, r := range rows {
		fmt.Fprintf(ui.Out, "  CH%d  %10.4f @ %6.1f°\n", i+1, r.AMPLITUDE, r.PHASE)
	}
}

func printReport(rep *modern.Report, debug bool) {
	fmt.Fprintln(ui.Out, ui.PlaneTable(rep.Planes))
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "Predicted residual: %.6g\n", rep.ResidualNorm)
	if rep.Underdetermined {
		ui.Warningf("Single sensor: minimum-norm correction shown\n")
	}
	if debug {
		ui.Debugf(true, "rank %d\n", rep.Rank)
		for i, row := range rep.H {
			for k, z := range row {
				ui.Debugf(true, "H[%d][%d] = %.6g @ %.2f°\n", i, k, z.Magnitude, z.PhaseDeg)
			}
		}
	}
	if rep.Curves != nil {
		fmt.Fprintf(ui.Out, "\nResidual vs angle at %.0f mm:\n", rep.Curves.FixedRadiusM*1000)
		for _, pc := range rep.Curves.Planes {
			ys := make([]float64, len(pc.ResidualVsAngle))
			for i, p := range pc.ResidualVsAngle {
				ys[i] = p.Y
			}
			fmt.Fprintf(ui.Out, "  plane %d  %s\n", pc.Plane, ui.Sparkline(ys, 60))
		}
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, rep.Summary)
}
