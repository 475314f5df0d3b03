package modern

import (
	"context"
	"fmt"
	"time"

	"github.com/CK6170/Rotorbalance-go/models"
)

// FrameReader is anything that yields one amplitude/phase frame per call;
// *serial.Meter in production.
type FrameReader interface {
	ReadFrame() ([]*models.READING, error)
}

type CapturePhase string

const (
	CapturePhaseLive     CapturePhase = "live"
	CapturePhaseIgnoring CapturePhase = "ignoring"
	CapturePhaseFinished CapturePhase = "finished"
)

type CaptureUpdate struct {
	Phase        CapturePhase
	IgnoreDone   int
	IgnoreTarget int
	// Current is the latest frame, nil when the meter did not answer.
	Current []*models.READING
	// Final is set once Phase == finished.
	Final []*models.READING
	Err   error
}

// frameGap paces consecutive meter requests.
var frameGap = 5 * time.Millisecond

// MaxFrameErrors is how many failed reads in a row abort a capture.
const MaxFrameErrors = 10

// CaptureRun discards ignoreTarget warm-up frames and returns the next good
// one. Failed reads are reported and retried, up to MaxFrameErrors in a row.
func CaptureRun(
	ctx context.Context,
	meter FrameReader,
	ignoreTarget int,
	onUpdate func(CaptureUpdate),
) ([]*models.READING, error) {
	if meter == nil {
		return nil, fmt.Errorf("meter not connected")
	}
	if ignoreTarget < 0 {
		ignoreTarget = 0
	}
	notify := func(u CaptureUpdate) {
		if onUpdate != nil {
			u.IgnoreTarget = ignoreTarget
			onUpdate(u)
		}
	}

	readOnce := func() ([]*models.READING, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rows, err := meter.ReadFrame()
		if err != nil {
			return nil, err
		}
		return rows, nil
	}

	ignoreDone := 0
	failures := 0
	phase := CapturePhaseIgnoring
	for {
		rows, err := readOnce()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			failures++
			notify(CaptureUpdate{Phase: phase, IgnoreDone: ignoreDone, Err: err})
			if failures >= MaxFrameErrors {
				return nil, fmt.Errorf("meter read failed %d times: %w", failures, err)
			}
			time.Sleep(frameGap)
			continue
		}
		failures = 0
		if ignoreDone < ignoreTarget {
			ignoreDone++
			notify(CaptureUpdate{Phase: phase, IgnoreDone: ignoreDone, Current: rows})
			time.Sleep(frameGap)
			continue
		}
		notify(CaptureUpdate{Phase: CapturePhaseLive, IgnoreDone: ignoreDone, Current: rows})
		notify(CaptureUpdate{Phase: CapturePhaseFinished, IgnoreDone: ignoreDone, Final: rows})
		return rows, nil
	}
}
