// Package phases drives the scanner's individual scan phases (spider crawl,
// AJAX crawl, passive wait, active attack scan) to completion. Each runner
// starts its phase through the control API and then polls status at a bounded
// interval with a bounded total wait, tolerating transient transport failures
// and stalled progress without aborting prematurely.
package phases

import (
	"context"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/zapclient"
)

// Caller performs a single named action/view call against the scanner's
// control API. *zapclient.Client satisfies it; tests substitute scripted
// stubs.
type Caller interface {
	Invoke(ctx context.Context, path string, params map[string]string, sessionID string) (zapclient.Result, error)
}

// ProgressFunc receives rate-limited progress reports from a running phase.
// Implementations must not assume they are called for every poll; they fire
// only when the percentage crosses a reporting bucket.
type ProgressFunc func(phase string, pct int, message string)

// Outcome is the result of a completed percent-based phase.
type Outcome struct {
	// ID is the phase-scoped handle assigned by the scanner.
	ID string

	// Duration is the wall-clock time the phase's poll loop ran.
	Duration time.Duration
}

// scanHandle extracts the phase handle from a scan-start response. The field
// name varies across scanner versions, so accepted names are tried in order.
func scanHandle(res zapclient.Result) string {
	if id := res.First("scan", "scanid", "scanId"); id != "" {
		return id
	}
	return "0"
}

// report invokes the callback, swallowing panics so a misbehaving observer
// can never abort a running scan.
func report(logger logging.Logger, fn ProgressFunc, phase string, pct int, msg string) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("progress callback panicked",
				logging.Field{Key: "phase", Value: phase},
				logging.Field{Key: "panic", Value: r})
		}
	}()
	fn(phase, pct, msg)
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
