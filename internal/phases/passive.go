package phases

import (
	"context"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
)

// PassiveWait waits for the scanner's passive analysis queue to drain.
// Passive analysis runs continuously server-side, so there is nothing to
// start: the loop only polls the pending-record counter until it reaches zero
// or the timeout elapses. The timeout is soft — a non-empty queue at the
// deadline is logged, not treated as a failure. The remaining count is logged
// at most once per max(1s, 4×interval) to keep long drains quiet.
func PassiveWait(ctx context.Context, caller Caller, sessionID string, interval, timeout time.Duration, logger logging.Logger) time.Duration {
	logEvery := 4 * interval
	if logEvery < time.Second {
		logEvery = time.Second
	}

	start := time.Now()
	lastLog := start

	for {
		res, err := caller.Invoke(ctx, "/JSON/pscan/view/recordsToScan/", nil, sessionID)
		if err != nil {
			// The counter view is unavailable on some scanner configurations;
			// treat that as an empty queue rather than blocking the flow.
			logger.Warn("passive queue check failed, assuming drained",
				logging.Field{Key: "error", Value: err.Error()})
			break
		}
		remaining := res.Int("recordsToScan", 0)

		now := time.Now()
		if now.Sub(lastLog) >= logEvery {
			logger.Info("passive queue", logging.Field{Key: "remaining", Value: remaining})
			lastLog = now
		}

		if remaining <= 0 {
			break
		}
		if now.Sub(start) > timeout {
			logger.Warn("passive wait timeout",
				logging.Field{Key: "remaining", Value: remaining},
				logging.Field{Key: "waited", Value: now.Sub(start).String()})
			break
		}
		if sleepCtx(ctx, interval) != nil {
			break
		}
	}
	return time.Since(start)
}

// EnablePassiveScanning turns the passive analysis engine on and enables all
// of its sub-scanners. The passive flow depends on this succeeding.
func EnablePassiveScanning(ctx context.Context, caller Caller, sessionID string) error {
	if _, err := caller.Invoke(ctx, "/JSON/pscan/action/setEnabled/", map[string]string{"enabled": "true"}, sessionID); err != nil {
		return err
	}
	if _, err := caller.Invoke(ctx, "/JSON/pscan/action/enableAllScanners/", nil, sessionID); err != nil {
		return err
	}
	return nil
}
