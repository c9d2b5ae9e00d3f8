package phases

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
)

const (
	// maxBackoffSleep caps both the error backoff and the widened stall
	// interval.
	maxBackoffSleep = 30 * time.Second

	// stallThreshold is how many consecutive unchanged polls are tolerated
	// before the poll interval is widened to reduce request pressure.
	stallThreshold = 10

	// DefaultProgressStep is the reporting bucket width used when a caller
	// does not configure one.
	DefaultProgressStep = 10
)

// pollConfig parameterizes the generic percent poll loop.
type pollConfig struct {
	// phase is the phase label used in progress reports and errors.
	phase string

	// interval is the sleep between ordinary poll iterations.
	interval time.Duration

	// maxWait is the wall-clock budget measured from loop start.
	maxWait time.Duration

	// step is the progress reporting bucket width.
	step int

	// errorCeiling, when positive, abandons the phase after that many
	// consecutive transport failures regardless of remaining budget.
	errorCeiling int
}

// pollPercent polls viewPath until the returned status reaches 100 percent.
// It implements the shared loop contract: error-count-aware backoff on
// transport failures, stall detection with interval widening, and bucketed
// progress reporting. The returned duration covers the whole loop.
func pollPercent(ctx context.Context, caller Caller, viewPath string, params map[string]string, sessionID string, cfg pollConfig, onProgress ProgressFunc, logger logging.Logger) (time.Duration, error) {
	if cfg.step <= 0 {
		cfg.step = DefaultProgressStep
	}

	start := time.Now()
	consecutiveErrors := 0
	stalled := 0
	lastPct := -1
	lastBucket := -1

	for {
		res, err := caller.Invoke(ctx, viewPath, params, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return time.Since(start), ctx.Err()
			}
			consecutiveErrors++
			logger.Error("phase status check failed",
				logging.Field{Key: "phase", Value: cfg.phase},
				logging.Field{Key: "consecutive_errors", Value: consecutiveErrors},
				logging.Field{Key: "error", Value: err.Error()})

			if cfg.errorCeiling > 0 && consecutiveErrors >= cfg.errorCeiling {
				return time.Since(start), &TimeoutError{Phase: cfg.phase, Elapsed: time.Since(start), Cause: err}
			}

			sleep := scaleDuration(cfg.interval, math.Pow(1.5, float64(consecutiveErrors)))
			if sleep > maxBackoffSleep {
				sleep = maxBackoffSleep
			}
			if serr := sleepCtx(ctx, sleep); serr != nil {
				return time.Since(start), serr
			}
			if time.Since(start) > cfg.maxWait {
				return time.Since(start), &TimeoutError{Phase: cfg.phase, Elapsed: time.Since(start)}
			}
			continue
		}
		consecutiveErrors = 0

		// The scanner occasionally returns non-numeric sentinel values while
		// a phase is warming up; treat those as zero progress.
		pct, perr := strconv.Atoi(res.Str("status"))
		if perr != nil {
			pct = 0
		}

		if pct == lastPct {
			stalled++
		} else {
			stalled = 0
			lastPct = pct
		}

		if stalled > stallThreshold {
			widened := cfg.interval * 2
			if widened > maxBackoffSleep {
				widened = maxBackoffSleep
			}
			logger.Warn("phase progress stalled, widening poll interval",
				logging.Field{Key: "phase", Value: cfg.phase},
				logging.Field{Key: "progress", Value: pct},
				logging.Field{Key: "stalled_polls", Value: stalled},
				logging.Field{Key: "widened_interval", Value: widened.String()})
			if serr := sleepCtx(ctx, widened); serr != nil {
				return time.Since(start), serr
			}
			if time.Since(start) > cfg.maxWait {
				return time.Since(start), &TimeoutError{Phase: cfg.phase, Elapsed: time.Since(start)}
			}
			continue
		}

		if bucket := pct / cfg.step; bucket != lastBucket {
			lastBucket = bucket
			logger.Info("phase progress",
				logging.Field{Key: "phase", Value: cfg.phase},
				logging.Field{Key: "progress", Value: pct})
			report(logger, onProgress, cfg.phase, pct, progressMessage(cfg.phase, pct))
		}

		if pct >= 100 {
			return time.Since(start), nil
		}

		if time.Since(start) > cfg.maxWait {
			return time.Since(start), &TimeoutError{Phase: cfg.phase, Elapsed: time.Since(start)}
		}

		if serr := sleepCtx(ctx, cfg.interval); serr != nil {
			return time.Since(start), serr
		}
	}
}

func progressMessage(phase string, pct int) string {
	return phase + " progress: " + strconv.Itoa(pct) + "%"
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
