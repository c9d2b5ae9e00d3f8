package phases

import (
	"fmt"
	"time"
)

// TimeoutError reports that a phase did not complete within its wall-clock
// budget, or (when Cause is set) that it was abandoned after too many
// consecutive transport failures. The two cases are distinguishable through
// Cause/Unwrap.
type TimeoutError struct {
	Phase   string
	Elapsed time.Duration

	// Cause is the last transport error when the phase was abandoned at the
	// consecutive-error ceiling; nil for a plain wall-clock timeout.
	Cause error
}

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed after repeated errors (%.0fs elapsed): %v", e.Phase, e.Elapsed.Seconds(), e.Cause)
	}
	return fmt.Sprintf("%s timeout after %.0fs", e.Phase, e.Elapsed.Seconds())
}

func (e *TimeoutError) Unwrap() error { return e.Cause }
