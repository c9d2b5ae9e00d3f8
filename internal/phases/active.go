package phases

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
)

// ActiveOptions parameterizes an active attack scan.
type ActiveOptions struct {
	Recurse      bool
	InScopeOnly  bool
	ScanPolicy   string
	PollInterval time.Duration
	MaxWait      time.Duration
	ProgressStep int
}

// RunActiveScan starts an active scan of target and polls it to completion.
// Unlike the spider there is no consecutive-error ceiling: active scans run
// for hours and routinely ride out scanner load spikes, so only the phase's
// wall-clock budget bounds the wait.
func RunActiveScan(ctx context.Context, caller Caller, targetURL string, opts ActiveOptions, sessionID string, onProgress ProgressFunc, logger logging.Logger) (Outcome, error) {
	params := map[string]string{
		"url":         targetURL,
		"recurse":     strconv.FormatBool(opts.Recurse),
		"inScopeOnly": strconv.FormatBool(opts.InScopeOnly),
	}
	if opts.ScanPolicy != "" {
		params["scanPolicyName"] = opts.ScanPolicy
	}

	res, err := caller.Invoke(ctx, "/JSON/ascan/action/scan/", params, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("starting active scan: %w", err)
	}
	id := scanHandle(res)

	logger.Info("active scan started",
		logging.Field{Key: "ascan_id", Value: id},
		logging.Field{Key: "policy", Value: opts.ScanPolicy},
		logging.Field{Key: "max_wait", Value: opts.MaxWait.String()})

	dur, err := pollPercent(ctx, caller, "/JSON/ascan/view/status/",
		map[string]string{"scanId": id}, sessionID,
		pollConfig{
			phase:    "active",
			interval: opts.PollInterval,
			maxWait:  opts.MaxWait,
			step:     opts.ProgressStep,
		}, onProgress, logger)
	if err != nil {
		return Outcome{ID: id, Duration: dur}, err
	}

	logger.Info("active scan completed",
		logging.Field{Key: "ascan_id", Value: id},
		logging.Field{Key: "duration", Value: dur.String()})
	return Outcome{ID: id, Duration: dur}, nil
}
