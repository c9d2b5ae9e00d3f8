package phases

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
)

// spiderErrorCeiling abandons the spider after this many consecutive failed
// status checks. The spider runs early in every flow, so a scanner that never
// answers should fail fast instead of burning the whole phase budget.
const spiderErrorCeiling = 20

// SpiderOptions parameterizes a traditional spider crawl.
type SpiderOptions struct {
	Recurse      bool
	InScopeOnly  bool
	PollInterval time.Duration
	MaxWait      time.Duration
	ProgressStep int
}

// RunSpider starts a spider crawl of target and polls it to completion.
func RunSpider(ctx context.Context, caller Caller, targetURL string, opts SpiderOptions, sessionID string, onProgress ProgressFunc, logger logging.Logger) (Outcome, error) {
	logger.Info("starting spider",
		logging.Field{Key: "target", Value: targetURL},
		logging.Field{Key: "recurse", Value: opts.Recurse},
		logging.Field{Key: "in_scope_only", Value: opts.InScopeOnly},
		logging.Field{Key: "max_wait", Value: opts.MaxWait.String()})

	res, err := caller.Invoke(ctx, "/JSON/spider/action/scan/", map[string]string{
		"url":         targetURL,
		"recurse":     strconv.FormatBool(opts.Recurse),
		"inScopeOnly": strconv.FormatBool(opts.InScopeOnly),
	}, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("starting spider: %w", err)
	}
	id := scanHandle(res)

	logger.Info("spider started", logging.Field{Key: "spider_id", Value: id})

	dur, err := pollPercent(ctx, caller, "/JSON/spider/view/status/",
		map[string]string{"scanId": id}, sessionID,
		pollConfig{
			phase:        "spider",
			interval:     opts.PollInterval,
			maxWait:      opts.MaxWait,
			step:         opts.ProgressStep,
			errorCeiling: spiderErrorCeiling,
		}, onProgress, logger)
	if err != nil {
		return Outcome{ID: id, Duration: dur}, err
	}

	logger.Info("spider completed",
		logging.Field{Key: "spider_id", Value: id},
		logging.Field{Key: "duration", Value: dur.String()})
	return Outcome{ID: id, Duration: dur}, nil
}
