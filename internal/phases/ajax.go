package phases

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
)

// minAjaxPoll is the floor for the AJAX status poll interval.
const minAjaxPoll = 200 * time.Millisecond

// ajaxTerminal are the status strings that end the AJAX crawl wait.
var ajaxTerminal = map[string]bool{
	"stopped":  true,
	"complete": true,
	"finished": true,
}

// AjaxOptions parameterizes an AJAX-driven crawl. The option fields are
// pushed to the scanner individually before the crawl starts; a failed push
// is logged and the crawl proceeds with the scanner's own default for that
// option.
type AjaxOptions struct {
	MaxCrawlDepth     int
	MaxCrawlStates    int
	MaxDuration       int // minutes, scanner-side cap
	EventWait         int // milliseconds
	ReloadWait        int // milliseconds
	ClickDefaultElems bool
	ClickElemsOnce    bool
	NumberOfBrowsers  int
	BrowserID         string

	// Wait bounds the client-side wait for a terminal status.
	Wait         time.Duration
	PollInterval time.Duration
}

// DefaultAjaxOptions returns the crawl configuration used when the caller
// supplies nothing.
func DefaultAjaxOptions() AjaxOptions {
	return AjaxOptions{
		MaxCrawlDepth:     10,
		MaxCrawlStates:    0, // unlimited
		MaxDuration:       60,
		EventWait:         1000,
		ReloadWait:        1000,
		ClickDefaultElems: true,
		ClickElemsOnce:    true,
		NumberOfBrowsers:  1,
		BrowserID:         "firefox-headless",
		Wait:              5 * time.Minute,
		PollInterval:      1 * time.Second,
	}
}

// AjaxOutcome is the result of an AJAX crawl. Started stays true even when
// the crawl never reached a terminal status within the wait budget: a partial
// AJAX crawl still enriches the scanner's URL tree and is deliberately
// reported as success.
type AjaxOutcome struct {
	Started  bool
	Duration time.Duration
	Results  int
}

// RunAjaxCrawl configures and starts the scanner's AJAX crawler against
// target, then polls until a terminal status or the wait deadline. On
// deadline it issues a best-effort stop so the scanner does not keep crawling
// unattended.
func RunAjaxCrawl(ctx context.Context, caller Caller, targetURL string, opts AjaxOptions, sessionID string, logger logging.Logger) (AjaxOutcome, error) {
	browser := opts.BrowserID
	if browser == "" {
		browser = "firefox-headless"
	}
	logger.Info("configuring ajax crawl",
		logging.Field{Key: "target", Value: targetURL},
		logging.Field{Key: "browser_id", Value: browser})

	setOpt := func(path, paramName, value string) {
		if _, err := caller.Invoke(ctx, path, map[string]string{paramName: value}, sessionID); err != nil {
			logger.Warn("ajax option push failed, scanner default applies",
				logging.Field{Key: "path", Value: path},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	setOpt("/JSON/ajaxSpider/action/setOptionBrowserId/", "String", browser)
	setOpt("/JSON/ajaxSpider/action/setOptionMaxCrawlDepth/", "Integer", strconv.Itoa(opts.MaxCrawlDepth))
	setOpt("/JSON/ajaxSpider/action/setOptionMaxCrawlStates/", "Integer", strconv.Itoa(opts.MaxCrawlStates))
	setOpt("/JSON/ajaxSpider/action/setOptionMaxDuration/", "Integer", strconv.Itoa(opts.MaxDuration))
	setOpt("/JSON/ajaxSpider/action/setOptionEventWait/", "Integer", strconv.Itoa(opts.EventWait))
	setOpt("/JSON/ajaxSpider/action/setOptionReloadWait/", "Integer", strconv.Itoa(opts.ReloadWait))
	setOpt("/JSON/ajaxSpider/action/setOptionClickDefaultElems/", "Boolean", strconv.FormatBool(opts.ClickDefaultElems))
	setOpt("/JSON/ajaxSpider/action/setOptionClickElemsOnce/", "Boolean", strconv.FormatBool(opts.ClickElemsOnce))
	setOpt("/JSON/ajaxSpider/action/setOptionNumberOfBrowsers/", "Integer", strconv.Itoa(opts.NumberOfBrowsers))

	start := time.Now()
	_, err := caller.Invoke(ctx, "/JSON/ajaxSpider/action/scan/", map[string]string{
		"url":         targetURL,
		"inScope":     "false",
		"subtreeOnly": "true",
	}, sessionID)
	if err != nil {
		logger.Error("ajax crawl start failed", logging.Field{Key: "error", Value: err.Error()})
		return AjaxOutcome{}, nil
	}

	interval := opts.PollInterval
	if interval < minAjaxPoll {
		interval = minAjaxPoll
	}
	deadline := start.Add(opts.Wait)

	status := ""
	results := 0
	for time.Now().Before(deadline) {
		res, err := caller.Invoke(ctx, "/JSON/ajaxSpider/view/status/", nil, sessionID)
		if err == nil {
			status = strings.ToLower(res.Str("status"))
			if nr, err := caller.Invoke(ctx, "/JSON/ajaxSpider/view/numberOfResults/", nil, sessionID); err == nil {
				results = nr.Int("numberOfResults", results)
			}
		}
		if ajaxTerminal[status] {
			break
		}
		if serr := sleepCtx(ctx, interval); serr != nil {
			return AjaxOutcome{Started: true, Duration: time.Since(start), Results: results}, serr
		}
	}

	if !ajaxTerminal[status] {
		logger.Warn("ajax crawl did not reach a terminal status, stopping it",
			logging.Field{Key: "last_status", Value: status},
			logging.Field{Key: "waited", Value: time.Since(start).String()})
		// Best effort; the crawl result is usable either way.
		_, _ = caller.Invoke(ctx, "/JSON/ajaxSpider/action/stop/", nil, sessionID)
	}

	out := AjaxOutcome{Started: true, Duration: time.Since(start), Results: results}
	logger.Info("ajax crawl finished",
		logging.Field{Key: "status", Value: status},
		logging.Field{Key: "results", Value: out.Results},
		logging.Field{Key: "duration", Value: out.Duration.String()})
	return out, nil
}
