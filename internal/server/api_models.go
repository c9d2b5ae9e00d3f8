package server

import (
	"time"

	"github.com/zapgate/zapgate/internal/flow"
)

// StartScanRequest is the payload accepted by every POST /scans/{mode}
// route. Fields that are irrelevant to the chosen mode are ignored.
// Pointer fields distinguish "absent" from "explicitly false/zero" so that
// defaults that are true survive an empty body.
type StartScanRequest struct {
	TargetURL string `json:"target_url" example:"http://localhost:3000"`

	Recurse         *bool  `json:"recurse,omitempty"`
	InScopeOnly     bool   `json:"in_scope_only,omitempty"`
	ScanPolicy      string `json:"scan_policy,omitempty"`
	IncludeFindings *bool  `json:"include_findings,omitempty"`
	IncludeEvidence bool   `json:"include_evidence,omitempty"`
	WaitForPassive  *bool  `json:"wait_for_passive,omitempty"`

	PollIntervalSeconds        float64 `json:"poll_interval,omitempty"`
	PassivePollIntervalSeconds float64 `json:"passive_poll_interval,omitempty"`
	SpiderMaxWaitSeconds       int     `json:"spider_max_wait,omitempty"`
	ActiveMaxWaitSeconds       int     `json:"active_max_wait,omitempty"`
	PassiveTimeoutSeconds      int     `json:"passive_timeout,omitempty"`

	// Browser-crawl tuning.
	MaxCrawlDepth      *int   `json:"max_crawl_depth,omitempty"`
	MaxCrawlStates     *int   `json:"max_crawl_states,omitempty"`
	MaxDurationMinutes *int   `json:"max_duration,omitempty"`
	EventWaitMillis    *int   `json:"event_wait,omitempty"`
	ReloadWaitMillis   *int   `json:"reload_wait,omitempty"`
	ClickDefaultElems  *bool  `json:"click_default_elems,omitempty"`
	ClickElemsOnce     *bool  `json:"click_elems_once,omitempty"`
	NumberOfBrowsers   *int   `json:"number_of_browsers,omitempty"`
	BrowserID          string `json:"browser_id,omitempty"`
	AjaxWaitSeconds    int    `json:"ajax_wait,omitempty"`
}

// Options converts the request into orchestrator options for the given scan
// mode, filling every absent field with its default. poll_interval steers the
// primary poll loop of whichever mode runs: for passive scans that loop is the
// record-queue wait, for ajax scans the crawl status poll. passive_poll_interval
// tunes the passive wait independently and wins when both are given.
func (req *StartScanRequest) Options(mode string) flow.Options {
	opts := flow.DefaultOptions()

	if req.Recurse != nil {
		opts.Recurse = *req.Recurse
	}
	opts.InScopeOnly = req.InScopeOnly
	opts.ScanPolicy = req.ScanPolicy
	if req.IncludeFindings != nil {
		opts.IncludeFindings = *req.IncludeFindings
	}
	opts.IncludeEvidence = req.IncludeEvidence
	if req.WaitForPassive != nil {
		opts.WaitForPassive = *req.WaitForPassive
	}

	if req.PollIntervalSeconds > 0 {
		iv := time.Duration(req.PollIntervalSeconds * float64(time.Second))
		opts.PollInterval = iv
		opts.Ajax.PollInterval = iv
		if mode == flow.ModePassive {
			opts.PassiveInterval = iv
		}
	}
	if req.PassivePollIntervalSeconds > 0 {
		opts.PassiveInterval = time.Duration(req.PassivePollIntervalSeconds * float64(time.Second))
	}
	if req.SpiderMaxWaitSeconds > 0 {
		opts.SpiderMaxWait = time.Duration(req.SpiderMaxWaitSeconds) * time.Second
	}
	if req.ActiveMaxWaitSeconds > 0 {
		opts.ActiveMaxWait = time.Duration(req.ActiveMaxWaitSeconds) * time.Second
	}
	if req.PassiveTimeoutSeconds > 0 {
		opts.PassiveTimeout = time.Duration(req.PassiveTimeoutSeconds) * time.Second
	}

	if req.MaxCrawlDepth != nil {
		opts.Ajax.MaxCrawlDepth = *req.MaxCrawlDepth
	}
	if req.MaxCrawlStates != nil {
		opts.Ajax.MaxCrawlStates = *req.MaxCrawlStates
	}
	if req.MaxDurationMinutes != nil {
		opts.Ajax.MaxDuration = *req.MaxDurationMinutes
	}
	if req.EventWaitMillis != nil {
		opts.Ajax.EventWait = *req.EventWaitMillis
	}
	if req.ReloadWaitMillis != nil {
		opts.Ajax.ReloadWait = *req.ReloadWaitMillis
	}
	if req.ClickDefaultElems != nil {
		opts.Ajax.ClickDefaultElems = *req.ClickDefaultElems
	}
	if req.ClickElemsOnce != nil {
		opts.Ajax.ClickElemsOnce = *req.ClickElemsOnce
	}
	if req.NumberOfBrowsers != nil {
		opts.Ajax.NumberOfBrowsers = *req.NumberOfBrowsers
	}
	if req.BrowserID != "" {
		opts.Ajax.BrowserID = req.BrowserID
	}
	if req.AjaxWaitSeconds > 0 {
		opts.Ajax.Wait = time.Duration(req.AjaxWaitSeconds) * time.Second
	}

	return opts
}

// StartScanResponse acknowledges an accepted scan.
type StartScanResponse struct {
	ScanID  string `json:"scan_id" example:"1a2b3c4d"`
	Status  string `json:"status" example:"started"`
	Message string `json:"message" example:"Active scan started for http://localhost:3000"`
}

// NewSessionRequest optionally names the session to create.
type NewSessionRequest struct {
	Name string `json:"name,omitempty" example:"nightly_run"`
}

// NewSessionResponse reports the session created on the scanner.
type NewSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// CancelScanResponse reports the outcome of a cancellation request.
type CancelScanResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse reports reachability of the backing scanner.
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Version string `json:"version,omitempty" example:"2.15.0"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
