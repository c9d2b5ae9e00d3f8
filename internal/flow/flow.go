// Package flow sequences scan phases into the four supported scan modes and
// aggregates their results into a single report. Phase ordering per mode is
// fixed: later phases depend on scanner state accumulated by earlier ones.
// Whether a phase failure aborts the flow is declared per step, not buried in
// scattered error handling.
package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/zapgate/zapgate/internal/alerts"
	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/phases"
	"github.com/zapgate/zapgate/internal/session"
	"github.com/zapgate/zapgate/internal/target"
	"github.com/zapgate/zapgate/internal/zapclient"
)

// Scan modes.
const (
	ModeActive   = "active"
	ModeComplete = "complete"
	ModePassive  = "passive"
	ModeAjax     = "ajax"
)

// Best-effort spider runs are time-capped independently of the caller's
// spider budget so a slow crawl cannot eat the main phase's time.
const (
	activeSpiderCap = 10 * time.Minute
	ajaxSpiderCap   = 5 * time.Minute
)

// ValidMode reports whether mode names a supported scan flow.
func ValidMode(mode string) bool {
	switch mode {
	case ModeActive, ModeComplete, ModePassive, ModeAjax:
		return true
	}
	return false
}

// Caller performs a single named action/view call against the scanner's
// control API.
type Caller interface {
	Invoke(ctx context.Context, path string, params map[string]string, sessionID string) (zapclient.Result, error)
}

// Options carries every per-scan parameter. Mode-specific fields are ignored
// by flows that do not use them.
type Options struct {
	Recurse     bool
	InScopeOnly bool
	ScanPolicy  string

	PollInterval  time.Duration
	SpiderMaxWait time.Duration
	ActiveMaxWait time.Duration

	IncludeFindings bool
	IncludeEvidence bool

	Ajax phases.AjaxOptions

	WaitForPassive  bool
	PassiveInterval time.Duration
	PassiveTimeout  time.Duration

	ProgressStep int
}

// DefaultOptions returns the option set used when a caller supplies nothing.
func DefaultOptions() Options {
	return Options{
		Recurse:         true,
		InScopeOnly:     false,
		PollInterval:    1500 * time.Millisecond,
		SpiderMaxWait:   30 * time.Minute,
		ActiveMaxWait:   2 * time.Hour,
		IncludeFindings: true,
		IncludeEvidence: false,
		Ajax:            phases.DefaultAjaxOptions(),
		WaitForPassive:  true,
		PassiveInterval: 500 * time.Millisecond,
		PassiveTimeout:  10 * time.Minute,
		ProgressStep:    phases.DefaultProgressStep,
	}
}

// Orchestrator runs scan flows against one scanner instance.
type Orchestrator struct {
	caller   Caller
	sessions *session.Manager
	logger   logging.Logger
}

// New builds an Orchestrator.
func New(caller Caller, sessions *session.Manager, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		caller:   caller,
		sessions: sessions,
		logger:   logger.With(logging.Field{Key: "component", Value: "flow"}),
	}
}

// Run executes the flow for mode and returns its report. All phase calls
// carry the given session id explicitly; nothing in the flow relies on
// ambient scanner-side session state.
func (o *Orchestrator) Run(ctx context.Context, mode, scanID, targetURL string, opts Options, sessionID string, onProgress phases.ProgressFunc) (*Report, error) {
	prepared, err := o.prepare(ctx, targetURL, sessionID)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeActive:
		return o.runActive(ctx, scanID, prepared, opts, sessionID, onProgress)
	case ModeComplete:
		return o.runComplete(ctx, scanID, prepared, opts, sessionID, onProgress)
	case ModePassive:
		return o.runPassive(ctx, scanID, prepared, opts, sessionID, onProgress)
	case ModeAjax:
		return o.runAjax(ctx, scanID, prepared, opts, sessionID, onProgress)
	default:
		return nil, fmt.Errorf("unknown scan mode %q", mode)
	}
}

// prepare normalizes the target and registers it in the scanner's URL tree.
// The touch is best-effort; only an invalid target aborts.
func (o *Orchestrator) prepare(ctx context.Context, targetURL, sessionID string) (string, error) {
	prepared, err := target.Sanitize(targetURL)
	if err != nil {
		return "", err
	}
	o.sessions.Touch(ctx, prepared, sessionID)
	return prepared, nil
}

// phaseStep is one entry in a mode's phase table. A best-effort step's
// failure is logged and swallowed; any other failure aborts the flow.
type phaseStep struct {
	name       string
	bestEffort bool
	run        func(ctx context.Context) error
}

func (o *Orchestrator) runSteps(ctx context.Context, scanID string, steps []phaseStep) error {
	for _, st := range steps {
		err := st.run(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Cancellation always wins, even on best-effort steps.
			return err
		}
		if st.bestEffort {
			o.logger.Warn("optional phase failed, continuing",
				logging.Field{Key: "scan_id", Value: scanID},
				logging.Field{Key: "phase", Value: st.name},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		return fmt.Errorf("%s phase: %w", st.name, err)
	}
	return nil
}

func (o *Orchestrator) runActive(ctx context.Context, scanID, targetURL string, opts Options, sessionID string, onProgress phases.ProgressFunc) (*Report, error) {
	var spider phases.Outcome
	var ascan phases.Outcome

	steps := []phaseStep{
		{name: "spider", bestEffort: true, run: func(ctx context.Context) error {
			var err error
			spider, err = phases.RunSpider(ctx, o.caller, targetURL, phases.SpiderOptions{
				Recurse:      opts.Recurse,
				InScopeOnly:  opts.InScopeOnly,
				PollInterval: opts.PollInterval,
				MaxWait:      capWait(opts.SpiderMaxWait, activeSpiderCap),
				ProgressStep: opts.ProgressStep,
			}, sessionID, onProgress, o.logger)
			return err
		}},
		{name: "active", run: func(ctx context.Context) error {
			var err error
			ascan, err = phases.RunActiveScan(ctx, o.caller, targetURL, phases.ActiveOptions{
				Recurse:      opts.Recurse,
				InScopeOnly:  opts.InScopeOnly,
				ScanPolicy:   opts.ScanPolicy,
				PollInterval: opts.PollInterval,
				MaxWait:      opts.ActiveMaxWait,
				ProgressStep: opts.ProgressStep,
			}, sessionID, onProgress, o.logger)
			return err
		}},
	}
	if err := o.runSteps(ctx, scanID, steps); err != nil {
		return nil, err
	}

	report := o.finalize(ctx, scanID, targetURL, ModeActive, map[string]float64{
		"spider": round2(spider.Duration),
		"ajax":   0,
		"pscan":  0,
		"ascan":  round2(ascan.Duration),
	}, opts, sessionID)
	report.Spider = &PhaseInfo{ScanID: spider.ID, DurationSeconds: round2(spider.Duration)}
	report.ActiveScan = &PhaseInfo{ScanID: ascan.ID, DurationSeconds: round2(ascan.Duration)}
	return report, nil
}

func (o *Orchestrator) runComplete(ctx context.Context, scanID, targetURL string, opts Options, sessionID string, onProgress phases.ProgressFunc) (*Report, error) {
	var ajax phases.AjaxOutcome
	var spider phases.Outcome
	var ascan phases.Outcome
	var pscan time.Duration

	ajaxOpts := opts.Ajax
	ajaxOpts.PollInterval = opts.PollInterval

	steps := []phaseStep{
		{name: "ajax", run: func(ctx context.Context) error {
			var err error
			ajax, err = phases.RunAjaxCrawl(ctx, o.caller, targetURL, ajaxOpts, sessionID, o.logger)
			return err
		}},
		{name: "spider", run: func(ctx context.Context) error {
			var err error
			spider, err = phases.RunSpider(ctx, o.caller, targetURL, phases.SpiderOptions{
				Recurse:      opts.Recurse,
				InScopeOnly:  opts.InScopeOnly,
				PollInterval: opts.PollInterval,
				MaxWait:      opts.SpiderMaxWait,
				ProgressStep: opts.ProgressStep,
			}, sessionID, onProgress, o.logger)
			return err
		}},
		{name: "active", run: func(ctx context.Context) error {
			var err error
			ascan, err = phases.RunActiveScan(ctx, o.caller, targetURL, phases.ActiveOptions{
				Recurse:      opts.Recurse,
				InScopeOnly:  opts.InScopeOnly,
				ScanPolicy:   opts.ScanPolicy,
				PollInterval: opts.PollInterval,
				MaxWait:      opts.ActiveMaxWait,
				ProgressStep: opts.ProgressStep,
			}, sessionID, onProgress, o.logger)
			return err
		}},
	}
	if opts.WaitForPassive {
		steps = append(steps, phaseStep{name: "passive", run: func(ctx context.Context) error {
			pscan = phases.PassiveWait(ctx, o.caller, sessionID, opts.PassiveInterval, opts.PassiveTimeout, o.logger)
			return ctx.Err()
		}})
	}

	if err := o.runSteps(ctx, scanID, steps); err != nil {
		return nil, err
	}

	report := o.finalize(ctx, scanID, targetURL, ModeComplete, map[string]float64{
		"ajax":   round2(ajax.Duration),
		"spider": round2(spider.Duration),
		"ascan":  round2(ascan.Duration),
		"pscan":  round2(pscan),
	}, opts, sessionID)
	report.AjaxSpider = &AjaxInfo{Started: ajax.Started, DurationSeconds: round2(ajax.Duration), NumberOfResults: ajax.Results}
	report.Spider = &PhaseInfo{ScanID: spider.ID, DurationSeconds: round2(spider.Duration)}
	report.ActiveScan = &PhaseInfo{ScanID: ascan.ID, DurationSeconds: round2(ascan.Duration)}
	report.PassiveScan = &PassiveInfo{Waited: opts.WaitForPassive, DurationSeconds: round2(pscan)}
	return report, nil
}

func (o *Orchestrator) runPassive(ctx context.Context, scanID, targetURL string, opts Options, sessionID string, onProgress phases.ProgressFunc) (*Report, error) {
	var pscan time.Duration

	steps := []phaseStep{
		{name: "passive-enable", run: func(ctx context.Context) error {
			return phases.EnablePassiveScanning(ctx, o.caller, sessionID)
		}},
		{name: "passive", run: func(ctx context.Context) error {
			pscan = phases.PassiveWait(ctx, o.caller, sessionID, opts.PassiveInterval, opts.PassiveTimeout, o.logger)
			return ctx.Err()
		}},
	}
	if err := o.runSteps(ctx, scanID, steps); err != nil {
		return nil, err
	}

	durations := map[string]float64{"pscan": round2(pscan)}
	report := &Report{
		ScanID:               scanID,
		Target:               targetURL,
		Mode:                 ModePassive,
		Durations:            durations,
		TotalDurationSeconds: sumDurations(durations),
		PassiveScan:          &PassiveInfo{Waited: true, DurationSeconds: round2(pscan)},
	}

	base := target.CanonicalBase(targetURL)
	summary := alerts.Summary(ctx, o.caller, base, sessionID, o.logger)
	report.Summary = &summary
	if opts.IncludeFindings {
		findings, err := alerts.FetchAll(ctx, o.caller, base, opts.IncludeEvidence, sessionID)
		if err != nil {
			o.logger.Warn("fetching findings failed",
				logging.Field{Key: "scan_id", Value: scanID},
				logging.Field{Key: "error", Value: err.Error()})
		}
		report.Findings = findings
	}
	return report, nil
}

func (o *Orchestrator) runAjax(ctx context.Context, scanID, targetURL string, opts Options, sessionID string, onProgress phases.ProgressFunc) (*Report, error) {
	var spider phases.Outcome
	var ajax phases.AjaxOutcome

	steps := []phaseStep{
		{name: "spider", bestEffort: true, run: func(ctx context.Context) error {
			var err error
			spider, err = phases.RunSpider(ctx, o.caller, targetURL, phases.SpiderOptions{
				Recurse:      opts.Recurse,
				InScopeOnly:  opts.InScopeOnly,
				PollInterval: opts.PollInterval,
				MaxWait:      capWait(opts.SpiderMaxWait, ajaxSpiderCap),
				ProgressStep: opts.ProgressStep,
			}, sessionID, onProgress, o.logger)
			return err
		}},
		{name: "ajax", run: func(ctx context.Context) error {
			var err error
			ajax, err = phases.RunAjaxCrawl(ctx, o.caller, targetURL, opts.Ajax, sessionID, o.logger)
			return err
		}},
	}
	if err := o.runSteps(ctx, scanID, steps); err != nil {
		return nil, err
	}

	durations := map[string]float64{
		"spider": round2(spider.Duration),
		"ajax":   round2(ajax.Duration),
	}
	return &Report{
		ScanID:               scanID,
		Target:               targetURL,
		Mode:                 ModeAjax,
		Durations:            durations,
		TotalDurationSeconds: sumDurations(durations),
		Spider:               &PhaseInfo{ScanID: spider.ID, DurationSeconds: round2(spider.Duration)},
		AjaxSpider:           &AjaxInfo{Started: ajax.Started, DurationSeconds: round2(ajax.Duration), NumberOfResults: ajax.Results},
	}, nil
}

// finalize assembles the common report envelope and, when requested, the
// aggregated findings. Evidence-bearing findings pull the full alert list,
// the deduplicated vulnerability ranking and the weighted risk score.
func (o *Orchestrator) finalize(ctx context.Context, scanID, targetURL, mode string, durations map[string]float64, opts Options, sessionID string) *Report {
	report := &Report{
		ScanID:               scanID,
		Target:               targetURL,
		Mode:                 mode,
		Durations:            durations,
		TotalDurationSeconds: sumDurations(durations),
	}
	if !opts.IncludeFindings {
		return report
	}

	base := target.CanonicalBase(targetURL)
	summary := alerts.Summary(ctx, o.caller, base, sessionID, o.logger)
	report.Summary = &summary

	if opts.IncludeEvidence {
		findings, err := alerts.FetchAll(ctx, o.caller, base, true, sessionID)
		if err != nil {
			o.logger.Warn("fetching findings failed",
				logging.Field{Key: "scan_id", Value: scanID},
				logging.Field{Key: "error", Value: err.Error()})
		}
		report.Findings = findings
		report.Vulnerabilities = alerts.RankVulnerabilities(findings)
		score := alerts.RiskScore(summary.Counts)
		report.RiskScore = &score
	}
	return report
}

func capWait(requested, limit time.Duration) time.Duration {
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}
