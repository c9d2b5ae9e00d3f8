package flow

import (
	"math"
	"time"

	"github.com/zapgate/zapgate/internal/alerts"
)

// PhaseInfo describes a completed handle-bearing phase.
type PhaseInfo struct {
	ScanID          string  `json:"scanId"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// AjaxInfo describes the AJAX crawl portion of a report.
type AjaxInfo struct {
	Started         bool    `json:"started"`
	DurationSeconds float64 `json:"duration_seconds"`
	NumberOfResults int     `json:"numberOfResults"`
}

// PassiveInfo describes the passive wait portion of a report.
type PassiveInfo struct {
	Waited          bool    `json:"waited"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Report is the final result of one scan flow: per-phase durations plus the
// aggregated findings the caller asked for.
type Report struct {
	ScanID               string             `json:"scanId"`
	Target               string             `json:"target"`
	Mode                 string             `json:"mode"`
	Durations            map[string]float64 `json:"durations"`
	TotalDurationSeconds float64            `json:"total_duration_seconds"`

	Summary         *alerts.RiskSummary `json:"summary,omitempty"`
	Findings        []alerts.Finding    `json:"findings,omitempty"`
	Vulnerabilities []alerts.VulnCount  `json:"vulnerabilities,omitempty"`
	RiskScore       *int                `json:"risk_score,omitempty"`

	Spider      *PhaseInfo   `json:"spider,omitempty"`
	AjaxSpider  *AjaxInfo    `json:"ajaxSpider,omitempty"`
	ActiveScan  *PhaseInfo   `json:"activeScan,omitempty"`
	PassiveScan *PassiveInfo `json:"passiveScan,omitempty"`
}

func round2(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func sumDurations(durations map[string]float64) float64 {
	total := 0.0
	for _, d := range durations {
		total += d
	}
	return math.Round(total*100) / 100
}
