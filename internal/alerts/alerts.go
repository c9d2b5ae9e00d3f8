// Package alerts fetches and summarizes the findings the scanner has
// accumulated for a target. The scanner's alert API surface varies across
// versions and configurations, so summarization degrades gracefully through
// three query tiers instead of failing outright.
package alerts

import (
	"context"
	"strconv"
	"strings"

	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/zapclient"
)

// pageSize is the batch size used when paging through the full alert list.
const pageSize = 500

// Caller performs a single named view call against the scanner's control
// API. *zapclient.Client satisfies it.
type Caller interface {
	Invoke(ctx context.Context, path string, params map[string]string, sessionID string) (zapclient.Result, error)
}

// RiskBands is the fixed severity ordering used everywhere findings are
// counted or ranked.
var RiskBands = []string{"High", "Medium", "Low", "Informational"}

var riskWeights = map[string]int{
	"High":          5,
	"Medium":        3,
	"Low":           1,
	"Informational": 0,
}

var riskOrder = map[string]int{
	"High":          0,
	"Medium":        1,
	"Low":           2,
	"Informational": 3,
}

// Finding is one normalized alert record.
type Finding struct {
	Risk     string `json:"risk"`
	Alert    string `json:"alert"`
	URL      string `json:"url"`
	Param    string `json:"param"`
	Evidence string `json:"evidence,omitempty"`
}

// RiskSummary holds per-band counts for a target.
type RiskSummary struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

func emptyCounts() map[string]int {
	counts := make(map[string]int, len(RiskBands))
	for _, band := range RiskBands {
		counts[band] = 0
	}
	return counts
}

// normalizeRisk maps a raw risk label onto one of the fixed bands. The
// scanner sometimes reports compound labels like "High (Medium)"; only the
// first word counts, and anything unrecognized folds into Informational.
func normalizeRisk(raw string) string {
	first := raw
	if i := strings.IndexByte(raw, ' '); i >= 0 {
		first = raw[:i]
	}
	first = titleWord(strings.TrimSpace(first))
	if _, ok := riskOrder[first]; ok {
		return first
	}
	return "Informational"
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Summary returns per-band alert counts for baseURL, trying three queries of
// decreasing specificity: the pre-aggregated summary view, the raw alert
// list (tallied locally), and finally the bare alert count collapsed into
// Informational. Falling back is logged since it implies reduced fidelity,
// but it is never an error — summarization must stay available across
// scanner versions.
func Summary(ctx context.Context, caller Caller, baseURL, sessionID string, logger logging.Logger) RiskSummary {
	if sum, ok := summaryView(ctx, caller, baseURL, sessionID); ok {
		return sum
	}
	logger.Warn("alert summary view unavailable, tallying raw alerts",
		logging.Field{Key: "baseurl", Value: baseURL})

	if sum, ok := summaryFromAlerts(ctx, caller, baseURL, sessionID); ok {
		return sum
	}
	logger.Warn("raw alert list unavailable, falling back to bare count",
		logging.Field{Key: "baseurl", Value: baseURL})

	return summaryFromCount(ctx, caller, baseURL, sessionID)
}

func summaryView(ctx context.Context, caller Caller, baseURL, sessionID string) (RiskSummary, bool) {
	res, err := caller.Invoke(ctx, "/JSON/core/view/alertsSummary/",
		map[string]string{"baseurl": baseURL}, sessionID)
	if err != nil {
		return RiskSummary{}, false
	}

	counts := emptyCounts()
	total := 0

	// The summary view has shipped as both a list of {risk,count} items and
	// as a flat band→count object.
	var items any
	for _, key := range []string{"alertsSummary", "summary", "alerts-summary"} {
		if v, ok := res[key]; ok {
			items = v
			break
		}
	}

	switch shaped := items.(type) {
	case []any:
		for _, raw := range shaped {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			r := zapclient.Result(item)
			band := normalizeRisk(r.First("risk", "riskdesc"))
			n := r.Int("count", r.Int("number", 0))
			counts[band] += n
			total += n
		}
	case map[string]any:
		for k, v := range shaped {
			band := normalizeRisk(k)
			n := zapclient.Result{"n": v}.Int("n", 0)
			counts[band] += n
			total += n
		}
	default:
		return RiskSummary{}, false
	}

	return RiskSummary{Counts: counts, Total: total}, true
}

func summaryFromAlerts(ctx context.Context, caller Caller, baseURL, sessionID string) (RiskSummary, bool) {
	res, err := caller.Invoke(ctx, "/JSON/core/view/alerts/",
		map[string]string{"baseurl": baseURL, "start": "0", "count": "500"}, sessionID)
	if err != nil {
		return RiskSummary{}, false
	}

	counts := emptyCounts()
	total := 0
	for _, alert := range res.List("alerts") {
		band := normalizeRisk(alert.First("risk", "riskdesc"))
		counts[band]++
		total++
	}
	return RiskSummary{Counts: counts, Total: total}, true
}

func summaryFromCount(ctx context.Context, caller Caller, baseURL, sessionID string) RiskSummary {
	counts := emptyCounts()
	total := 0
	if res, err := caller.Invoke(ctx, "/JSON/core/view/numberOfAlerts/",
		map[string]string{"baseurl": baseURL}, sessionID); err == nil {
		total = res.Int("numberOfAlerts", 0)
	}
	counts["Informational"] = total
	return RiskSummary{Counts: counts, Total: total}
}

// FetchAll pages through every alert for baseURL in fixed-size batches until
// an empty batch is returned. Evidence is included only on request; it
// dominates response size and most callers only need the summary fields.
func FetchAll(ctx context.Context, caller Caller, baseURL string, includeEvidence bool, sessionID string) ([]Finding, error) {
	var findings []Finding
	for start := 0; ; start += pageSize {
		res, err := caller.Invoke(ctx, "/JSON/core/view/alerts/", map[string]string{
			"baseurl": baseURL,
			"start":   strconv.Itoa(start),
			"count":   strconv.Itoa(pageSize),
		}, sessionID)
		if err != nil {
			return findings, err
		}
		batch := res.List("alerts")
		if len(batch) == 0 {
			return findings, nil
		}
		for _, alert := range batch {
			f := Finding{
				Risk:  alert.Str("risk"),
				Alert: alert.Str("alert"),
				URL:   alert.Str("url"),
				Param: alert.Str("param"),
			}
			if includeEvidence {
				f.Evidence = alert.Str("evidence")
			}
			findings = append(findings, f)
		}
	}
}

// RiskScore computes the weighted severity score for a set of band counts
// (High 5, Medium 3, Low 1, Informational 0).
func RiskScore(counts map[string]int) int {
	score := 0
	for band, weight := range riskWeights {
		score += counts[band] * weight
	}
	return score
}
