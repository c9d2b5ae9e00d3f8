package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/zapgate/zapgate/internal/testutil"
	"github.com/zapgate/zapgate/internal/zapclient"
)

func alert(risk, name string) map[string]any {
	return map[string]any{"risk": risk, "alert": name, "url": "http://t/x", "param": "q", "evidence": "ev"}
}

// ─── Summary tiers ─────────────────────────────────────────────────────

func TestSummary_ListShapedView(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().Respond("/JSON/core/view/alertsSummary/", zapclient.Result{
		"alertsSummary": []any{
			map[string]any{"risk": "High", "count": float64(2)},
			map[string]any{"risk": "Low", "count": float64(3)},
		},
	})

	sum := Summary(context.Background(), stub, "http://t", "", &testutil.DummyLogger{})
	if sum.Counts["High"] != 2 || sum.Counts["Low"] != 3 {
		t.Errorf("unexpected counts: %v", sum.Counts)
	}
	if sum.Total != 5 {
		t.Errorf("expected total 5, got %d", sum.Total)
	}
	// Bands without alerts are still present, at zero.
	if _, ok := sum.Counts["Medium"]; !ok {
		t.Error("expected all bands present in counts")
	}
}

func TestSummary_MapShapedView(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().Respond("/JSON/core/view/alertsSummary/", zapclient.Result{
		"alertsSummary": map[string]any{
			"High":          float64(1),
			"Medium":        float64(2),
			"Informational": float64(4),
		},
	})

	sum := Summary(context.Background(), stub, "http://t", "", &testutil.DummyLogger{})
	if sum.Counts["High"] != 1 || sum.Counts["Medium"] != 2 || sum.Counts["Informational"] != 4 {
		t.Errorf("unexpected counts: %v", sum.Counts)
	}
	if sum.Total != 7 {
		t.Errorf("expected total 7, got %d", sum.Total)
	}
}

func TestSummary_FallsBackToRawAlerts(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().
		Fail("/JSON/core/view/alertsSummary/", errors.New("view missing")).
		Respond("/JSON/core/view/alerts/", zapclient.Result{
			"alerts": []any{alert("High", "SQLi"), alert("High", "SQLi"), alert("High", "XSS"), alert("Low", "Cookie")},
		})

	logger := &testutil.DummyLogger{}
	sum := Summary(context.Background(), stub, "http://t", "", logger)
	if sum.Counts["High"] != 3 || sum.Counts["Low"] != 1 {
		t.Errorf("unexpected counts: %v", sum.Counts)
	}
	if sum.Total != 4 {
		t.Errorf("expected total 4, got %d", sum.Total)
	}
	if logger.WarnCount() == 0 {
		t.Error("expected a degradation warning")
	}
}

func TestSummary_FallsBackToBareCount(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().
		Fail("/JSON/core/view/alertsSummary/", errors.New("view missing")).
		Fail("/JSON/core/view/alerts/", errors.New("also missing")).
		Respond("/JSON/core/view/numberOfAlerts/", zapclient.Result{"numberOfAlerts": "9"})

	sum := Summary(context.Background(), stub, "http://t", "", &testutil.DummyLogger{})
	if sum.Counts["Informational"] != 9 {
		t.Errorf("bare count should fold into Informational: %v", sum.Counts)
	}
	if sum.Total != 9 {
		t.Errorf("expected total 9, got %d", sum.Total)
	}
}

func TestSummary_EverythingUnavailableYieldsZeroes(t *testing.T) {
	t.Parallel()
	boom := errors.New("down")
	stub := testutil.NewStubCaller().
		Fail("/JSON/core/view/alertsSummary/", boom).
		Fail("/JSON/core/view/alerts/", boom).
		Fail("/JSON/core/view/numberOfAlerts/", boom)

	sum := Summary(context.Background(), stub, "http://t", "", &testutil.DummyLogger{})
	if sum.Total != 0 {
		t.Errorf("expected zero total, got %d", sum.Total)
	}
}

// ─── Normalization ─────────────────────────────────────────────────────

func TestNormalizeRisk(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"High":            "High",
		"high":            "High",
		"High (Medium)":   "High",
		"INFORMATIONAL":   "Informational",
		"Bogus":           "Informational",
		"":                "Informational",
		"medium (Low)":    "Medium",
		"Low confidence?": "Low",
	}
	for in, want := range cases {
		if got := normalizeRisk(in); got != want {
			t.Errorf("normalizeRisk(%q) = %q, want %q", in, got, want)
		}
	}
}

// ─── FetchAll ──────────────────────────────────────────────────────────

func TestFetchAll_PagesUntilEmptyBatch(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().
		Sequence("/JSON/core/view/alerts/",
			zapclient.Result{"alerts": []any{alert("High", "SQLi"), alert("Low", "Cookie")}},
			zapclient.Result{"alerts": []any{alert("Medium", "CSP")}},
			zapclient.Result{"alerts": []any{}},
		)

	findings, err := FetchAll(context.Background(), stub, "http://t", false, "")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(findings))
	}
	if findings[0].Evidence != "" {
		t.Error("evidence must be omitted unless requested")
	}
	if n := stub.Calls("/JSON/core/view/alerts/"); n != 3 {
		t.Errorf("expected 3 pages, got %d", n)
	}
	// Offsets advance by the page size.
	if got := stub.Invocations[1].Params["start"]; got != "500" {
		t.Errorf("expected second page to start at 500, got %q", got)
	}
}

func TestFetchAll_IncludesEvidenceOnRequest(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().
		Sequence("/JSON/core/view/alerts/",
			zapclient.Result{"alerts": []any{alert("High", "SQLi")}},
			zapclient.Result{"alerts": []any{}},
		)

	findings, err := FetchAll(context.Background(), stub, "http://t", true, "")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if findings[0].Evidence != "ev" {
		t.Errorf("expected evidence, got %q", findings[0].Evidence)
	}
}

func TestFetchAll_ReturnsPartialOnError(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().
		SequenceAnswers("/JSON/core/view/alerts/",
			testutil.StubAnswer{Res: zapclient.Result{"alerts": []any{alert("High", "SQLi")}}},
			testutil.StubAnswer{Err: errors.New("connection reset")},
		)

	findings, err := FetchAll(context.Background(), stub, "http://t", false, "")
	if err == nil {
		t.Fatal("expected the paging error to surface")
	}
	if len(findings) != 1 {
		t.Errorf("expected the partial page to be returned, got %d findings", len(findings))
	}
}

// ─── Scoring and ranking ───────────────────────────────────────────────

func TestRiskScore_WeightsBands(t *testing.T) {
	t.Parallel()
	score := RiskScore(map[string]int{"High": 2, "Medium": 1, "Low": 4, "Informational": 100})
	if score != 2*5+1*3+4*1 {
		t.Errorf("expected 17, got %d", score)
	}
}

func TestRankVulnerabilities_OrderAndDedup(t *testing.T) {
	t.Parallel()
	findings := []Finding{
		{Risk: "Low", Alert: "Cookie Without Secure Flag"},
		{Risk: "High", Alert: "SQL Injection"},
		{Risk: "High", Alert: "SQL Injection"},
		{Risk: "High", Alert: "XSS"},
		{Risk: "Medium", Alert: "CSP Not Set"},
		{Risk: "High", Alert: "XSS"},
		{Risk: "High", Alert: "XSS"},
	}

	ranked := RankVulnerabilities(findings)
	want := []VulnCount{
		{Name: "XSS", Risk: "High", Count: 3},
		{Name: "SQL Injection", Risk: "High", Count: 2},
		{Name: "CSP Not Set", Risk: "Medium", Count: 1},
		{Name: "Cookie Without Secure Flag", Risk: "Low", Count: 1},
	}
	if len(ranked) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(ranked))
	}
	for i := range want {
		if ranked[i] != want[i] {
			t.Errorf("position %d: expected %+v, got %+v", i, want[i], ranked[i])
		}
	}
}

func TestRankVulnerabilities_EmptyInput(t *testing.T) {
	t.Parallel()
	if got := RankVulnerabilities(nil); got != nil {
		t.Errorf("expected nil for no findings, got %v", got)
	}
}

func TestRankVulnerabilities_BlankNameBecomesUnknown(t *testing.T) {
	t.Parallel()
	ranked := RankVulnerabilities([]Finding{{Risk: "High", Alert: "   "}})
	if len(ranked) != 1 || ranked[0].Name != "Unknown" {
		t.Errorf("expected Unknown entry, got %v", ranked)
	}
}
