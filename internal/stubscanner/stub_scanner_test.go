package stubscanner_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zapgate/zapgate/internal/config"
	"github.com/zapgate/zapgate/internal/stubscanner"
	"github.com/zapgate/zapgate/internal/testutil"
	"github.com/zapgate/zapgate/internal/zapclient"
)

func newStubClient(t *testing.T) *zapclient.Client {
	t.Helper()
	srv := httptest.NewServer(stubscanner.New(stubscanner.DefaultConfig()).Handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.ZapBase = srv.URL
	cfg.RetryTotal = 0
	cfg.Backoff = time.Millisecond
	return zapclient.New(cfg, &testutil.DummyLogger{}, nil)
}

func TestStub_VersionProbe(t *testing.T) {
	t.Parallel()
	c := newStubClient(t)
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "2.15.0" {
		t.Errorf("unexpected version %q", v)
	}
}

func TestStub_SpiderAdvancesToCompletion(t *testing.T) {
	t.Parallel()
	c := newStubClient(t)
	ctx := context.Background()

	res, err := c.Invoke(ctx, "/JSON/spider/action/scan/", map[string]string{"url": "http://t/"}, "")
	if err != nil {
		t.Fatalf("start spider: %v", err)
	}
	id := res.Str("scan")
	if id == "" {
		t.Fatal("expected a scan handle")
	}

	last := -1
	for i := 0; i < 10; i++ {
		res, err := c.Invoke(ctx, "/JSON/spider/view/status/", map[string]string{"scanId": id}, "")
		if err != nil {
			t.Fatalf("status poll: %v", err)
		}
		pct := res.Int("status", -1)
		if pct < last {
			t.Fatalf("progress went backwards: %d after %d", pct, last)
		}
		last = pct
		if pct >= 100 {
			return
		}
	}
	t.Fatalf("spider never completed, stuck at %d", last)
}

func TestStub_UnknownScanHandleRejected(t *testing.T) {
	t.Parallel()
	c := newStubClient(t)
	if _, err := c.Invoke(context.Background(), "/JSON/spider/view/status/",
		map[string]string{"scanId": "999"}, ""); err == nil {
		t.Fatal("expected an error for an unknown handle")
	}
}

func TestStub_PassiveQueueDrains(t *testing.T) {
	t.Parallel()
	c := newStubClient(t)
	ctx := context.Background()

	last := -1
	for i := 0; i < 10; i++ {
		res, err := c.Invoke(ctx, "/JSON/pscan/view/recordsToScan/", nil, "")
		if err != nil {
			t.Fatalf("queue poll: %v", err)
		}
		n := res.Int("recordsToScan", -1)
		if last >= 0 && n > last {
			t.Fatalf("queue grew from %d to %d", last, n)
		}
		last = n
		if n == 0 {
			return
		}
	}
	t.Fatalf("queue never drained, stuck at %d", last)
}

func TestStub_AlertTiersAgree(t *testing.T) {
	t.Parallel()
	c := newStubClient(t)
	ctx := context.Background()

	sum, err := c.Invoke(ctx, "/JSON/core/view/alertsSummary/", nil, "")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	counts := sum.Map("alertsSummary")
	if counts == nil {
		t.Fatal("expected a summary object")
	}

	n, err := c.Invoke(ctx, "/JSON/core/view/numberOfAlerts/", nil, "")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	total := 0
	for band := range counts {
		total += counts.Int(band, 0)
	}
	if got := n.Int("numberOfAlerts", -1); got != total {
		t.Errorf("summary total %d disagrees with bare count %d", total, got)
	}
}

func TestStub_AjaxCrawlStops(t *testing.T) {
	t.Parallel()
	c := newStubClient(t)
	ctx := context.Background()

	if _, err := c.Invoke(ctx, "/JSON/ajaxSpider/action/scan/", map[string]string{"url": "http://t/"}, ""); err != nil {
		t.Fatalf("start crawl: %v", err)
	}
	for i := 0; i < 10; i++ {
		res, err := c.Invoke(ctx, "/JSON/ajaxSpider/view/status/", nil, "")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if res.Str("status") == "stopped" {
			return
		}
	}
	t.Fatal("ajax crawl never stopped")
}
