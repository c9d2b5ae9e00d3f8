package manager_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zapgate/zapgate/internal/flow"
	"github.com/zapgate/zapgate/internal/manager"
	"github.com/zapgate/zapgate/internal/session"
	"github.com/zapgate/zapgate/internal/testutil"
	"github.com/zapgate/zapgate/internal/zapclient"
)

func newManager(t *testing.T, stub *testutil.StubCaller, workers, queue int) *manager.Manager {
	t.Helper()
	logger := &testutil.DummyLogger{}
	sessions := session.NewManager(stub, "zapgate", logger)
	orch := flow.New(stub, sessions, logger)
	m := manager.New(manager.Config{Workers: workers, QueueDepth: queue}, orch, sessions, logger)
	t.Cleanup(m.Close)
	return m
}

func quickOptions() flow.Options {
	opts := flow.DefaultOptions()
	opts.PollInterval = time.Millisecond
	opts.SpiderMaxWait = time.Second
	opts.ActiveMaxWait = time.Second
	opts.PassiveInterval = time.Millisecond
	opts.PassiveTimeout = time.Second
	opts.Ajax.Wait = 100 * time.Millisecond
	opts.Ajax.PollInterval = time.Millisecond
	return opts
}

func scriptHappyScanner(stub *testutil.StubCaller) {
	stub.
		Respond("/JSON/spider/action/scan/", zapclient.Result{"scan": "1"}).
		Respond("/JSON/spider/view/status/", zapclient.Result{"status": "100"}).
		Respond("/JSON/ascan/action/scan/", zapclient.Result{"scan": "2"}).
		Respond("/JSON/ascan/view/status/", zapclient.Result{"status": "100"}).
		Respond("/JSON/ajaxSpider/view/status/", zapclient.Result{"status": "stopped"}).
		Respond("/JSON/ajaxSpider/view/numberOfResults/", zapclient.Result{"numberOfResults": "4"}).
		Respond("/JSON/pscan/view/recordsToScan/", zapclient.Result{"recordsToScan": "0"}).
		Respond("/JSON/core/view/alertsSummary/", zapclient.Result{
			"alertsSummary": map[string]any{"High": float64(1)},
		})
}

// waitForStatus polls until the scan reaches want or the deadline passes.
func waitForStatus(t *testing.T, m *manager.Manager, id string, want manager.Status) manager.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Status(id)
		if err != nil {
			t.Fatalf("Status(%s): %v", id, err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap, _ := m.Status(id)
	t.Fatalf("scan %s never reached %s, stuck at %s", id, want, snap.Status)
	return manager.Snapshot{}
}

// ─── Lifecycle ─────────────────────────────────────────────────────────

func TestStart_ReturnsImmediatelyWithRunningScan(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)
	stub.Delay = 50 * time.Millisecond

	m := newManager(t, stub, 2, 4)
	id, err := m.Start(flow.ModePassive, "http://target/", quickOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(id) != 8 {
		t.Errorf("expected an 8-char id, got %q", id)
	}

	snap, err := m.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Status != manager.StatusRunning {
		t.Errorf("expected running right after start, got %s", snap.Status)
	}
	if snap.Result != nil || snap.Error != "" {
		t.Error("a running scan must carry neither result nor error")
	}
}

func TestScan_CompletesWithResult(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)

	m := newManager(t, stub, 2, 4)
	id, err := m.Start(flow.ModePassive, "http://target/", quickOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := waitForStatus(t, m, id, manager.StatusCompleted)
	if snap.Result == nil {
		t.Fatal("expected a result on a completed scan")
	}
	if snap.Error != "" {
		t.Errorf("completed scan must carry no error, got %q", snap.Error)
	}
	if snap.Progress != 100 {
		t.Errorf("expected progress 100, got %d", snap.Progress)
	}
	if snap.Result.Mode != flow.ModePassive {
		t.Errorf("unexpected report mode %q", snap.Result.Mode)
	}
}

func TestScan_FailureRecordsError(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)
	stub.Fail("/JSON/ascan/action/scan/", errors.New("no such policy"))

	m := newManager(t, stub, 2, 4)
	id, err := m.Start(flow.ModeActive, "http://target/", quickOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := waitForStatus(t, m, id, manager.StatusFailed)
	if snap.Error == "" {
		t.Error("expected an error message on a failed scan")
	}
	if snap.Result != nil {
		t.Error("a failed scan must carry no result")
	}
}

func TestScan_InvalidInputRejectedUpfront(t *testing.T) {
	t.Parallel()
	m := newManager(t, testutil.NewStubCaller(), 1, 2)

	if _, err := m.Start("turbo", "http://target/", quickOptions()); err == nil {
		t.Error("expected an error for an unknown mode")
	}
	if _, err := m.Start(flow.ModeActive, "", quickOptions()); err == nil {
		t.Error("expected an error for an empty target")
	}
	if len(m.List()) != 0 {
		t.Error("rejected scans must not be registered")
	}
}

// ─── Cancellation ──────────────────────────────────────────────────────

func TestCancel_RunningScan(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)
	stub.Delay = 20 * time.Millisecond

	m := newManager(t, stub, 1, 2)
	id, err := m.Start(flow.ModeComplete, "http://target/", quickOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !m.Cancel(id) {
		t.Fatal("expected Cancel to succeed on a running scan")
	}
	snap := waitForStatus(t, m, id, manager.StatusCancelled)
	if snap.Result != nil || snap.Error != "" {
		t.Error("a cancelled scan must carry neither result nor error")
	}

	// Terminal states are stable: the worker winding down must not
	// overwrite the cancellation, and a second cancel is a no-op.
	time.Sleep(100 * time.Millisecond)
	snap, _ = m.Status(id)
	if snap.Status != manager.StatusCancelled {
		t.Errorf("terminal state was overwritten to %s", snap.Status)
	}
	if m.Cancel(id) {
		t.Error("expected Cancel to report false on a terminal scan")
	}
}

func TestCancel_UnknownScan(t *testing.T) {
	t.Parallel()
	m := newManager(t, testutil.NewStubCaller(), 1, 2)
	if m.Cancel("deadbeef") {
		t.Error("expected false for an unknown id")
	}
	if _, err := m.Status("deadbeef"); !errors.Is(err, manager.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel_QueuedScanNeverTouchesScanner(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)
	stub.Delay = 20 * time.Millisecond

	// One worker: the first scan occupies it, the second sits in the queue.
	m := newManager(t, stub, 1, 2)
	first, err := m.Start(flow.ModePassive, "http://target/", quickOptions())
	if err != nil {
		t.Fatalf("Start first: %v", err)
	}
	second, err := m.Start(flow.ModePassive, "http://target/", quickOptions())
	if err != nil {
		t.Fatalf("Start second: %v", err)
	}

	if !m.Cancel(second) {
		t.Fatal("expected Cancel to succeed on a queued scan")
	}
	waitForStatus(t, m, first, manager.StatusCompleted)

	// Give the worker a chance to pop the cancelled entry.
	time.Sleep(50 * time.Millisecond)
	if n := stub.Calls("/JSON/core/action/newSession/"); n != 1 {
		t.Errorf("cancelled queued scan must not create a session; got %d creations", n)
	}
	snap, _ := m.Status(second)
	if snap.Status != manager.StatusCancelled {
		t.Errorf("expected cancelled, got %s", snap.Status)
	}
}

// ─── Pool saturation ───────────────────────────────────────────────────

func TestStart_RejectsWhenQueueFull(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)
	stub.Delay = 200 * time.Millisecond

	m := newManager(t, stub, 1, 1)
	if _, err := m.Start(flow.ModePassive, "http://target/", quickOptions()); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	// Either the first scan still occupies the queue slot or the worker has
	// picked it up; submit until the queue is full.
	var lastErr error
	for i := 0; i < 3; i++ {
		if _, lastErr = m.Start(flow.ModePassive, "http://target/", quickOptions()); lastErr != nil {
			break
		}
	}
	if !errors.Is(lastErr, manager.ErrBusy) {
		t.Fatalf("expected ErrBusy at saturation, got %v", lastErr)
	}
	// The rejected scan must not linger in the registry.
	for id, s := range m.List() {
		if s.Status != manager.StatusRunning && s.Status != manager.StatusCompleted {
			t.Errorf("unexpected registry entry %s in state %s", id, s.Status)
		}
	}
}

// ─── Events ────────────────────────────────────────────────────────────

func TestEvents_StreamEndsWithTerminalEvent(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)

	m := newManager(t, stub, 1, 2)
	id, err := m.Start(flow.ModePassive, "http://target/", quickOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events, ok := m.Events(id)
	if !ok {
		t.Fatal("expected an event stream for a known scan")
	}

	var last manager.Event
	got := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, open := <-events:
			if !open {
				if got == 0 {
					t.Fatal("expected at least one event before close")
				}
				if last.Status != manager.StatusCompleted {
					t.Errorf("expected the final event to be completed, got %+v", last)
				}
				return
			}
			last = ev
			got++
			if ev.ScanID != id {
				t.Errorf("event carries wrong scan id %q", ev.ScanID)
			}
		case <-timeout:
			t.Fatal("event stream never closed")
		}
	}
}

func TestEvents_UnknownScan(t *testing.T) {
	t.Parallel()
	m := newManager(t, testutil.NewStubCaller(), 1, 2)
	if _, ok := m.Events("deadbeef"); ok {
		t.Error("expected no stream for an unknown id")
	}
}

// ─── Shutdown ──────────────────────────────────────────────────────────

func TestClose_RejectsNewScans(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()
	scriptHappyScanner(stub)

	logger := &testutil.DummyLogger{}
	sessions := session.NewManager(stub, "zapgate", logger)
	orch := flow.New(stub, sessions, logger)
	m := manager.New(manager.Config{Workers: 1, QueueDepth: 1}, orch, sessions, logger)
	m.Close()

	if _, err := m.Start(flow.ModePassive, "http://target/", quickOptions()); !errors.Is(err, manager.ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	// Close is idempotent.
	m.Close()
}

func TestStart_RacingCloseNeverPanics(t *testing.T) {
	t.Parallel()
	for i := 0; i < 200; i++ {
		stub := testutil.NewStubCaller()
		scriptHappyScanner(stub)

		logger := &testutil.DummyLogger{}
		sessions := session.NewManager(stub, "zapgate", logger)
		orch := flow.New(stub, sessions, logger)
		m := manager.New(manager.Config{Workers: 2, QueueDepth: 4}, orch, sessions, logger)

		var wg sync.WaitGroup
		var accepted atomic.Int32
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					_, err := m.Start(flow.ModePassive, "http://target/", quickOptions())
					switch {
					case err == nil:
						accepted.Add(1)
					case errors.Is(err, manager.ErrClosed), errors.Is(err, manager.ErrBusy):
					default:
						t.Errorf("unexpected Start error: %v", err)
					}
					if errors.Is(err, manager.ErrClosed) {
						return
					}
				}
			}()
		}
		m.Close()
		wg.Wait()

		// Every accepted scan must be registered and settle into a terminal
		// state once the workers drain.
		scans := m.List()
		if len(scans) != int(accepted.Load()) {
			t.Fatalf("registry holds %d scans, %d were accepted", len(scans), accepted.Load())
		}
		for id, sum := range scans {
			if !sum.Status.Terminal() {
				t.Errorf("scan %s left non-terminal after Close: %s", id, sum.Status)
			}
		}
	}
}
