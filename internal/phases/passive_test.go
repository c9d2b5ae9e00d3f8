package phases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zapgate/zapgate/internal/testutil"
	"github.com/zapgate/zapgate/internal/zapclient"
)

func records(n string) zapclient.Result {
	return zapclient.Result{"recordsToScan": n}
}

func TestPassiveWait_DrainsToZero(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().
		Sequence("/JSON/pscan/view/recordsToScan/", records("4"), records("2"), records("0"))

	dur := PassiveWait(context.Background(), stub, "", time.Millisecond, time.Second, &testutil.DummyLogger{})
	if dur <= 0 {
		t.Error("expected a positive duration")
	}
	if n := stub.Calls("/JSON/pscan/view/recordsToScan/"); n != 3 {
		t.Errorf("expected 3 queue polls, got %d", n)
	}
}

func TestPassiveWait_QueueErrorAssumesDrained(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller().
		Fail("/JSON/pscan/view/recordsToScan/", errors.New("view not available"))

	logger := &testutil.DummyLogger{}
	PassiveWait(context.Background(), stub, "", time.Millisecond, time.Second, logger)

	if n := stub.Calls("/JSON/pscan/view/recordsToScan/"); n != 1 {
		t.Errorf("expected a single poll before bailing, got %d", n)
	}
	if logger.WarnCount() == 0 {
		t.Error("expected a warning about the failed queue check")
	}
}

func TestPassiveWait_SoftTimeout(t *testing.T) {
	t.Parallel()
	// The queue never drains; the wait must give up at the timeout without
	// erroring.
	stub := testutil.NewStubCaller().Respond("/JSON/pscan/view/recordsToScan/", records("50"))

	start := time.Now()
	PassiveWait(context.Background(), stub, "", time.Millisecond, 20*time.Millisecond, &testutil.DummyLogger{})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("passive wait ran far past its timeout: %v", elapsed)
	}
}

func TestEnablePassiveScanning_PropagatesFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("scanner rejected")
	stub := testutil.NewStubCaller().Fail("/JSON/pscan/action/setEnabled/", boom)

	if err := EnablePassiveScanning(context.Background(), stub, ""); !errors.Is(err, boom) {
		t.Fatalf("expected the enable failure to propagate, got %v", err)
	}
}

func TestEnablePassiveScanning_EnablesAllScanners(t *testing.T) {
	t.Parallel()
	stub := testutil.NewStubCaller()

	if err := EnablePassiveScanning(context.Background(), stub, "sess"); err != nil {
		t.Fatalf("EnablePassiveScanning: %v", err)
	}
	if n := stub.Calls("/JSON/pscan/action/setEnabled/"); n != 1 {
		t.Errorf("expected setEnabled call, got %d", n)
	}
	if n := stub.Calls("/JSON/pscan/action/enableAllScanners/"); n != 1 {
		t.Errorf("expected enableAllScanners call, got %d", n)
	}
}
