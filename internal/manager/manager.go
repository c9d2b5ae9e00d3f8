package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapgate/zapgate/internal/flow"
	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/phases"
	"github.com/zapgate/zapgate/internal/session"
)

var (
	// ErrNotFound is returned when a scan id is unknown.
	ErrNotFound = errors.New("scan not found")
	// ErrBusy is returned when all workers are occupied and the submit
	// queue is full. The scan is not registered in that case.
	ErrBusy = errors.New("scan queue full")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("manager closed")
)

const eventBuffer = 16

// Config sizes the worker pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// Manager owns the scan registry and the worker pool that executes scans.
// Start is non-blocking: it registers the scan, enqueues it, and returns the
// id immediately; a worker picks it up and drives the orchestrator.
type Manager struct {
	cfg      Config
	orch     *flow.Orchestrator
	sessions *session.Manager
	logger   logging.Logger

	mu     sync.Mutex
	scans  map[string]*record
	closed bool

	tasks chan string
	wg    sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

// New builds a Manager and starts its workers.
func New(cfg Config, orch *flow.Orchestrator, sessions *session.Manager, logger logging.Logger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		orch:     orch,
		sessions: sessions,
		logger:   logger,
		scans:    make(map[string]*record),
		tasks:    make(chan string, cfg.QueueDepth),
		baseCtx:  ctx,
		stop:     cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Start registers a new scan and hands it to the worker pool. The returned
// id is immediately queryable via Status even before a worker picks the
// scan up.
func (m *Manager) Start(mode, targetURL string, opts flow.Options) (string, error) {
	if !flow.ValidMode(mode) {
		return "", fmt.Errorf("unknown scan mode %q", mode)
	}
	if targetURL == "" {
		return "", errors.New("target url is required")
	}
	if opts.ProgressStep <= 0 {
		opts.ProgressStep = phases.DefaultProgressStep
	}

	id := uuid.New().String()[:8]
	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(m.baseCtx)
	rec := &record{
		id:         id,
		mode:       mode,
		target:     targetURL,
		opts:       opts,
		status:     StatusRunning,
		phase:      "initializing",
		message:    "Scan starting...",
		startTime:  now,
		lastUpdate: now,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan Event, eventBuffer),
	}

	// The closed check and the enqueue share one critical section: Close
	// sets closed under the same mutex before closing the task channel, so a
	// send that got past the check cannot race the close.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	select {
	case m.tasks <- id:
	default:
		m.mu.Unlock()
		cancel()
		return "", ErrBusy
	}
	m.scans[id] = rec
	m.emitLocked(rec, Event{ScanID: id, Type: EventStatus, Status: StatusRunning, Phase: rec.phase, Message: rec.message})
	m.mu.Unlock()

	m.logger.Info("scan accepted",
		logging.Field{Key: "scan_id", Value: id},
		logging.Field{Key: "mode", Value: mode},
		logging.Field{Key: "target", Value: targetURL},
	)
	return id, nil
}

// Status returns a snapshot of one scan.
func (m *Manager) Status(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.scans[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return rec.snapshot(time.Now().UTC()), nil
}

// List returns a summary of every known scan keyed by id.
func (m *Manager) List() map[string]Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	out := make(map[string]Summary, len(m.scans))
	for id, rec := range m.scans {
		out[id] = rec.summary(now)
	}
	return out
}

// Events returns the scan's progress stream. The channel is closed when the
// scan reaches a terminal state.
func (m *Manager) Events(id string) (<-chan Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.scans[id]
	if !ok {
		return nil, false
	}
	return rec.events, true
}

// Cancel requests cancellation of a running scan. It reports false for
// unknown ids and for scans that already reached a terminal state. A scan
// still waiting in the queue transitions to cancelled without a single call
// to the scanner.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	rec, ok := m.scans[id]
	if !ok || rec.status.Terminal() {
		m.mu.Unlock()
		return false
	}
	rec.status = StatusCancelled
	rec.message = "Scan cancelled"
	rec.lastUpdate = time.Now().UTC()
	m.emitLocked(rec, Event{ScanID: id, Type: EventStatus, Status: StatusCancelled, Message: rec.message})
	m.closeEventsLocked(rec)
	m.mu.Unlock()

	rec.cancel()
	m.logger.Info("scan cancelled", logging.Field{Key: "scan_id", Value: id})
	return true
}

// Close stops accepting scans, cancels everything in flight, and waits for
// the workers to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	close(m.tasks)
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for id := range m.tasks {
		m.runScan(id)
	}
}

func (m *Manager) runScan(id string) {
	m.mu.Lock()
	rec, ok := m.scans[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	// Cancelled while still queued: the scanner is never contacted. Cancel
	// usually recorded the terminal state already; the shutdown drain has
	// not, so settle it here.
	if rec.ctx.Err() != nil {
		m.finishCancelled(rec)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.finishFailed(rec, fmt.Sprintf("internal error: %v", r))
		}
	}()

	sessionID, err := m.sessions.Create(rec.ctx, "")
	if err != nil {
		// Fall back to whatever session the scanner currently holds.
		m.logger.Warn("session creation failed, reusing current session",
			logging.Field{Key: "scan_id", Value: id},
			logging.Field{Key: "error", Value: err.Error()},
		)
		sessionID = ""
	}

	onProgress := func(phase string, pct int, msg string) {
		m.updateProgress(rec, phase, pct, msg)
	}

	report, err := m.orch.Run(rec.ctx, rec.mode, id, rec.target, rec.opts, sessionID, onProgress)
	switch {
	case err == nil:
		m.finishCompleted(rec, report)
	case rec.ctx.Err() != nil:
		m.finishCancelled(rec)
	default:
		m.finishFailed(rec, err.Error())
	}
}

func (m *Manager) updateProgress(rec *record, phase string, pct int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.status.Terminal() {
		return
	}
	rec.phase = phase
	rec.progress = pct
	rec.message = msg
	rec.lastUpdate = time.Now().UTC()
	m.emitLocked(rec, Event{ScanID: rec.id, Type: EventProgress, Status: StatusRunning, Phase: phase, Progress: pct, Message: msg})
}

func (m *Manager) finishCompleted(rec *record, report *flow.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.status.Terminal() {
		return
	}
	rec.status = StatusCompleted
	rec.progress = 100
	rec.message = "Scan completed"
	rec.result = report
	rec.lastUpdate = time.Now().UTC()
	m.emitLocked(rec, Event{ScanID: rec.id, Type: EventResult, Status: StatusCompleted, Progress: 100, Message: rec.message})
	m.closeEventsLocked(rec)
	m.logger.Info("scan completed", logging.Field{Key: "scan_id", Value: rec.id})
}

func (m *Manager) finishFailed(rec *record, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.status.Terminal() {
		return
	}
	rec.status = StatusFailed
	rec.message = "Scan failed"
	rec.errMsg = errMsg
	rec.lastUpdate = time.Now().UTC()
	m.emitLocked(rec, Event{ScanID: rec.id, Type: EventStatus, Status: StatusFailed, Message: rec.message, Error: errMsg})
	m.closeEventsLocked(rec)
	m.logger.Error("scan failed",
		logging.Field{Key: "scan_id", Value: rec.id},
		logging.Field{Key: "error", Value: errMsg},
	)
}

func (m *Manager) finishCancelled(rec *record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.status.Terminal() {
		return
	}
	rec.status = StatusCancelled
	rec.message = "Scan cancelled"
	rec.lastUpdate = time.Now().UTC()
	m.emitLocked(rec, Event{ScanID: rec.id, Type: EventStatus, Status: StatusCancelled, Message: rec.message})
	m.closeEventsLocked(rec)
}

// emitLocked pushes an event without blocking; slow or absent consumers lose
// intermediate events rather than stalling the scan. Caller holds m.mu.
func (m *Manager) emitLocked(rec *record, ev Event) {
	if rec.eventsClosed {
		return
	}
	select {
	case rec.events <- ev:
	default:
	}
}

func (m *Manager) closeEventsLocked(rec *record) {
	if rec.eventsClosed {
		return
	}
	rec.eventsClosed = true
	close(rec.events)
}
