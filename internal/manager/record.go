package manager

import (
	"context"
	"time"

	"github.com/zapgate/zapgate/internal/flow"
)

// Status is the lifecycle state of a scan. A scan enters running at creation
// and transitions exactly once into one of the terminal states.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// EventType classifies progress-stream events.
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
)

// Event is one entry in a scan's progress stream.
type Event struct {
	ScanID string    `json:"scan_id"`
	Type   EventType `json:"type"`

	Status   Status `json:"status,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// record is the manager-owned state of one scan. It is mutated only while
// holding the manager's lock; phase runners feed changes back exclusively
// through the progress callback.
type record struct {
	id     string
	mode   string
	target string
	opts   flow.Options

	status   Status
	progress int
	phase    string
	message  string

	result *flow.Report
	errMsg string

	startTime  time.Time
	lastUpdate time.Time

	ctx    context.Context
	cancel context.CancelFunc

	events       chan Event
	eventsClosed bool
}

// Snapshot is a read-only copy of a scan's state handed to callers.
type Snapshot struct {
	ID           string `json:"scan_id"`
	Mode         string `json:"mode"`
	Target       string `json:"target"`
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	CurrentPhase string `json:"current_phase"`
	Message      string `json:"message"`

	StartTime            time.Time `json:"start_time"`
	LastUpdate           time.Time `json:"last_update"`
	RuntimeSeconds       float64   `json:"runtime_seconds"`
	LastUpdateAgoSeconds float64   `json:"last_update_ago_seconds"`

	Result *flow.Report `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Summary is the compact per-scan view returned by List.
type Summary struct {
	Mode         string `json:"mode"`
	Target       string `json:"target"`
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	CurrentPhase string `json:"current_phase"`
	Message      string `json:"message"`

	StartTime            time.Time `json:"start_time"`
	LastUpdate           time.Time `json:"last_update"`
	RuntimeSeconds       float64   `json:"runtime_seconds"`
	LastUpdateAgoSeconds float64   `json:"last_update_ago_seconds"`
}

func (r *record) snapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:                   r.id,
		Mode:                 r.mode,
		Target:               r.target,
		Status:               r.status,
		Progress:             r.progress,
		CurrentPhase:         r.phase,
		Message:              r.message,
		StartTime:            r.startTime,
		LastUpdate:           r.lastUpdate,
		RuntimeSeconds:       roundSeconds(now.Sub(r.startTime)),
		LastUpdateAgoSeconds: roundSeconds(now.Sub(r.lastUpdate)),
		Result:               r.result,
		Error:                r.errMsg,
	}
}

func (r *record) summary(now time.Time) Summary {
	return Summary{
		Mode:                 r.mode,
		Target:               r.target,
		Status:               r.status,
		Progress:             r.progress,
		CurrentPhase:         r.phase,
		Message:              r.message,
		StartTime:            r.startTime,
		LastUpdate:           r.lastUpdate,
		RuntimeSeconds:       roundSeconds(now.Sub(r.startTime)),
		LastUpdateAgoSeconds: roundSeconds(now.Sub(r.lastUpdate)),
	}
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()/10) / 100
}
