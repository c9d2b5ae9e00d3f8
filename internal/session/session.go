// Package session manages analysis sessions on the scanner. Each scan runs
// under its own uniquely named session so findings from concurrent scans stay
// isolated; the resolved session id is threaded explicitly through every
// phase call rather than held in shared state.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/zapclient"
)

// Caller performs a single named action call against the scanner's control
// API. *zapclient.Client satisfies it.
type Caller interface {
	Invoke(ctx context.Context, path string, params map[string]string, sessionID string) (zapclient.Result, error)
}

// Manager creates and touches scanner-side analysis sessions.
type Manager struct {
	caller   Caller
	baseName string
	logger   logging.Logger
}

// NewManager builds a session Manager. baseName is the prefix for generated
// session names.
func NewManager(caller Caller, baseName string, logger logging.Logger) *Manager {
	return &Manager{
		caller:   caller,
		baseName: baseName,
		logger:   logger.With(logging.Field{Key: "component", Value: "session"}),
	}
}

// Create makes a new analysis session on the scanner and returns its id.
// With an empty name, a unique timestamp-suffixed name is generated. Any
// alerts lingering in the new session are cleared best-effort so the scan
// starts from a clean slate.
func (m *Manager) Create(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("%s_%d", m.baseName, time.Now().Unix())
	}

	if _, err := m.caller.Invoke(ctx, "/JSON/core/action/newSession/",
		map[string]string{"name": name}, ""); err != nil {
		return "", fmt.Errorf("creating session %q: %w", name, err)
	}
	m.logger.Info("created analysis session", logging.Field{Key: "session", Value: name})

	if _, err := m.caller.Invoke(ctx, "/JSON/core/action/deleteAllAlerts/", nil, name); err != nil {
		m.logger.Warn("clearing alerts in new session failed",
			logging.Field{Key: "session", Value: name},
			logging.Field{Key: "error", Value: err.Error()})
	}
	return name, nil
}

// Touch registers target in the scanner's URL tree by accessing it once.
// This only seeds the scanner's UI view; scanning works without it, so
// failures are logged and ignored.
func (m *Manager) Touch(ctx context.Context, targetURL, sessionID string) {
	if _, err := m.caller.Invoke(ctx, "/JSON/core/action/accessUrl/",
		map[string]string{"url": targetURL}, sessionID); err != nil {
		m.logger.Warn("target touch failed",
			logging.Field{Key: "target", Value: targetURL},
			logging.Field{Key: "error", Value: err.Error()})
	}
}
