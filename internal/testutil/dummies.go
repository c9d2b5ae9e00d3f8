// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/zapgate/zapgate/internal/logging"
	"github.com/zapgate/zapgate/internal/zapclient"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// WarnCount returns how many warnings were recorded.
func (l *DummyLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Warns)
}

// ─── StubCaller ────────────────────────────────────────────────────────

// Invocation records one call made against a StubCaller.
type Invocation struct {
	Path      string
	Params    map[string]string
	SessionID string
}

// StubCaller is a scriptable scanner endpoint. Each path maps to either a
// fixed result, an error, or a sequence consumed one element per call.
// Unscripted paths answer with an empty result. All scan and orchestration
// packages accept it through their local Caller interfaces.
type StubCaller struct {
	// Delay, when set, is waited before answering; the wait honours ctx.
	Delay time.Duration

	mu          sync.Mutex
	Invocations []Invocation
	fixed       map[string]stubAnswer
	sequences   map[string][]stubAnswer
}

type stubAnswer struct {
	res zapclient.Result
	err error
}

// NewStubCaller returns an empty StubCaller ready for scripting.
func NewStubCaller() *StubCaller {
	return &StubCaller{
		fixed:     make(map[string]stubAnswer),
		sequences: make(map[string][]stubAnswer),
	}
}

// Respond scripts a fixed result for path.
func (s *StubCaller) Respond(path string, res zapclient.Result) *StubCaller {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed[path] = stubAnswer{res: res}
	return s
}

// Fail scripts a fixed error for path.
func (s *StubCaller) Fail(path string, err error) *StubCaller {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed[path] = stubAnswer{err: err}
	return s
}

// Sequence scripts a series of results for path, consumed in order. After
// the series is exhausted the last element keeps answering.
func (s *StubCaller) Sequence(path string, results ...zapclient.Result) *StubCaller {
	s.mu.Lock()
	defer s.mu.Unlock()
	answers := make([]stubAnswer, 0, len(results))
	for _, r := range results {
		answers = append(answers, stubAnswer{res: r})
	}
	s.sequences[path] = answers
	return s
}

// SequenceAnswers scripts a mixed series of results and errors for path.
// A nil result with a non-nil error produces that error for the call.
func (s *StubCaller) SequenceAnswers(path string, answers ...StubAnswer) *StubCaller {
	s.mu.Lock()
	defer s.mu.Unlock()
	converted := make([]stubAnswer, 0, len(answers))
	for _, a := range answers {
		converted = append(converted, stubAnswer{res: a.Res, err: a.Err})
	}
	s.sequences[path] = converted
	return s
}

// StubAnswer is one scripted answer for SequenceAnswers.
type StubAnswer struct {
	Res zapclient.Result
	Err error
}

func (s *StubCaller) Invoke(ctx context.Context, path string, params map[string]string, sessionID string) (zapclient.Result, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	s.Invocations = append(s.Invocations, Invocation{Path: path, Params: cp, SessionID: sessionID})

	if seq, ok := s.sequences[path]; ok && len(seq) > 0 {
		ans := seq[0]
		if len(seq) > 1 {
			s.sequences[path] = seq[1:]
		}
		return ans.res, ans.err
	}
	if ans, ok := s.fixed[path]; ok {
		return ans.res, ans.err
	}
	return zapclient.Result{}, nil
}

// Calls returns how many invocations hit path.
func (s *StubCaller) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inv := range s.Invocations {
		if inv.Path == path {
			n++
		}
	}
	return n
}

// TotalCalls returns the number of invocations across all paths.
func (s *StubCaller) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Invocations)
}
