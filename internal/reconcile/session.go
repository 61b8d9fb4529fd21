package reconcile

import (
	"time"
)

// LogEntry is one human/machine-readable log line of a reconciliation.
type LogEntry struct {
	Time    string         `json:"time"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// Session is the mutable reconciliation context threaded through the
// diff engine and executor. It accumulates identity state, exposed
// properties, console links, and log entries, and records the retry or
// permanent-failure outcome. Everything needed to resume an interrupted
// reconciliation serializes into a Snapshot.
type Session struct {
	Queue    *Queue
	State    map[string]string
	Props    map[string]string
	Links    map[string]string
	Logs     []LogEntry
	Progress int

	Retry   *RetryMarker
	Failure *Failure
}

// NewSession creates an empty session with an empty queue.
func NewSession() *Session {
	return &Session{
		Queue: NewQueue(),
		State: make(map[string]string),
		Props: make(map[string]string),
		Links: make(map[string]string),
	}
}

// SetState records an identity fact (name, arn, role, bus) for later
// operations.
func (s *Session) SetState(key, value string) {
	s.State[key] = value
}

// AddProps merges externally-exposed attribute values.
func (s *Session) AddProps(props map[string]string) {
	for key, value := range props {
		s.Props[key] = value
	}
}

// AddLinks merges console links.
func (s *Session) AddLinks(links map[string]string) {
	for key, value := range links {
		s.Links[key] = value
	}
}

// AddLog appends a log entry.
func (s *Session) AddLog(message string, data map[string]any) {
	s.appendLog(message, data, false)
}

// AddErrorLog appends an error log entry.
func (s *Session) AddErrorLog(message string, data map[string]any) {
	s.appendLog(message, data, true)
}

func (s *Session) appendLog(message string, data map[string]any, isError bool) {
	s.Logs = append(s.Logs, LogEntry{
		Time:    time.Now().UTC().Format(time.RFC3339),
		Message: message,
		Data:    data,
		IsError: isError,
	})
}

// RetryError records a retryable failure with a resumption marker.
// The first marker recorded in an invocation wins; the queue is left
// untouched so the next invocation resumes at the exact operation.
func (s *Session) RetryError(marker string, progress, callbackSec int) {
	if s.Retry != nil {
		return
	}
	s.Retry = &RetryMarker{Marker: marker, Progress: progress, CallbackSec: callbackSec}
	s.Progress = progress
}

// PermError marks the whole reconciliation permanently failed.
func (s *Session) PermError(code, message string, progress int) {
	if s.Failure != nil {
		return
	}
	s.Failure = &Failure{Code: code, Message: message}
	s.Progress = progress
}

// Halted reports whether execution must stop (retry or permanent
// failure recorded).
func (s *Session) Halted() bool {
	return s.Retry != nil || s.Failure != nil
}

// Snapshot is the serialized resumption state passed back to the caller
// (and persisted) when an invocation ends with work still queued.
type Snapshot struct {
	Digest string            `json:"digest,omitempty"`
	Ops    []Op              `json:"ops"`
	State  map[string]string `json:"state,omitempty"`
	Props  map[string]string `json:"props,omitempty"`
	Links  map[string]string `json:"links,omitempty"`
	Retry  *RetryMarker      `json:"retry,omitempty"`
}

// Snapshot captures the session's resumption state.
func (s *Session) Snapshot() *Snapshot {
	ops := make([]Op, len(s.Queue.ops))
	copy(ops, s.Queue.ops)

	return &Snapshot{
		Ops:   ops,
		State: copyMap(s.State),
		Props: copyMap(s.Props),
		Links: copyMap(s.Links),
		Retry: s.Retry,
	}
}

// RestoreSession rebuilds a session from a snapshot. The retry marker is
// cleared so the resumed invocation re-attempts the queued operation.
func RestoreSession(snap *Snapshot) *Session {
	s := NewSession()
	s.Queue.ops = append(s.Queue.ops, snap.Ops...)

	for key, value := range snap.State {
		s.State[key] = value
	}
	for key, value := range snap.Props {
		s.Props[key] = value
	}
	for key, value := range snap.Links {
		s.Links[key] = value
	}

	return s
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for key, value := range m {
		out[key] = value
	}
	return out
}
