package tactile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType classifies an audit event.
type AuditEventType string

const (
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
	AuditEventRejected AuditEventType = "rejected"
)

// AuditEvent records one step of a command's life.
type AuditEvent struct {
	Type       AuditEventType `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  string         `json:"session_id,omitempty"`
	Command    string         `json:"command"`
	Binary     string         `json:"binary"`
	Dir        string         `json:"dir,omitempty"`
	ExitCode   int            `json:"exit_code,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	KillReason string         `json:"kill_reason,omitempty"`
	Truncated  bool           `json:"truncated,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// AuditLog fans audit events out to metrics, callbacks and an optional
// JSON Lines file. It is safe for concurrent use.
type AuditLog struct {
	mu        sync.RWMutex
	callbacks []func(AuditEvent)
	file      *os.File
	path      string
	metrics   *ExecutionMetrics
}

// NewAuditLog creates an audit log with metrics and no file.
func NewAuditLog() *AuditLog {
	return &AuditLog{metrics: NewExecutionMetrics()}
}

// AddCallback registers fn for every event.
func (l *AuditLog) AddCallback(fn func(AuditEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

// EnableFile appends events to path as JSON Lines.
func (l *AuditLog) EnableFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.path = path
	return nil
}

// Path returns the audit file path, or "" when file logging is off.
func (l *AuditLog) Path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// Log records an event.
func (l *AuditLog) Log(event AuditEvent) {
	l.metrics.Record(event)

	l.mu.RLock()
	callbacks := l.callbacks
	l.mu.RUnlock()
	for _, cb := range callbacks {
		cb(event)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if data, err := json.Marshal(event); err == nil {
		_, _ = l.file.Write(append(data, '\n'))
	}
}

// Metrics returns a snapshot of the execution metrics.
func (l *AuditLog) Metrics() ExecutionMetricsSnapshot {
	return l.metrics.Snapshot()
}

// Close closes the audit file, if any.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ExecutionMetrics tracks aggregate execution statistics.
type ExecutionMetrics struct {
	mu sync.Mutex

	total     int64
	succeeded int64
	nonZero   int64
	failed    int64
	killed    int64
	rejected  int64

	totalDurationMs int64
	byBinary        map[string]int64
	bySession       map[string]int64
}

// NewExecutionMetrics creates an empty metrics tracker.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{
		byBinary:  make(map[string]int64),
		bySession: make(map[string]int64),
	}
}

// Record updates the metrics from one event.
func (m *ExecutionMetrics) Record(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Type {
	case AuditEventStart:
		m.total++
		m.byBinary[event.Binary]++
		if event.SessionID != "" {
			m.bySession[event.SessionID]++
		}
	case AuditEventComplete:
		if event.ExitCode == 0 {
			m.succeeded++
		} else {
			m.nonZero++
		}
		m.totalDurationMs += event.DurationMs
	case AuditEventKilled:
		m.killed++
		m.totalDurationMs += event.DurationMs
	case AuditEventError:
		m.failed++
	case AuditEventRejected:
		m.rejected++
	}
}

// ExecutionMetricsSnapshot is a point-in-time copy of ExecutionMetrics.
type ExecutionMetricsSnapshot struct {
	Total           int64            `json:"total"`
	Succeeded       int64            `json:"succeeded"`
	NonZeroExit     int64            `json:"non_zero_exit"`
	Failed          int64            `json:"failed"`
	Killed          int64            `json:"killed"`
	Rejected        int64            `json:"rejected"`
	TotalDurationMs int64            `json:"total_duration_ms"`
	ByBinary        map[string]int64 `json:"by_binary"`
	BySession       map[string]int64 `json:"by_session"`
}

// Snapshot returns a copy of the current metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byBinary := make(map[string]int64, len(m.byBinary))
	for k, v := range m.byBinary {
		byBinary[k] = v
	}
	bySession := make(map[string]int64, len(m.bySession))
	for k, v := range m.bySession {
		bySession[k] = v
	}
	return ExecutionMetricsSnapshot{
		Total:           m.total,
		Succeeded:       m.succeeded,
		NonZeroExit:     m.nonZero,
		Failed:          m.failed,
		Killed:          m.killed,
		Rejected:        m.rejected,
		TotalDurationMs: m.totalDurationMs,
		ByBinary:        byBinary,
		BySession:       bySession,
	}
}

// AuditedExecutor wraps an Executor and logs every invocation.
type AuditedExecutor struct {
	executor Executor
	log      *AuditLog
}

// NewAuditedExecutor wraps executor with log.
func NewAuditedExecutor(executor Executor, log *AuditLog) *AuditedExecutor {
	return &AuditedExecutor{executor: executor, log: log}
}

// Execute runs cmd through the wrapped executor, logging start and outcome.
func (a *AuditedExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	base := AuditEvent{
		SessionID: cmd.SessionID,
		Command:   cmd.String(),
		Binary:    cmd.Binary,
		Dir:       cmd.Dir,
	}

	start := base
	start.Type = AuditEventStart
	start.Timestamp = time.Now()
	a.log.Log(start)

	result, err := a.executor.Execute(ctx, cmd)

	end := base
	end.Timestamp = time.Now()
	switch {
	case err != nil:
		end.Type = AuditEventRejected
		end.Error = err.Error()
	case result.IsError():
		end.Type = AuditEventError
		end.Error = result.Error
	case result.Killed:
		end.Type = AuditEventKilled
		end.KillReason = result.KillReason
		end.DurationMs = result.Duration.Milliseconds()
	default:
		end.Type = AuditEventComplete
		end.ExitCode = result.ExitCode
		end.DurationMs = result.Duration.Milliseconds()
		end.Truncated = result.Truncated
	}
	a.log.Log(end)
	return result, err
}

// Validate delegates to the wrapped executor.
func (a *AuditedExecutor) Validate(cmd Command) error {
	return a.executor.Validate(cmd)
}
