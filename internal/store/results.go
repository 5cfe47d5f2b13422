// Package store persists one results record per repaired suite.
package store

import (
	"context"
	"time"
)

// Record is the summary of one suite's repair session.
type Record struct {
	SessionID           string
	Suite               string
	Archive             string
	UncompilableMethods int
	UncompilableClasses int
	FailingMethods      int
	Outcome             string
	Changed             bool
	DurationMs          int64
	CreatedAt           time.Time

	// Triage detail
	RemovedAssertions int
	CompileAttempts   int
	RunAttempts       int
	ClassFailures     []string
}

// Sink receives results records. Append must be safe for concurrent use and
// atomic per record.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// NopSink discards every record.
type NopSink struct{}

// Append implements Sink.
func (NopSink) Append(context.Context, Record) error { return nil }

// Close implements Sink.
func (NopSink) Close() error { return nil }
