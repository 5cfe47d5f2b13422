// Package repair drives a generated test suite to a stable state: compile,
// run, prune what fails, and repeat until the suite passes a configured
// number of consecutive runs.
package repair

import (
	"path/filepath"
	"time"

	"testmend/internal/store"
)

// Outcome is the terminal state of a session.
type Outcome string

const (
	OutcomePending       Outcome = ""
	OutcomeConverged     Outcome = "converged"
	OutcomeUnexecutable  Outcome = "unexecutable"
	OutcomeClassFailures Outcome = "class_failures"
	OutcomeAborted       Outcome = "aborted"
)

// Session is the state of one suite under repair. Only the Engine mutates
// it once the loop has started.
type Session struct {
	ID      string
	Suite   string
	Archive string

	// WorkDir is the session directory, owned exclusively by this session.
	WorkDir string
	// CopyDir is the extracted working copy; tools run from here.
	CopyDir string
	// SourceRoot is the test source root inside CopyDir.
	SourceRoot string

	Runs               int
	RemainingCleanRuns int
	Changed            bool

	RemovedUncompilableMethods int
	RemovedUncompilableClasses int
	RemovedFailingMethods      int
	RemovedAssertions          int

	CompileAttempts int
	RunAttempts     int

	Outcome       Outcome
	ClassFailures []string
	LastRunLog    string

	StartedAt  time.Time
	FinishedAt time.Time

	requestSeq int
}

// NewSession lays out a session rooted at workDir. sourceDir is relative to
// the extracted copy.
func NewSession(id, suite, archivePath, workDir, sourceDir string, runs int) *Session {
	copyDir := filepath.Join(workDir, "suite")
	return &Session{
		ID:                 id,
		Suite:              suite,
		Archive:            archivePath,
		WorkDir:            workDir,
		CopyDir:            copyDir,
		SourceRoot:         filepath.Join(copyDir, sourceDir),
		Runs:               runs,
		RemainingCleanRuns: runs,
		StartedAt:          time.Now(),
	}
}

// RequestsDir holds one file per applied removal batch.
func (s *Session) RequestsDir() string {
	return filepath.Join(s.WorkDir, "requests")
}

// PatchLogPath is the unified diff log of every removal.
func (s *Session) PatchLogPath() string {
	return filepath.Join(s.WorkDir, "removals.patch")
}

// Removed is the total number of removed artifacts.
func (s *Session) Removed() int {
	return s.RemovedUncompilableMethods + s.RemovedUncompilableClasses + s.RemovedFailingMethods
}

// Duration is the wall time of the session so far.
func (s *Session) Duration() time.Duration {
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// Record summarizes the session for the results sink.
func (s *Session) Record() store.Record {
	return store.Record{
		SessionID:           s.ID,
		Suite:               s.Suite,
		Archive:             s.Archive,
		UncompilableMethods: s.RemovedUncompilableMethods,
		UncompilableClasses: s.RemovedUncompilableClasses,
		FailingMethods:      s.RemovedFailingMethods,
		Outcome:             string(s.Outcome),
		Changed:             s.Changed,
		DurationMs:          s.Duration().Milliseconds(),
		CreatedAt:           s.FinishedAt,
		RemovedAssertions:   s.RemovedAssertions,
		CompileAttempts:     s.CompileAttempts,
		RunAttempts:         s.RunAttempts,
		ClassFailures:       s.ClassFailures,
	}
}

func (s *Session) nextRequestFile() string {
	s.requestSeq++
	return filepath.Join(s.RequestsDir(), fmtSeq(s.requestSeq)+".txt")
}
