package repair

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProgress means a pruning cycle removed nothing while the tools
	// still reported failures.
	ErrNoProgress = errors.New("removal made no progress")

	// ErrUnparseableLog means compilation failed but no diagnostic could be
	// extracted from the compiler log.
	ErrUnparseableLog = errors.New("compiler log has no recognizable diagnostics")

	// ErrOutsideWorkingCopy means a diagnostic names a file outside the
	// session's source root.
	ErrOutsideWorkingCopy = errors.New("path outside working copy")
)

// FatalError aborts the whole batch. It names the suite and the artifact
// involved.
type FatalError struct {
	Suite    string
	Artifact string
	Err      error
}

func (e *FatalError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("suite %s: %v", e.Suite, e.Err)
	}
	return fmt.Sprintf("suite %s: %s: %v", e.Suite, e.Artifact, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(s *Session, artifact string, err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Suite: s.Suite, Artifact: artifact, Err: err}
}

func fmtSeq(n int) string {
	return fmt.Sprintf("%03d", n)
}
