package repair

import (
	"context"

	"testmend/internal/diagnostic"
	"testmend/internal/removal"
)

// CompileResult is the outcome of compiling the working copy.
type CompileResult struct {
	OK  bool
	Log string
}

// RunResult is the outcome of running the suite. Executed is false when the
// run tool itself failed (launch error, crash, timeout) as opposed to tests
// failing.
type RunResult struct {
	Executed   bool
	Reason     string
	Diagnostic diagnostic.RunDiagnostic
	Log        string
}

// Toolchain compiles and runs a session's working copy. An error return is
// fatal for the whole batch.
type Toolchain interface {
	Compile(ctx context.Context, s *Session) (CompileResult, error)
	Run(ctx context.Context, s *Session) (RunResult, error)
}

// Remover applies removal batches. *removal.Executor implements it.
type Remover interface {
	Apply(ctx context.Context, b *removal.Batch) (removal.Result, error)
}

// recordingRemover writes each non-empty batch to the session's requests
// directory before applying it.
type recordingRemover struct {
	s    *Session
	next Remover
}

func (r recordingRemover) Apply(ctx context.Context, b *removal.Batch) (removal.Result, error) {
	if b.Len() == 0 {
		return removal.Result{}, nil
	}
	if err := b.WriteFile(r.s.nextRequestFile()); err != nil {
		return removal.Result{}, err
	}
	return r.next.Apply(ctx, b)
}
