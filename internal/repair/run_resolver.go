package repair

import (
	"context"

	"testmend/internal/diagnostic"
	"testmend/internal/logging"
	"testmend/internal/removal"
)

// Directive tells the engine how to continue after a run-failure cycle.
type Directive int

const (
	// DirectiveRestart means methods were removed; recompile and recount.
	DirectiveRestart Directive = iota
	// DirectiveHaltClassFailures means class-level failures were reported
	// and nothing was removed.
	DirectiveHaltClassFailures
)

// RunResolution reports what one run-failure cycle did.
type RunResolution struct {
	Directive      Directive
	FailingClasses []string
	LogRef         string
	Requests       *removal.Batch
	Result         removal.Result
}

// RunResolver removes failing test methods. It never removes anything when
// a class-level failure is present.
type RunResolver struct{}

// NewRunResolver creates a run-failure resolver.
func NewRunResolver() *RunResolver {
	return &RunResolver{}
}

// Resolve handles one failing run.
func (r *RunResolver) Resolve(ctx context.Context, s *Session, diag diagnostic.RunDiagnostic, logRef string, remover Remover) (RunResolution, error) {
	if len(diag.FailingClasses) > 0 {
		logging.Run("[%s] class-level failures in %v, leaving suite for triage", s.Suite, diag.FailingClasses)
		return RunResolution{
			Directive:      DirectiveHaltClassFailures,
			FailingClasses: append([]string(nil), diag.FailingClasses...),
			LogRef:         logRef,
		}, nil
	}

	res := RunResolution{Directive: DirectiveRestart, LogRef: logRef, Requests: removal.NewBatch()}
	for _, id := range diag.FailingMethods {
		if res.Requests.AddMethod(id.Class, id.Method) {
			logging.RunDebug("[%s] failing %s", s.Suite, id)
		}
	}

	var err error
	res.Result, err = remover.Apply(ctx, res.Requests)
	if err != nil {
		return res, fatal(s, "removal", err)
	}
	logging.Run("[%s] removed %d failing methods (%d stripped)", s.Suite, res.Result.MethodsRemoved, res.Result.MethodsStripped)
	return res, nil
}
