package repair

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"testmend/internal/logging"
)

// Engine runs the convergence loop for one session at a time. It holds no
// per-suite state and may be shared by concurrent sessions.
type Engine struct {
	toolchain Toolchain
	compile   *CompileResolver
	run       *RunResolver
	phases    []PostConvergencePhase
}

// NewEngine wires an engine. Phases run in order after convergence.
func NewEngine(tc Toolchain, compile *CompileResolver, run *RunResolver, phases ...PostConvergencePhase) *Engine {
	return &Engine{toolchain: tc, compile: compile, run: run, phases: phases}
}

// Repair drives s to a terminal outcome. Terminal-per-suite outcomes
// (unexecutable, class failures) return nil; a non-nil error is fatal for
// the batch and leaves s.Outcome set to aborted.
func (e *Engine) Repair(ctx context.Context, s *Session, remover Remover) (err error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Repair "+s.Suite)
	defer timer.Stop()

	log := logging.Get(logging.CategoryEngine).ForSuite(s.Suite)
	defer func() {
		if err != nil {
			s.Outcome = OutcomeAborted
			log.Error("aborted: %v", err)
		}
	}()

	remover = recordingRemover{s: s, next: remover}
	log.Info("starting repair: runs=%d source=%s", s.Runs, s.SourceRoot)

	for s.RemainingCleanRuns > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.CompileAttempts++
		cr, err := e.toolchain.Compile(ctx, s)
		if err != nil {
			return fatal(s, "compiler", err)
		}
		if !cr.OK {
			log.Info("compile attempt %d failed", s.CompileAttempts)
			res, err := e.compile.Resolve(ctx, s, cr.Log, remover)
			if err != nil {
				return err
			}
			if !res.Result.Changed() {
				return fatal(s, "compiler log", fmt.Errorf("%d diagnostics, %d requests: %w",
					res.Diagnostics, res.Requests.Len(), ErrNoProgress))
			}
			s.Changed = true
			s.RemovedUncompilableMethods += res.Result.MethodsRemoved
			s.RemovedUncompilableClasses += res.Result.ClassesRemoved
			s.RemovedAssertions += res.Result.AssertionsRemoved
			continue
		}

		s.RunAttempts++
		rr, err := e.toolchain.Run(ctx, s)
		if err != nil {
			return fatal(s, "test runner", err)
		}
		s.LastRunLog = rr.Log
		if !rr.Executed {
			s.Outcome = OutcomeUnexecutable
			log.Warn("run tool could not execute the suite: %s", rr.Reason)
			return nil
		}

		if rr.Diagnostic.Clean() {
			s.RemainingCleanRuns--
			log.Debug("clean run %d, %d remaining", s.RunAttempts, s.RemainingCleanRuns)
			continue
		}

		res, err := e.run.Resolve(ctx, s, rr.Diagnostic, saveRunLog(s, rr.Log), remover)
		if err != nil {
			return err
		}
		if res.Directive == DirectiveHaltClassFailures {
			s.Outcome = OutcomeClassFailures
			s.ClassFailures = res.FailingClasses
			return nil
		}
		if !res.Result.Changed() {
			return fatal(s, "run report", fmt.Errorf("%d failing methods: %w",
				len(rr.Diagnostic.FailingMethods), ErrNoProgress))
		}
		s.Changed = true
		s.RemovedFailingMethods += res.Result.MethodsRemoved
		s.RemovedAssertions += res.Result.AssertionsRemoved
		s.RemainingCleanRuns = s.Runs
		log.Info("pruned run failures, clean-run counter reset to %d", s.Runs)
	}

	s.Outcome = OutcomeConverged
	for _, p := range e.phases {
		if err := p.Check(ctx, s); err != nil {
			return fatal(s, "phase "+p.Name(), err)
		}
	}
	log.Info("converged after %d compiles and %d runs (changed=%v, removed=%d)",
		s.CompileAttempts, s.RunAttempts, s.Changed, s.Removed())
	return nil
}

// saveRunLog keeps the output of a failing run for triage and returns its
// path, or "" when it could not be written.
func saveRunLog(s *Session, output string) string {
	path := filepath.Join(s.WorkDir, fmt.Sprintf("run-%03d.log", s.RunAttempts))
	if err := os.WriteFile(path, []byte(output), 0644); err != nil {
		logging.Get(logging.CategoryRun).ForSuite(s.Suite).Warn("could not save run log: %v", err)
		return ""
	}
	return path
}
