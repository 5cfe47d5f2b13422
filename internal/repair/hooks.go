package repair

import "context"

// PostConvergencePhase runs after a session converges, in registration
// order. An error aborts the session and the batch. Per-test isolated
// execution plugs in here.
type PostConvergencePhase interface {
	Name() string
	Check(ctx context.Context, s *Session) error
}

// PhaseFunc adapts a function to PostConvergencePhase.
type PhaseFunc struct {
	PhaseName string
	Fn        func(ctx context.Context, s *Session) error
}

// Name implements PostConvergencePhase.
func (p PhaseFunc) Name() string { return p.PhaseName }

// Check implements PostConvergencePhase.
func (p PhaseFunc) Check(ctx context.Context, s *Session) error { return p.Fn(ctx, s) }
