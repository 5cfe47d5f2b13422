package tactile

import (
	"context"
)

// Executor runs commands.
type Executor interface {
	// Execute runs cmd to completion. A non-nil error means cmd was rejected
	// before it started; launch failures come back as Started=false.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Validate checks cmd without running it.
	Validate(cmd Command) error
}
