package tactile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"testmend/internal/logging"
)

// DirectExecutor runs commands on the host with os/exec.
type DirectExecutor struct {
	config ExecutorConfig
}

// NewDirectExecutor creates a direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a direct executor.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.TactileDebug("DirectExecutor: timeout=%s max=%s output cap=%d bytes",
		config.DefaultTimeout, config.MaxTimeout, config.MaxOutputBytes)
	return &DirectExecutor{config: config}
}

// Validate implements Executor.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	return nil
}

// Execute implements Executor. The tool runs in its own process group, and
// the whole group is killed on timeout or cancellation.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("rejected command %q: %v", cmd.String(), err)
		return nil, err
	}
	cmd = e.config.resolve(cmd)

	timer := logging.StartTimer(logging.CategoryTactile, cmd.Binary)
	defer timer.Stop()
	logging.Tactile("exec %s (dir=%s timeout=%s)", cmd.String(), cmd.Dir, cmd.Timeout)

	runCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Binary, cmd.Arguments...)
	proc.Dir = cmd.Dir
	proc.Env = e.environment(cmd.Env)
	setupProcessGroup(proc)
	proc.Cancel = func() error { return killProcessGroup(proc) }
	// Grandchildren holding the output pipes must not block Wait forever.
	proc.WaitDelay = 5 * time.Second

	out := &cappedBuffer{max: cmd.MaxOutputBytes}
	proc.Stdout = out
	proc.Stderr = out

	start := time.Now()
	err := proc.Run()
	result := &ExecutionResult{
		ExitCode: -1,
		Duration: time.Since(start),
	}
	result.Output, result.DiscardedBytes = out.contents()
	result.Truncated = result.DiscardedBytes > 0
	if result.Truncated {
		logging.TactileWarn("%s: output capped, %d bytes discarded", cmd.Binary, result.DiscardedBytes)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Started = true
		result.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.Started = true
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", cmd.Timeout)
		logging.TactileWarn("%s killed: %s", cmd.Binary, result.KillReason)
	case ctx.Err() != nil:
		result.Started = true
		result.Killed = true
		result.KillReason = ctx.Err().Error()
	case errors.As(err, &exitErr):
		result.Started = true
		result.ExitCode = exitErr.ExitCode()
	default:
		result.Error = err.Error()
		logging.TactileError("%s could not run: %v", cmd.Binary, err)
		return result, nil
	}

	logging.Tactile("%s -> exit=%d in %s (%d bytes)", cmd.Binary, result.ExitCode, result.Duration, len(result.Output))
	return result, nil
}

func (e *DirectExecutor) environment(extra []string) []string {
	env := make([]string, 0, len(e.config.AllowedEnv)+len(extra))
	for _, key := range e.config.AllowedEnv {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return append(env, extra...)
}

// cappedBuffer collects stdout and stderr in one stream, keeping the first
// max bytes. os/exec copies the two pipes from separate goroutines.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int64
	discarded int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.max - int64(len(b.buf))
	switch {
	case room <= 0:
		b.discarded += int64(len(p))
	case int64(len(p)) > room:
		b.buf = append(b.buf, p[:room]...)
		b.discarded += int64(len(p)) - room
	default:
		b.buf = append(b.buf, p...)
	}
	// Report the full length so the copier never sees a short write.
	return len(p), nil
}

func (b *cappedBuffer) contents() (string, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf), b.discarded
}
