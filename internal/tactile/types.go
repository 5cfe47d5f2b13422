// Package tactile runs the external tools a repair session depends on: the
// build tool that compiles a suite and the harness that executes it.
//
// Every invocation is synchronous. Output is captured in arrival order with a
// size cap, and the result separates "the tool ran and exited non-zero" from
// "the tool could not be run at all", which the repair loop treats very
// differently.
package tactile

import (
	"strings"
	"time"
)

// Command is one tool invocation.
type Command struct {
	Binary    string
	Arguments []string

	// Dir is the working directory; empty means the executor default.
	Dir string

	// Env holds KEY=VALUE pairs appended to the allowed host environment.
	Env []string

	// Timeout of zero means the executor default.
	Timeout time.Duration

	// MaxOutputBytes of zero means the executor default.
	MaxOutputBytes int64

	// SessionID ties the invocation to a repair session in audit records.
	SessionID string
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult describes how an invocation ended.
type ExecutionResult struct {
	// Started is false when the process could not be launched or waited on.
	// A tool that runs and exits non-zero has Started=true.
	Started bool

	// ExitCode is -1 when the process did not exit on its own.
	ExitCode int

	// Output is stdout and stderr interleaved in arrival order.
	Output string

	Duration time.Duration

	// Killed is set when the timeout or the caller's context ended the run.
	Killed     bool
	KillReason string

	// Truncated is set when output beyond the cap was discarded.
	Truncated      bool
	DiscardedBytes int64

	// Error holds the launch failure when Started is false.
	Error string
}

// IsError reports a launch or wait failure.
func (r *ExecutionResult) IsError() bool {
	return !r.Started || r.Error != ""
}

// IsNonZeroExit reports a tool that ran to completion and failed.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Started && !r.Killed && r.ExitCode != 0
}

// Tail returns the last n non-empty lines of output.
func (r *ExecutionResult) Tail(n int) string {
	lines := strings.Split(strings.TrimRight(r.Output, "\n"), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			kept = append(kept, lines[i])
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

// ExecutorConfig holds executor defaults and caps.
type ExecutorConfig struct {
	DefaultDir     string
	DefaultTimeout time.Duration

	// MaxTimeout caps every command's timeout; zero means no cap.
	MaxTimeout time.Duration

	MaxOutputBytes int64

	// AllowedEnv lists host variables passed through to tools.
	AllowedEnv []string
}

// DefaultExecutorConfig returns defaults suited to JVM build tools.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultDir:     ".",
		DefaultTimeout: 10 * time.Minute,
		MaxTimeout:     2 * time.Hour,
		MaxOutputBytes: 16 * 1024 * 1024,
		AllowedEnv:     []string{"PATH", "HOME", "JAVA_HOME", "USER", "LANG", "LC_ALL"},
	}
}

// resolve fills cmd's unset fields from the config and applies the caps.
// cmd is a value, so the caller's copy is untouched.
func (c ExecutorConfig) resolve(cmd Command) Command {
	if cmd.Dir == "" {
		cmd.Dir = c.DefaultDir
	}
	if cmd.Timeout <= 0 {
		cmd.Timeout = c.DefaultTimeout
	}
	if c.MaxTimeout > 0 && cmd.Timeout > c.MaxTimeout {
		cmd.Timeout = c.MaxTimeout
	}
	if cmd.MaxOutputBytes <= 0 {
		cmd.MaxOutputBytes = c.MaxOutputBytes
	}
	return cmd
}
