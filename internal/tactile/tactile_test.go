package tactile

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func sh(script string) Command {
	return Command{Binary: "sh", Arguments: []string{"-c", script}}
}

func TestDirectExecutor_Execute(t *testing.T) {
	skipOnWindows(t)
	result, err := NewDirectExecutor().Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"BUILD SUCCESSFUL"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Started || result.ExitCode != 0 {
		t.Errorf("expected clean exit, got started=%v exit=%d err=%s", result.Started, result.ExitCode, result.Error)
	}
	if strings.TrimSpace(result.Output) != "BUILD SUCCESSFUL" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	result, err := NewDirectExecutor().Execute(context.Background(),
		sh("echo '[javac] Foo.java:3: error: boom' >&2; exit 1"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.IsError() {
		t.Errorf("non-zero exit is not a launch failure: %s", result.Error)
	}
	if !result.IsNonZeroExit() || result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "error: boom") {
		t.Errorf("stderr not captured: %q", result.Output)
	}
}

func TestDirectExecutor_InterleavesOutput(t *testing.T) {
	skipOnWindows(t)
	result, err := NewDirectExecutor().Execute(context.Background(),
		sh("echo one; sleep 0.05; echo two >&2; sleep 0.05; echo three"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "one\ntwo\nthree\n" {
		t.Errorf("expected arrival order, got %q", result.Output)
	}
}

func TestDirectExecutor_LaunchFailure(t *testing.T) {
	result, err := NewDirectExecutor().Execute(context.Background(), Command{Binary: "nonexistent_command_12345"})
	if err != nil {
		t.Fatalf("Execute returned error instead of result: %v", err)
	}
	if result.Started || !result.IsError() || result.Error == "" {
		t.Errorf("expected launch failure, got %+v", result)
	}
}

func TestDirectExecutor_Timeout(t *testing.T) {
	skipOnWindows(t)
	start := time.Now()
	result, err := NewDirectExecutor().Execute(context.Background(), Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Timeout:   300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed || !strings.Contains(result.KillReason, "timeout") {
		t.Errorf("expected timeout kill, got killed=%v reason=%q", result.Killed, result.KillReason)
	}
	if result.IsNonZeroExit() {
		t.Error("a killed tool is not a non-zero exit")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout didn't work, elapsed: %v", elapsed)
	}
}

func TestDirectExecutor_ContextCancellation(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result, err := NewDirectExecutor().Execute(ctx, Command{Binary: "sleep", Arguments: []string{"10"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed || result.KillReason != "context canceled" {
		t.Errorf("expected cancellation, got killed=%v reason=%q", result.Killed, result.KillReason)
	}
}

func TestDirectExecutor_DirAndEnv(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	t.Setenv("TESTMEND_HOST_SECRET", "leak")
	executor := NewDirectExecutorWithConfig(ExecutorConfig{
		DefaultTimeout: 5 * time.Second,
		MaxOutputBytes: 1024,
		AllowedEnv:     []string{"PATH"},
	})

	cmd := sh("pwd; echo suite=$SUITE_ID secret=$TESTMEND_HOST_SECRET")
	cmd.Dir = dir
	cmd.Env = []string{"SUITE_ID=Lang-1f"}
	result, err := executor.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(result.Output, dir) && !strings.Contains(result.Output, want) {
		t.Errorf("expected working dir %s in %q", dir, result.Output)
	}
	if !strings.Contains(result.Output, "suite=Lang-1f secret=\n") {
		t.Errorf("expected command env only, got %q", result.Output)
	}
}

func TestDirectExecutor_OutputCap(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutorWithConfig(ExecutorConfig{
		DefaultTimeout: 5 * time.Second,
		MaxOutputBytes: 16,
	})

	result, err := executor.Execute(context.Background(), sh("printf '0123456789012345678901234567890123456789'"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Truncated || len(result.Output) != 16 || result.DiscardedBytes != 24 {
		t.Errorf("unexpected cap: truncated=%v kept=%d discarded=%d", result.Truncated, len(result.Output), result.DiscardedBytes)
	}
}

func TestDirectExecutor_Validate(t *testing.T) {
	executor := NewDirectExecutor()
	if err := executor.Validate(Command{}); err == nil {
		t.Error("expected error for empty binary")
	}
	if _, err := executor.Execute(context.Background(), Command{}); err == nil {
		t.Error("Execute should reject invalid command")
	}
}

func TestCommand_String(t *testing.T) {
	if got := (Command{Binary: "ant"}).String(); got != "ant" {
		t.Errorf("got %q", got)
	}
	cmd := Command{Binary: "ant", Arguments: []string{"-q", "compile.gen.tests"}}
	if got := cmd.String(); got != "ant -q compile.gen.tests" {
		t.Errorf("got %q", got)
	}
}

func TestExecutionResult_Tail(t *testing.T) {
	r := &ExecutionResult{Output: "a\nb\n\nc\n  \nd\n"}
	if got := r.Tail(2); got != "c\nd" {
		t.Errorf("Tail(2) = %q", got)
	}
	if got := r.Tail(10); got != "a\nb\nc\nd" {
		t.Errorf("Tail(10) = %q", got)
	}
	if got := (&ExecutionResult{}).Tail(3); got != "" {
		t.Errorf("empty Tail = %q", got)
	}
}

func TestExecutorConfig_Resolve(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MaxTimeout = time.Second

	got := cfg.resolve(Command{Binary: "ant", Timeout: time.Minute})
	if got.Dir != "." {
		t.Errorf("expected default dir, got %q", got.Dir)
	}
	if got.Timeout != time.Second {
		t.Errorf("timeout should be capped to 1s, got %s", got.Timeout)
	}
	if got.MaxOutputBytes != cfg.MaxOutputBytes {
		t.Errorf("output cap should default, got %d", got.MaxOutputBytes)
	}

	cfg.MaxTimeout = 0
	if got := cfg.resolve(Command{Binary: "ant"}); got.Timeout != cfg.DefaultTimeout {
		t.Errorf("zero timeout should default, got %s", got.Timeout)
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	b.Write([]byte("gh"))
	out, discarded := b.contents()
	if out != "abcd" || discarded != 4 {
		t.Errorf("unexpected state: out=%q discarded=%d", out, discarded)
	}
}

func TestDirectExecutor_TimeoutKillsChildren(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	// The background sleep inherits stdout; without a group kill Wait would
	// block until it exits.
	start := time.Now()
	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "sleep 20 & sleep 20"},
		Timeout:   300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed {
		t.Errorf("expected command to be killed")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("children outlived the timeout, elapsed: %v", elapsed)
	}
}

func TestAuditedExecutor(t *testing.T) {
	skipOnWindows(t)
	log := NewAuditLog()
	path := filepath.Join(t.TempDir(), "audit", "commands.jsonl")
	if err := log.EnableFile(path); err != nil {
		t.Fatalf("EnableFile: %v", err)
	}
	var events []AuditEvent
	log.AddCallback(func(e AuditEvent) { events = append(events, e) })

	executor := NewAuditedExecutor(NewDirectExecutor(), log)
	ctx := context.Background()
	executor.Execute(ctx, Command{Binary: "true", SessionID: "s1"})
	executor.Execute(ctx, Command{Binary: "false", SessionID: "s1"})
	executor.Execute(ctx, Command{Binary: "sleep", Arguments: []string{"5"}, SessionID: "s2", Timeout: 100 * time.Millisecond})
	executor.Execute(ctx, Command{Binary: "/nonexistent/binary/xyz"})
	executor.Execute(ctx, Command{})

	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m := log.Metrics()
	if m.Total != 5 || m.Succeeded != 1 || m.NonZeroExit != 1 || m.Killed != 1 || m.Failed != 1 || m.Rejected != 1 {
		t.Errorf("unexpected metrics: %+v", m)
	}
	if m.BySession["s1"] != 2 || m.BySession["s2"] != 1 {
		t.Errorf("unexpected per-session counts: %v", m.BySession)
	}
	if len(events) != 10 {
		t.Errorf("expected 10 events, got %d", len(events))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 10 {
		t.Errorf("expected 10 audit lines, got %d", lines)
	}
	if !strings.Contains(string(data), `"type":"killed"`) {
		t.Errorf("audit file missing killed event:\n%s", data)
	}
}
