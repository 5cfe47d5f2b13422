package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testmend/internal/config"
	"testmend/internal/diagnostic"
	"testmend/internal/repair"
	"testmend/internal/tactile"
)

// fakeExecutor records commands and replays canned results. When report is
// set it is written to the command's -Doutfile= argument before returning.
type fakeExecutor struct {
	commands []tactile.Command
	result   tactile.ExecutionResult
	err      error
	report   string
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	f.commands = append(f.commands, cmd)
	if f.err != nil {
		return nil, f.err
	}
	if f.report != "" {
		for _, arg := range cmd.Arguments {
			if path, ok := strings.CutPrefix(arg, "-Doutfile="); ok {
				if err := os.WriteFile(path, []byte(f.report), 0644); err != nil {
					return nil, err
				}
			}
		}
	}
	res := f.result
	return &res, nil
}

func (f *fakeExecutor) Validate(cmd tactile.Command) error { return nil }

func newToolchain(t *testing.T, exec *fakeExecutor) (*CommandToolchain, *repair.Session) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SourceDir = "src"
	cfg.Toolchain.Env = []string{"ANT_OPTS=-Xmx1g"}
	cfg.Toolchain.Compile.Timeout = "90s"
	tc, err := New(cfg, exec)
	require.NoError(t, err)

	s := repair.NewSession("sess-1", "lang-1f", "/a/lang-1f.tar.gz", t.TempDir(), "src", 3)
	require.NoError(t, os.MkdirAll(s.SourceRoot, 0755))
	return tc, s
}

func ok(out string) tactile.ExecutionResult {
	return tactile.ExecutionResult{Started: true, ExitCode: 0, Output: out}
}

func TestCompile_ExpandsCommand(t *testing.T) {
	exec := &fakeExecutor{result: ok("BUILD SUCCESSFUL")}
	tc, s := newToolchain(t, exec)

	res, err := tc.Compile(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "BUILD SUCCESSFUL", res.Log)

	require.Len(t, exec.commands, 1)
	cmd := exec.commands[0]
	assert.Equal(t, "ant", cmd.Binary)
	assert.Equal(t, []string{"-q", "-Dtest.dir=" + s.SourceRoot, "compile.gen.tests"}, cmd.Arguments)
	assert.Equal(t, s.CopyDir, cmd.Dir)
	assert.Equal(t, []string{"ANT_OPTS=-Xmx1g"}, cmd.Env)
	assert.Equal(t, 90*time.Second, cmd.Timeout)
	assert.Equal(t, "sess-1", cmd.SessionID)
}

func TestCompile_Outcomes(t *testing.T) {
	exec := &fakeExecutor{result: tactile.ExecutionResult{Started: true, ExitCode: 1, Output: "BUILD FAILED"}}
	tc, s := newToolchain(t, exec)
	res, err := tc.Compile(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "BUILD FAILED", res.Log)

	exec.result = tactile.ExecutionResult{Started: false, Error: "exec: \"ant\": executable file not found in $PATH"}
	_, err = tc.Compile(context.Background(), s)
	assert.ErrorContains(t, err, "executable file not found")

	exec.result = tactile.ExecutionResult{Started: true, Killed: true, KillReason: "timeout after 1m0s"}
	_, err = tc.Compile(context.Background(), s)
	assert.ErrorContains(t, err, "timeout")
}

func TestRun_ParsesReport(t *testing.T) {
	exec := &fakeExecutor{
		result: tactile.ExecutionResult{Started: true, ExitCode: 1},
		report: "--- org.foo.BarTest::test01\njava.lang.AssertionError\n--- org.foo.BazTest\n",
	}
	tc, s := newToolchain(t, exec)

	res, err := tc.Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, []string{"org.foo.BazTest"}, res.Diagnostic.FailingClasses)
	assert.Equal(t, []diagnostic.TestID{{Class: "org.foo.BarTest", Method: "test01"}}, res.Diagnostic.FailingMethods)
	assert.Contains(t, exec.commands[0].Arguments, "-Doutfile="+filepath.Join(s.WorkDir, "failing_tests"))
}

func TestRun_StaleReportIsCleared(t *testing.T) {
	exec := &fakeExecutor{result: ok("")}
	tc, s := newToolchain(t, exec)
	require.NoError(t, os.WriteFile(filepath.Join(s.WorkDir, "failing_tests"), []byte("--- org.foo.Old::test00\n"), 0644))

	res, err := tc.Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.True(t, res.Diagnostic.Clean(), "report from a previous run must not be reread")
}

func TestRun_NotExecutable(t *testing.T) {
	tests := []struct {
		name   string
		result tactile.ExecutionResult
		report string
	}{
		{"launch failure", tactile.ExecutionResult{Started: false, Error: "fork/exec: permission denied"}, ""},
		{"killed", tactile.ExecutionResult{Started: true, Killed: true, KillReason: "timeout after 30m0s"}, ""},
		{"nonzero without report", tactile.ExecutionResult{Started: true, ExitCode: 2}, ""},
		{"nonzero with empty report", tactile.ExecutionResult{Started: true, ExitCode: 1}, "BUILD FAILED\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, s := newToolchain(t, &fakeExecutor{result: tt.result, report: tt.report})
			res, err := tc.Run(context.Background(), s)
			require.NoError(t, err)
			assert.False(t, res.Executed)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestRun_MalformedReport(t *testing.T) {
	exec := &fakeExecutor{result: ok(""), report: "--- not a test id ::\n"}
	tc, s := newToolchain(t, exec)
	_, err := tc.Run(context.Background(), s)
	assert.Error(t, err)
}

func TestRun_Canceled(t *testing.T) {
	exec := &fakeExecutor{result: tactile.ExecutionResult{Started: true, Killed: true, KillReason: "context canceled"}}
	tc, s := newToolchain(t, exec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tc.Run(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_BadTemplate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Toolchain.Run.Args = []string{"{{.Nope"}
	_, err := New(cfg, &fakeExecutor{})
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.Toolchain.ReportFormat = "tap"
	_, err = New(cfg, &fakeExecutor{})
	assert.Error(t, err)
}

func TestExpand_UnknownField(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Toolchain.Compile.Args = []string{"{{.Classpath}}"}
	tc, err := New(cfg, &fakeExecutor{})
	require.NoError(t, err)

	s := repair.NewSession("sess-1", "x", "/a/x.tar.gz", t.TempDir(), "", 1)
	_, err = tc.Compile(context.Background(), s)
	assert.Error(t, err)
}
