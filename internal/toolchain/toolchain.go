// Package toolchain compiles and runs a suite's working copy by invoking
// configured external commands through tactile.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"testmend/internal/config"
	"testmend/internal/diagnostic"
	"testmend/internal/logging"
	"testmend/internal/repair"
	"testmend/internal/tactile"
)

// TemplateData is the value command argument templates are executed with.
type TemplateData struct {
	Suite      string
	WorkDir    string
	CopyDir    string
	SourceDir  string
	ReportFile string
}

type commandTemplate struct {
	binary  string
	args    []*template.Template
	timeout time.Duration
}

func parseCommand(name string, cs config.CommandSpec, timeout time.Duration) (commandTemplate, error) {
	ct := commandTemplate{binary: cs.Binary, timeout: timeout}
	for i, arg := range cs.Args {
		tmpl, err := template.New(fmt.Sprintf("%s.args[%d]", name, i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return ct, fmt.Errorf("%s argument %d: %w", name, i, err)
		}
		ct.args = append(ct.args, tmpl)
	}
	return ct, nil
}

func (c commandTemplate) expand(data TemplateData) ([]string, error) {
	out := make([]string, 0, len(c.args))
	for _, tmpl := range c.args {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("expand %s: %w", tmpl.Name(), err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

// CommandToolchain implements repair.Toolchain with external commands.
type CommandToolchain struct {
	executor     tactile.Executor
	compile      commandTemplate
	run          commandTemplate
	reportFile   string
	reportParser diagnostic.RunReportParser
	env          []string
}

// New builds a toolchain from configuration.
func New(cfg *config.Config, executor tactile.Executor) (*CommandToolchain, error) {
	compile, err := parseCommand("compile", cfg.Toolchain.Compile, cfg.GetCompileTimeout())
	if err != nil {
		return nil, err
	}
	run, err := parseCommand("run", cfg.Toolchain.Run, cfg.GetRunTimeout())
	if err != nil {
		return nil, err
	}
	parser, err := diagnostic.NewRunReportParser(cfg.Toolchain.ReportFormat)
	if err != nil {
		return nil, err
	}
	return &CommandToolchain{
		executor:     executor,
		compile:      compile,
		run:          run,
		reportFile:   cfg.Toolchain.ReportFile,
		reportParser: parser,
		env:          cfg.Toolchain.Env,
	}, nil
}

func (t *CommandToolchain) data(s *repair.Session) TemplateData {
	return TemplateData{
		Suite:      s.Suite,
		WorkDir:    s.WorkDir,
		CopyDir:    s.CopyDir,
		SourceDir:  s.SourceRoot,
		ReportFile: t.reportPath(s),
	}
}

func (t *CommandToolchain) reportPath(s *repair.Session) string {
	if filepath.IsAbs(t.reportFile) {
		return t.reportFile
	}
	return filepath.Join(s.WorkDir, t.reportFile)
}

func (t *CommandToolchain) command(s *repair.Session, c commandTemplate) (tactile.Command, error) {
	args, err := c.expand(t.data(s))
	if err != nil {
		return tactile.Command{}, err
	}
	return tactile.Command{
		Binary:    c.binary,
		Arguments: args,
		Dir:       s.CopyDir,
		Env:       t.env,
		Timeout:   c.timeout,
		SessionID: s.ID,
	}, nil
}

// Compile implements repair.Toolchain. A compiler that cannot be launched,
// or that is killed, is an error; a non-zero exit is a failed compile.
func (t *CommandToolchain) Compile(ctx context.Context, s *repair.Session) (repair.CompileResult, error) {
	cmd, err := t.command(s, t.compile)
	if err != nil {
		return repair.CompileResult{}, err
	}
	res, err := t.executor.Execute(ctx, cmd)
	if err != nil {
		return repair.CompileResult{}, fmt.Errorf("compile: %w", err)
	}
	if ctx.Err() != nil {
		return repair.CompileResult{}, ctx.Err()
	}
	if res.IsError() {
		return repair.CompileResult{}, fmt.Errorf("compile: %s", res.Error)
	}
	if res.Killed {
		return repair.CompileResult{}, fmt.Errorf("compile killed: %s", res.KillReason)
	}
	logging.CompileDebug("[%s] compile exit=%d in %s", s.Suite, res.ExitCode, res.Duration)
	return repair.CompileResult{OK: res.ExitCode == 0, Log: res.Output}, nil
}

// Run implements repair.Toolchain. Failures of the run tool itself come back
// as Executed=false; only an unreadable report is an error.
func (t *CommandToolchain) Run(ctx context.Context, s *repair.Session) (repair.RunResult, error) {
	report := t.reportPath(s)
	if err := os.Remove(report); err != nil && !errors.Is(err, os.ErrNotExist) {
		return repair.RunResult{}, fmt.Errorf("clear stale report: %w", err)
	}

	cmd, err := t.command(s, t.run)
	if err != nil {
		return repair.RunResult{}, err
	}
	res, err := t.executor.Execute(ctx, cmd)
	if err != nil {
		return repair.RunResult{}, fmt.Errorf("run: %w", err)
	}
	if ctx.Err() != nil {
		return repair.RunResult{}, ctx.Err()
	}
	if res.IsError() {
		return repair.RunResult{Executed: false, Reason: res.Error, Log: res.Output}, nil
	}
	if res.Killed {
		return repair.RunResult{Executed: false, Reason: res.KillReason, Log: res.Output}, nil
	}

	f, err := os.Open(report)
	if errors.Is(err, os.ErrNotExist) {
		if res.ExitCode != 0 {
			return repair.RunResult{
				Executed: false,
				Reason:   fmt.Sprintf("exit %d without a %s report: %s", res.ExitCode, t.reportParser.Name(), res.Tail(3)),
				Log:      res.Output,
			}, nil
		}
		logging.RunDebug("[%s] no report, clean run", s.Suite)
		return repair.RunResult{Executed: true, Log: res.Output}, nil
	}
	if err != nil {
		return repair.RunResult{}, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	diag, err := t.reportParser.Parse(f)
	if err != nil {
		return repair.RunResult{}, fmt.Errorf("parse %s: %w", report, err)
	}
	if res.ExitCode != 0 && diag.Clean() {
		return repair.RunResult{
			Executed: false,
			Reason:   fmt.Sprintf("exit %d with an empty report", res.ExitCode),
			Log:      res.Output,
		}, nil
	}
	logging.Run("[%s] run exit=%d: %d failing classes, %d failing methods",
		s.Suite, res.ExitCode, len(diag.FailingClasses), len(diag.FailingMethods))
	return repair.RunResult{Executed: true, Diagnostic: diag, Log: res.Output}, nil
}
