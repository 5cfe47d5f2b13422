package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"testmend/internal/diagnostic"
	"testmend/internal/locator"
	"testmend/internal/logging"
	"testmend/internal/removal"
)

// CompileResolver attributes compiler diagnostics to test methods, or to
// whole classes when an error precedes every test method, and removes them.
type CompileResolver struct {
	parser  diagnostic.CompileParser
	locator locator.Locator
}

// NewCompileResolver creates a resolver over the given log grammar and
// locator.
func NewCompileResolver(parser diagnostic.CompileParser, loc locator.Locator) *CompileResolver {
	return &CompileResolver{parser: parser, locator: loc}
}

// CompileResolution reports what one compile-failure cycle did.
type CompileResolution struct {
	Diagnostics int
	Skipped     int
	Requests    *removal.Batch
	Result      removal.Result
}

// Resolve parses the compiler log, builds one batch and applies it once.
func (r *CompileResolver) Resolve(ctx context.Context, s *Session, log string, remover Remover) (CompileResolution, error) {
	diags, err := r.parser.Parse(log)
	if err != nil {
		return CompileResolution{}, fatal(s, "compiler log", err)
	}
	if len(diags) == 0 {
		return CompileResolution{}, fatal(s, "compiler log", ErrUnparseableLog)
	}

	res := CompileResolution{Diagnostics: len(diags), Requests: removal.NewBatch()}
	for _, d := range diags {
		path, err := r.resolvePath(s, d.File)
		if err != nil {
			return res, fatal(s, d.File, err)
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logging.CompileDebug("[%s] %s no longer present, skipping", s.Suite, d.File)
				res.Skipped++
				continue
			}
			return res, fatal(s, d.File, err)
		}

		class, err := diagnostic.ClassNameFromPath(s.SourceRoot, path)
		if err != nil {
			return res, fatal(s, d.File, err)
		}
		if res.Requests.Contains(diagnostic.TestID{Class: class}) {
			continue
		}

		method, found, err := r.locator.Enclosing(ctx, path, d.Line)
		if err != nil {
			return res, fatal(s, d.File, err)
		}
		if found {
			if res.Requests.AddMethod(class, method) {
				logging.Compile("[%s] %s:%d -> %s::%s (%s)", s.Suite, filepath.Base(path), d.Line, class, method, d.Message)
			}
			continue
		}
		res.Requests.AddClass(class)
		logging.Compile("[%s] %s:%d precedes every test method, quarantining %s (%s)",
			s.Suite, filepath.Base(path), d.Line, class, d.Message)
	}

	res.Result, err = remover.Apply(ctx, res.Requests)
	if err != nil {
		return res, fatal(s, "removal", err)
	}
	return res, nil
}

// resolvePath makes a diagnostic path absolute (relative paths are relative
// to the copy the compiler ran in) and checks it is under the source root.
func (r *CompileResolver) resolvePath(s *Session, file string) (string, error) {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.CopyDir, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(filepath.Clean(s.SourceRoot), path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", file, ErrOutsideWorkingCopy)
	}
	return path, nil
}
