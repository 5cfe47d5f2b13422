// Package removal applies removal requests to a suite's working copy. It is
// the only code that edits or moves test sources.
package removal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sourcegraph/go-diff/diff"

	"testmend/internal/diagnostic"
	"testmend/internal/javasrc"
	"testmend/internal/logging"
)

// Strategy selects how method requests are applied.
type Strategy string

const (
	// StrategyMethod removes the whole method on the first request.
	StrategyMethod Strategy = "method"
	// StrategyAssertionsFirst strips assertion statements on the first
	// request and removes the method on the second.
	StrategyAssertionsFirst Strategy = "assertions-first"
)

// ErrArtifactNotFound is returned when a requested class file or method
// does not exist and was never removed by this executor.
var ErrArtifactNotFound = errors.New("artifact not found")

// Options configures an Executor.
type Options struct {
	// SourceRoot is the root of the working copy's test sources.
	SourceRoot string
	// QuarantineDir receives whole class files, mirroring their path
	// relative to SourceRoot.
	QuarantineDir string
	Strategy      Strategy
	// PatchLog receives a unified diff of every applied edit. Optional.
	PatchLog *PatchLog
}

// Result counts what one Apply call changed.
type Result struct {
	MethodsRemoved    int
	ClassesRemoved    int
	MethodsStripped   int
	AssertionsRemoved int
}

// Changed reports whether anything on disk was modified.
func (r Result) Changed() bool {
	return r.MethodsRemoved+r.ClassesRemoved+r.MethodsStripped > 0
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.MethodsRemoved += other.MethodsRemoved
	r.ClassesRemoved += other.ClassesRemoved
	r.MethodsStripped += other.MethodsStripped
	r.AssertionsRemoved += other.AssertionsRemoved
}

// Executor applies batches to one working copy. It keeps a ledger of what
// it has removed so resubmitted requests are no-ops. An Executor belongs to
// a single session and is not safe for concurrent use.
type Executor struct {
	opts Options

	removed     map[string]bool
	stripped    map[string]bool
	quarantined map[string]bool
}

// NewExecutor creates an executor for one working copy.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.SourceRoot == "" {
		return nil, fmt.Errorf("source root is required")
	}
	if opts.QuarantineDir == "" {
		return nil, fmt.Errorf("quarantine dir is required")
	}
	switch opts.Strategy {
	case "":
		opts.Strategy = StrategyMethod
	case StrategyMethod, StrategyAssertionsFirst:
	default:
		return nil, fmt.Errorf("unknown removal strategy %q", opts.Strategy)
	}
	return &Executor{
		opts:        opts,
		removed:     make(map[string]bool),
		stripped:    make(map[string]bool),
		quarantined: make(map[string]bool),
	}, nil
}

// Strategy returns the active strategy.
func (e *Executor) Strategy() Strategy {
	return e.opts.Strategy
}

// Quarantined reports whether the class was moved out of the source tree.
func (e *Executor) Quarantined(class string) bool {
	return e.quarantined[class]
}

// Apply applies every request in the batch. Classes are quarantined first,
// then method edits are grouped per file and written once per file.
func (e *Executor) Apply(ctx context.Context, b *Batch) (Result, error) {
	timer := logging.StartTimer(logging.CategoryRemoval, "Apply")
	defer timer.Stop()

	var res Result
	var patches []*diff.FileDiff

	for _, class := range b.Classes() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.quarantined[class] {
			logging.RemovalDebug("class %s already quarantined", class)
			continue
		}
		fd, err := e.quarantine(class)
		if err != nil {
			return res, err
		}
		patches = append(patches, fd)
		res.ClassesRemoved++
	}

	byClass := make(map[string][]diagnostic.TestID)
	var order []string
	for _, id := range b.Methods() {
		if e.quarantined[id.Class] || e.removed[id.String()] {
			logging.RemovalDebug("%s already removed", id)
			continue
		}
		if _, ok := byClass[id.Class]; !ok {
			order = append(order, id.Class)
		}
		byClass[id.Class] = append(byClass[id.Class], id)
	}

	for _, class := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fd, fileRes, err := e.editClass(ctx, class, byClass[class])
		if err != nil {
			return res, err
		}
		if fd != nil {
			patches = append(patches, fd)
		}
		res.Add(fileRes)
	}

	if err := e.opts.PatchLog.Append(patches); err != nil {
		return res, err
	}
	logging.Removal("applied batch of %d: methods=%d classes=%d stripped=%d assertions=%d",
		b.Len(), res.MethodsRemoved, res.ClassesRemoved, res.MethodsStripped, res.AssertionsRemoved)
	return res, nil
}

func (e *Executor) quarantine(class string) (*diff.FileDiff, error) {
	src := diagnostic.PathFromClassName(e.opts.SourceRoot, class)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("class %s (%s): %w", class, src, ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", src, err)
	}

	rel, err := filepath.Rel(e.opts.SourceRoot, src)
	if err != nil {
		return nil, fmt.Errorf("relativize %s: %w", src, err)
	}
	dst := filepath.Join(e.opts.QuarantineDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("quarantine %s: %w", class, err)
	}

	e.quarantined[class] = true
	logging.Removal("quarantined %s -> %s", class, dst)

	return renameDiff(rel, filepath.Join(filepath.Base(e.opts.QuarantineDir), rel)), nil
}

func (e *Executor) editClass(ctx context.Context, class string, ids []diagnostic.TestID) (*diff.FileDiff, Result, error) {
	var res Result
	path := diagnostic.PathFromClassName(e.opts.SourceRoot, class)
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, res, fmt.Errorf("class %s (%s): %w", class, path, ErrArtifactNotFound)
		}
		return nil, res, fmt.Errorf("read %s: %w", path, err)
	}
	file, err := javasrc.Parse(ctx, content)
	if err != nil {
		return nil, res, fmt.Errorf("%s: %w", path, err)
	}
	if file.HasErrors {
		logging.RemovalDebug("%s has syntax errors; editing recovered tree", path)
	}

	var spans []javasrc.Span
	for _, id := range ids {
		key := id.String()
		m, ok := file.FindMethod(id.Method)
		if !ok {
			// Lexer-level errors can drop the method from the recovered
			// tree while its declaration line is intact.
			span, found := javasrc.DeclaredMethodSpan(content, id.Method)
			if !found {
				return nil, res, fmt.Errorf("method %s: %w", id, ErrArtifactNotFound)
			}
			spans = append(spans, span)
			e.removed[key] = true
			res.MethodsRemoved++
			logging.Removal("removed method %s by declaration scan (lines %d-%d)", id, span.StartLine, span.EndLine)
			continue
		}
		if e.opts.Strategy == StrategyAssertionsFirst && !e.stripped[key] && len(m.Assertions) > 0 {
			for _, a := range m.Assertions {
				spans = append(spans, javasrc.ExpandToLines(content, a))
			}
			e.stripped[key] = true
			res.MethodsStripped++
			res.AssertionsRemoved += len(m.Assertions)
			logging.Removal("stripped %d assertions from %s", len(m.Assertions), id)
			continue
		}
		spans = append(spans, javasrc.ExpandToLines(content, m.Leading))
		e.removed[key] = true
		res.MethodsRemoved++
		logging.Removal("removed method %s (lines %d-%d)", id, m.Leading.StartLine, m.Decl.EndLine)
	}
	if len(spans) == 0 {
		return nil, res, nil
	}

	cuts, err := mergeSpans(spans)
	if err != nil {
		return nil, res, fmt.Errorf("%s: %w", path, err)
	}
	updated := applyCuts(content, cuts)
	if err := writeAtomic(path, updated); err != nil {
		return nil, res, err
	}

	rel, err := filepath.Rel(e.opts.SourceRoot, path)
	if err != nil {
		rel = path
	}
	return editDiff(rel, content, cuts), res, nil
}

// mergeSpans sorts spans ascending. Nested spans collapse into their
// container; partially overlapping spans mean the tree is inconsistent.
func mergeSpans(spans []javasrc.Span) ([]cut, error) {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	var cuts []cut
	for _, s := range spans {
		c := cut{start: int(s.Start), end: int(s.End)}
		if n := len(cuts); n > 0 && c.start < cuts[n-1].end {
			if c.end <= cuts[n-1].end {
				continue
			}
			return nil, fmt.Errorf("overlapping edits at bytes %d-%d", c.start, c.end)
		}
		cuts = append(cuts, c)
	}
	return cuts, nil
}

func applyCuts(content []byte, cuts []cut) []byte {
	out := make([]byte, 0, len(content))
	prev := 0
	for _, c := range cuts {
		out = append(out, content[prev:c.start]...)
		prev = c.end
	}
	return append(out, content[prev:]...)
}

// writeAtomic replaces path via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".testmend-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
