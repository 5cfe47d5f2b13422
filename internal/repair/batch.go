package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"testmend/internal/archive"
	"testmend/internal/logging"
	"testmend/internal/removal"
	"testmend/internal/store"
)

// BatchOptions configures a Batch.
type BatchOptions struct {
	Runs          int
	Workers       int
	WorkDir       string
	KeepWorkDirs  bool
	SourceDir     string
	QuarantineDir string
	Strategy      removal.Strategy
	BackupSuffix  string
}

// Batch repairs many suites with bounded parallelism. Each suite gets its
// own session directory; the engine and sink are shared.
type Batch struct {
	opts   BatchOptions
	engine *Engine
	sink   store.Sink
}

// NewBatch creates a batch runner. A nil sink discards results.
func NewBatch(opts BatchOptions, engine *Engine, sink store.Sink) (*Batch, error) {
	if opts.Runs < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", opts.Runs)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	if opts.QuarantineDir == "" {
		opts.QuarantineDir = "quarantine"
	}
	if opts.BackupSuffix == "" {
		opts.BackupSuffix = ".bak"
	}
	if sink == nil {
		sink = store.NopSink{}
	}
	return &Batch{opts: opts, engine: engine, sink: sink}, nil
}

// Summary groups suites by how their session ended.
type Summary struct {
	Fixed         []string // converged with removals, archive rewritten
	AlreadyClean  []string // converged without changes
	ClassFailures []string
	Unexecutable  []string
	Aborted       []string

	Sessions []*Session

	mu sync.Mutex
}

func (sum *Summary) add(s *Session) {
	sum.mu.Lock()
	defer sum.mu.Unlock()
	sum.Sessions = append(sum.Sessions, s)
	switch s.Outcome {
	case OutcomeConverged:
		if s.Changed {
			sum.Fixed = append(sum.Fixed, s.Suite)
		} else {
			sum.AlreadyClean = append(sum.AlreadyClean, s.Suite)
		}
	case OutcomeClassFailures:
		sum.ClassFailures = append(sum.ClassFailures, s.Suite)
	case OutcomeUnexecutable:
		sum.Unexecutable = append(sum.Unexecutable, s.Suite)
	default:
		sum.Aborted = append(sum.Aborted, s.Suite)
	}
}

func (sum *Summary) sort() {
	for _, list := range [][]string{sum.Fixed, sum.AlreadyClean, sum.ClassFailures, sum.Unexecutable, sum.Aborted} {
		sort.Strings(list)
	}
	sort.Slice(sum.Sessions, func(i, j int) bool { return sum.Sessions[i].Suite < sum.Sessions[j].Suite })
}

// Total is the number of finished sessions.
func (sum *Summary) Total() int {
	return len(sum.Sessions)
}

// Run repairs every archive. The first fatal error cancels the remaining
// suites and is returned; the summary covers the sessions that finished.
func (b *Batch) Run(ctx context.Context, archives []string) (*Summary, error) {
	timer := logging.StartTimer(logging.CategoryBatch, "Run")
	defer timer.Stop()

	seen := make(map[string]bool, len(archives))
	for _, a := range archives {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", a, err)
		}
		if seen[abs] {
			return nil, fmt.Errorf("archive listed twice: %s", a)
		}
		seen[abs] = true
		if archive.DetectFormat(a) == archive.FormatUnknown {
			return nil, fmt.Errorf("unsupported archive format: %s", a)
		}
	}

	if err := os.MkdirAll(b.opts.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	logging.Batch("repairing %d suites with %d workers", len(archives), b.opts.Workers)
	sum := &Summary{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for _, a := range archives {
		if gctx.Err() != nil {
			break
		}
		archivePath := a
		g.Go(func() error {
			s, err := b.repairSuite(gctx, archivePath)
			if s != nil {
				sum.add(s)
			}
			return err
		})
	}
	err := g.Wait()
	sum.sort()
	if err != nil {
		logging.BatchError("batch stopped: %v", err)
		return sum, err
	}
	logging.Batch("batch finished: fixed=%d clean=%d class_failures=%d unexecutable=%d",
		len(sum.Fixed), len(sum.AlreadyClean), len(sum.ClassFailures), len(sum.Unexecutable))
	return sum, nil
}

func (b *Batch) repairSuite(ctx context.Context, archivePath string) (*Session, error) {
	id := uuid.NewString()
	suite := archive.SuiteName(archivePath)
	dir := filepath.Join(b.opts.WorkDir, suite+"-"+id[:8])
	s := NewSession(id, suite, archivePath, dir, b.opts.SourceDir, b.opts.Runs)
	log := logging.Get(logging.CategoryBatch).ForSuite(suite)

	if !b.opts.KeepWorkDirs {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn("could not remove session dir %s: %v", dir, err)
			}
		}()
	}

	err := b.process(ctx, s)
	if err != nil {
		s.Outcome = OutcomeAborted
	}
	s.FinishedAt = time.Now()

	// Record even when the batch context is already canceled.
	if sinkErr := b.sink.Append(context.WithoutCancel(ctx), s.Record()); sinkErr != nil {
		err = errors.Join(err, fatal(s, "results sink", sinkErr))
	}
	if err != nil {
		return s, err
	}
	log.Info("finished: outcome=%s changed=%v removed=%d in %s", s.Outcome, s.Changed, s.Removed(), s.Duration().Round(time.Millisecond))
	return s, nil
}

func (b *Batch) process(ctx context.Context, s *Session) error {
	manifest, err := archive.Extract(s.Archive, s.CopyDir)
	if err != nil {
		return fatal(s, s.Archive, err)
	}
	if info, err := os.Stat(s.SourceRoot); err != nil || !info.IsDir() {
		return fatal(s, s.SourceRoot, fmt.Errorf("source root missing from extracted archive"))
	}

	exec, err := removal.NewExecutor(removal.Options{
		SourceRoot:    s.SourceRoot,
		QuarantineDir: filepath.Join(s.WorkDir, b.opts.QuarantineDir),
		Strategy:      b.opts.Strategy,
		PatchLog:      removal.NewPatchLog(s.PatchLogPath()),
	})
	if err != nil {
		return fatal(s, "removal", err)
	}

	if err := b.engine.Repair(ctx, s, exec); err != nil {
		return err
	}

	if s.Outcome != OutcomeConverged || !s.Changed {
		return nil
	}
	if _, err := archive.Backup(s.Archive, b.opts.BackupSuffix); err != nil {
		return fatal(s, s.Archive, err)
	}
	// Build output the tools left in the copy is not part of the suite.
	if err := archive.PackManifest(s.CopyDir, s.Archive, manifest); err != nil {
		return fatal(s, s.Archive, err)
	}
	return nil
}
