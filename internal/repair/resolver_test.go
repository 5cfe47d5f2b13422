package repair

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testmend/internal/diagnostic"
	"testmend/internal/locator"
	"testmend/internal/removal"
)

// capturingRemover records batches and reports every request as applied.
type capturingRemover struct {
	batches []*removal.Batch
}

func (c *capturingRemover) Apply(ctx context.Context, b *removal.Batch) (removal.Result, error) {
	c.batches = append(c.batches, b)
	return removal.Result{MethodsRemoved: len(b.Methods()), ClassesRemoved: len(b.Classes())}, nil
}

func javacLine(s *Session, class string, line int) string {
	return fmt.Sprintf("    [javac] %s:%d: error: cannot find symbol", diagnostic.PathFromClassName(s.SourceRoot, class), line)
}

func TestCompileResolver_Attribution(t *testing.T) {
	for _, loc := range []locator.Locator{locator.NewLineScanner(), locator.NewASTLocator()} {
		t.Run(loc.Name(), func(t *testing.T) {
			s := newTestSession(t, 5, map[string]string{"org.foo.ATest": classWithMethodAt("ATest", 30, 42)})
			r := NewCompileResolver(diagnostic.NewJavacParser(), loc)
			rem := &capturingRemover{}

			res, err := r.Resolve(context.Background(), s, javacLine(s, "org.foo.ATest", 42), rem)
			require.NoError(t, err)
			require.Len(t, rem.batches, 1)
			assert.Equal(t, []diagnostic.TestID{{Class: "org.foo.ATest", Method: "testX"}}, rem.batches[0].IDs())
			assert.Equal(t, 1, res.Result.MethodsRemoved)
			assert.Equal(t, 0, res.Result.ClassesRemoved)
		})
	}
}

func TestCompileResolver_ClassSubsumesMethods(t *testing.T) {
	s := newTestSession(t, 5, map[string]string{"org.foo.ATest": classWithMethodAt("ATest", 30, 42)})
	r := NewCompileResolver(diagnostic.NewJavacParser(), locator.NewLineScanner())
	rem := &capturingRemover{}

	log := strings.Join([]string{
		javacLine(s, "org.foo.ATest", 42),
		javacLine(s, "org.foo.ATest", 3),
		javacLine(s, "org.foo.ATest", 4),
		javacLine(s, "org.foo.ATest", 43),
	}, "\n")
	res, err := r.Resolve(context.Background(), s, log, rem)
	require.NoError(t, err)

	require.Len(t, rem.batches, 1)
	assert.Equal(t, []diagnostic.TestID{{Class: "org.foo.ATest"}}, rem.batches[0].IDs(),
		"quarantined class carries no method requests")
	assert.Equal(t, 4, res.Diagnostics)
	assert.Equal(t, 1, res.Result.ClassesRemoved)
}

func TestCompileResolver_NoDuplicateRequests(t *testing.T) {
	s := newTestSession(t, 5, map[string]string{"org.foo.ATest": classWithMethodAt("ATest", 30, 42)})
	r := NewCompileResolver(diagnostic.NewJavacParser(), locator.NewLineScanner())
	rem := &capturingRemover{}

	log := strings.Join([]string{
		javacLine(s, "org.foo.ATest", 41),
		javacLine(s, "org.foo.ATest", 42),
		javacLine(s, "org.foo.ATest", 42),
	}, "\n")
	_, err := r.Resolve(context.Background(), s, log, rem)
	require.NoError(t, err)
	require.Len(t, rem.batches, 1)
	assert.Equal(t, 1, rem.batches[0].Len())
}

func TestCompileResolver_SkipsMissingFiles(t *testing.T) {
	s := newTestSession(t, 5, map[string]string{"org.foo.ATest": classWithMethodAt("ATest", 30, 42)})
	r := NewCompileResolver(diagnostic.NewJavacParser(), locator.NewLineScanner())
	rem := &capturingRemover{}

	log := javacLine(s, "org.foo.GoneTest", 7) + "\n" + javacLine(s, "org.foo.ATest", 42)
	res, err := r.Resolve(context.Background(), s, log, rem)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, rem.batches[0].Len())
}

func TestCompileResolver_RelativePaths(t *testing.T) {
	s := newTestSession(t, 5, map[string]string{"org.foo.ATest": classWithMethodAt("ATest", 30, 42)})
	r := NewCompileResolver(diagnostic.NewJavacParser(), locator.NewLineScanner())
	rem := &capturingRemover{}

	_, err := r.Resolve(context.Background(), s, "src/org/foo/ATest.java:42: error: boom", rem)
	require.NoError(t, err)
	assert.Equal(t, []diagnostic.TestID{{Class: "org.foo.ATest", Method: "testX"}}, rem.batches[0].IDs())

	_, err = r.Resolve(context.Background(), s, "../../etc/Evil.java:1: error: boom", rem)
	assert.ErrorIs(t, err, ErrOutsideWorkingCopy)
}

func TestRunResolver_ClassFailuresRemoveNothing(t *testing.T) {
	s := newTestSession(t, 5, nil)
	rem := &capturingRemover{}
	diag := diagnostic.NewRunDiagnostic([]string{"org.foo.BTest"}, []diagnostic.TestID{{Class: "org.foo.ATest", Method: "test01"}})

	res, err := NewRunResolver().Resolve(context.Background(), s, diag, "run-001.log", rem)
	require.NoError(t, err)
	assert.Equal(t, DirectiveHaltClassFailures, res.Directive)
	assert.Equal(t, []string{"org.foo.BTest"}, res.FailingClasses)
	assert.Equal(t, "run-001.log", res.LogRef)
	assert.Empty(t, rem.batches)
}

func TestRunResolver_OneBatchPerRun(t *testing.T) {
	s := newTestSession(t, 5, nil)
	rem := &capturingRemover{}
	diag := diagnostic.NewRunDiagnostic(nil, []diagnostic.TestID{
		{Class: "org.foo.ATest", Method: "test01"},
		{Class: "org.foo.BTest", Method: "test07"},
		{Class: "org.foo.ATest", Method: "test01"},
	})

	res, err := NewRunResolver().Resolve(context.Background(), s, diag, "", rem)
	require.NoError(t, err)
	assert.Equal(t, DirectiveRestart, res.Directive)
	require.Len(t, rem.batches, 1)
	assert.Equal(t, 2, rem.batches[0].Len())
	assert.Equal(t, 2, res.Result.MethodsRemoved)
}
