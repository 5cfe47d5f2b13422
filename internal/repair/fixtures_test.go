package repair

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"testmend/internal/diagnostic"
	"testmend/internal/javasrc"
	"testmend/internal/locator"
	"testmend/internal/removal"
)

// Markers the content toolchain reacts to.
const (
	markUncompilable = "UNCOMPILABLE" // compile error on this line
	markFlaky        = "FLAKY"        // enclosing test method fails at runtime
	markStaticFail   = "STATIC_FAIL"  // whole class fails at runtime
)

// contentToolchain derives compile and run results from the working copy,
// so removals made by the engine are reflected in the next cycle.
type contentToolchain struct {
	// onePerCompile reports only the first failing file per compile, the
	// way javac often stops after one broken compilation unit.
	onePerCompile bool
	// buildOutput makes every compile drop class files into the copy.
	buildOutput bool

	mu                  sync.Mutex
	compiles            map[string]int
	runs                map[string]int
	firstRunAtCompile   map[string]int
	compileLaunchErr    error
	runNotExecutable    bool
	extraFailingMethods []diagnostic.TestID
}

func newContentToolchain() *contentToolchain {
	return &contentToolchain{
		compiles:          make(map[string]int),
		runs:              make(map[string]int),
		firstRunAtCompile: make(map[string]int),
	}
}

func (c *contentToolchain) Compile(ctx context.Context, s *Session) (CompileResult, error) {
	c.mu.Lock()
	c.compiles[s.Suite]++
	c.mu.Unlock()
	if c.compileLaunchErr != nil {
		return CompileResult{}, c.compileLaunchErr
	}
	if c.buildOutput {
		out := filepath.Join(s.CopyDir, "build", "classes", "Compiled.class")
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return CompileResult{}, err
		}
		if err := os.WriteFile(out, []byte{0xca, 0xfe}, 0644); err != nil {
			return CompileResult{}, err
		}
	}

	var lines []string
	for _, path := range javaFiles(s.SourceRoot) {
		f, err := os.Open(path)
		if err != nil {
			return CompileResult{}, err
		}
		scanner := bufio.NewScanner(f)
		n := 0
		found := false
		for scanner.Scan() {
			n++
			if strings.Contains(scanner.Text(), markUncompilable) {
				lines = append(lines, fmt.Sprintf("    [javac] %s:%d: error: cannot find symbol", path, n))
				found = true
			}
		}
		f.Close()
		if found && c.onePerCompile {
			break
		}
	}
	if len(lines) == 0 {
		return CompileResult{OK: true, Log: "BUILD SUCCESSFUL"}, nil
	}
	lines = append(lines, fmt.Sprintf("    [javac] %d errors", len(lines)), "BUILD FAILED")
	return CompileResult{OK: false, Log: strings.Join(lines, "\n")}, nil
}

func (c *contentToolchain) Run(ctx context.Context, s *Session) (RunResult, error) {
	c.mu.Lock()
	c.runs[s.Suite]++
	if _, ok := c.firstRunAtCompile[s.Suite]; !ok {
		c.firstRunAtCompile[s.Suite] = c.compiles[s.Suite]
	}
	c.mu.Unlock()
	if c.runNotExecutable {
		return RunResult{Executed: false, Reason: "harness crashed"}, nil
	}

	var classes []string
	methods := append([]diagnostic.TestID(nil), c.extraFailingMethods...)
	for _, path := range javaFiles(s.SourceRoot) {
		content, err := os.ReadFile(path)
		if err != nil {
			return RunResult{}, err
		}
		class, err := diagnostic.ClassNameFromPath(s.SourceRoot, path)
		if err != nil {
			return RunResult{}, err
		}
		if strings.Contains(string(content), markStaticFail) {
			classes = append(classes, class)
			continue
		}
		file, err := javasrc.Parse(ctx, content)
		if err != nil {
			return RunResult{}, err
		}
		for _, m := range file.Methods {
			body := string(content[m.Decl.Start:m.Decl.End])
			if m.IsTest() && strings.Contains(body, markFlaky) {
				methods = append(methods, diagnostic.TestID{Class: class, Method: m.Name})
			}
		}
	}
	diag := diagnostic.NewRunDiagnostic(classes, methods)
	return RunResult{Executed: true, Diagnostic: diag, Log: fmt.Sprintf("%d failures", len(methods)+len(classes))}, nil
}

func (c *contentToolchain) compileCount(suite string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles[suite]
}

func javaFiles(root string) []string {
	var out []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".java") {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

// writeSources writes class -> content under root.
func writeSources(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for class, content := range files {
		path := diagnostic.PathFromClassName(root, class)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// newTestSession creates a session whose working copy is already in place.
func newTestSession(t *testing.T, runs int, files map[string]string) *Session {
	t.Helper()
	s := NewSession("sess-1", "lang-1f", filepath.Join(t.TempDir(), "lang-1f.tar.gz"), t.TempDir(), "src", runs)
	writeSources(t, s.SourceRoot, files)
	return s
}

func newTestExecutor(t *testing.T, s *Session, strategy removal.Strategy) *removal.Executor {
	t.Helper()
	e, err := removal.NewExecutor(removal.Options{
		SourceRoot:    s.SourceRoot,
		QuarantineDir: filepath.Join(s.WorkDir, "quarantine"),
		Strategy:      strategy,
		PatchLog:      removal.NewPatchLog(s.PatchLogPath()),
	})
	require.NoError(t, err)
	return e
}

func newTestEngine(tc Toolchain, phases ...PostConvergencePhase) *Engine {
	return NewEngine(tc,
		NewCompileResolver(diagnostic.NewJavacParser(), locator.NewLineScanner()),
		NewRunResolver(),
		phases...)
}

func readSource(t *testing.T, s *Session, class string) string {
	t.Helper()
	data, err := os.ReadFile(diagnostic.PathFromClassName(s.SourceRoot, class))
	require.NoError(t, err)
	return string(data)
}

func requestFiles(t *testing.T, s *Session) []string {
	t.Helper()
	entries, err := os.ReadDir(s.RequestsDir())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// classWithMethodAt builds a class whose testX declaration sits on declLine
// and whose marked compile error sits on errLine. A second method testY
// follows.
func classWithMethodAt(simpleName string, declLine, errLine int) string {
	lines := []string{"package org.foo;", "", "import org.junit.Test;", "", "public class " + simpleName + " {"}
	for len(lines) < declLine-1 {
		lines = append(lines, fmt.Sprintf("  int field%d = 0;", len(lines)))
	}
	lines = append(lines, "  public void testX() {")
	for len(lines) < errLine-1 {
		lines = append(lines, "    int ok = 1;")
	}
	lines = append(lines,
		"    undefinedCall(); // "+markUncompilable,
		"  }",
		"",
		"  public void testY() {",
		"    int y = 2;",
		"  }",
		"}",
		"")
	return strings.Join(lines, "\n")
}

const cleanClass = `package org.foo;

import org.junit.Test;
import static org.junit.Assert.*;

public class CleanTest {

  @Test(timeout = 4000)
  public void test00() throws Throwable {
    assertEquals(1, 1);
  }

  @Test(timeout = 4000)
  public void test01() throws Throwable {
    assertTrue(true);
  }
}
`

const flakyClass = `package org.foo;

import org.junit.Test;
import static org.junit.Assert.*;

public class FlakyTest {

  @Test(timeout = 4000)
  public void test00() throws Throwable {
    assertEquals(1, 1);
  }

  @Test(timeout = 4000)
  public void test01() throws Throwable {
    assertEquals(FLAKY, System.nanoTime());
  }

  @Test(timeout = 4000)
  public void test02() throws Throwable {
    Object o = FLAKY;
    assertNotNull(o);
  }
}
`
