// Package diagnostic turns raw compiler and test-runner output into
// structured facts: which file and line failed to compile, and which test
// classes and methods failed at runtime.
//
// Everything here is a pure transformation. Formats are registered by name so
// the tool output grammar is a configuration choice, not a concern of the
// repair loop.
package diagnostic

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// MethodSeparator joins class and method in a canonical identifier.
const MethodSeparator = "::"

// LogMarker prefixes a canonical identifier in failure logs.
const LogMarker = "--- "

// TestID is the canonical test identifier: a fully qualified class name and
// an optional method name. A TestID without a method names the whole class.
type TestID struct {
	Class  string
	Method string
}

// String renders class::method, or the bare class name.
func (id TestID) String() string {
	if id.Method == "" {
		return id.Class
	}
	return id.Class + MethodSeparator + id.Method
}

// IsClass reports whether the identifier names an entire class.
func (id TestID) IsClass() bool {
	return id.Method == ""
}

// ParseTestID reads the canonical form back.
func ParseTestID(s string) (TestID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TestID{}, fmt.Errorf("empty test identifier")
	}
	class, method, found := strings.Cut(s, MethodSeparator)
	if class == "" {
		return TestID{}, fmt.Errorf("test identifier %q has no class", s)
	}
	if found && method == "" {
		return TestID{}, fmt.Errorf("test identifier %q has an empty method", s)
	}
	if strings.ContainsAny(class, " \t/") || strings.ContainsAny(method, " \t(") {
		return TestID{}, fmt.Errorf("malformed test identifier %q", s)
	}
	return TestID{Class: class, Method: method}, nil
}

// ClassNameFromPath derives the qualified class name of a Java source file
// from its location under the source root: separators become dots and the
// extension is dropped.
func ClassNameFromPath(sourceRoot, path string) (string, error) {
	rel, err := filepath.Rel(sourceRoot, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}
	if rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%s is not under %s", path, sourceRoot)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "."), nil
}

// PathFromClassName is the inverse of ClassNameFromPath.
func PathFromClassName(sourceRoot, class string) string {
	return filepath.Join(sourceRoot, filepath.FromSlash(strings.ReplaceAll(class, ".", "/"))+".java")
}

// CompileDiagnostic is one compiler error attributed to a file and line.
type CompileDiagnostic struct {
	File    string
	Line    int
	Message string
}

// RunDiagnostic is the classified outcome of one test run.
type RunDiagnostic struct {
	FailingClasses []string
	FailingMethods []TestID
}

// NewRunDiagnostic builds a deduplicated, sorted RunDiagnostic.
func NewRunDiagnostic(classes []string, methods []TestID) RunDiagnostic {
	classSet := make(map[string]bool, len(classes))
	var outClasses []string
	for _, c := range classes {
		if c == "" || classSet[c] {
			continue
		}
		classSet[c] = true
		outClasses = append(outClasses, c)
	}

	methodSet := make(map[string]bool, len(methods))
	var outMethods []TestID
	for _, m := range methods {
		key := m.String()
		if m.Method == "" || methodSet[key] {
			continue
		}
		methodSet[key] = true
		outMethods = append(outMethods, m)
	}

	sort.Strings(outClasses)
	sort.Slice(outMethods, func(i, j int) bool { return outMethods[i].String() < outMethods[j].String() })
	return RunDiagnostic{FailingClasses: outClasses, FailingMethods: outMethods}
}

// Clean reports whether the run had no failures at all.
func (d RunDiagnostic) Clean() bool {
	return len(d.FailingClasses) == 0 && len(d.FailingMethods) == 0
}
