package diagnostic

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// CompileParser extracts compile diagnostics from a raw compiler log.
type CompileParser interface {
	Parse(log string) ([]CompileDiagnostic, error)
	Name() string
}

// javacErrorPattern matches lines such as
//
//	[javac] /work/src/org/foo/BarTest.java:42: error: cannot find symbol
//	[javac] "C:\work\src\BarTest.java":7: error: ';' expected
//
// The tool tag and the quotes are optional.
var javacErrorPattern = regexp.MustCompile(`^\s*(?:\[([^\]]+)\]\s+)?"?(.+?\.java)"?:(\d+):\s*error:\s*(.*)$`)

// JavacParser parses javac-style diagnostics, as emitted directly or through
// ant's [javac] task.
type JavacParser struct{}

// NewJavacParser returns the javac log parser.
func NewJavacParser() *JavacParser {
	return &JavacParser{}
}

// Name returns "javac".
func (p *JavacParser) Name() string {
	return "javac"
}

// Parse returns every error diagnostic in log order. Warnings and
// continuation lines (source excerpts, carets, symbol notes) are skipped.
func (p *JavacParser) Parse(log string) ([]CompileDiagnostic, error) {
	var diags []CompileDiagnostic
	scanner := bufio.NewScanner(strings.NewReader(log))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m := javacErrorPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		line, err := strconv.Atoi(m[3])
		if err != nil || line < 1 {
			return nil, fmt.Errorf("invalid line number %q in diagnostic: %s", m[3], scanner.Text())
		}
		diags = append(diags, CompileDiagnostic{
			File:    strings.TrimSpace(m[2]),
			Line:    line,
			Message: strings.TrimSpace(m[4]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan compiler log: %w", err)
	}
	return diags, nil
}

var compileParsers = map[string]func() CompileParser{
	"javac": func() CompileParser { return NewJavacParser() },
}

// NewCompileParser returns the registered compile log parser for name.
func NewCompileParser(name string) (CompileParser, error) {
	factory, ok := compileParsers[name]
	if !ok {
		return nil, fmt.Errorf("unknown compile log format %q (known: %s)", name, strings.Join(CompileFormats(), ", "))
	}
	return factory(), nil
}

// CompileFormats lists registered compile log formats.
func CompileFormats() []string {
	names := make([]string, 0, len(compileParsers))
	for name := range compileParsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
