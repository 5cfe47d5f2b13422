package diagnostic

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// RunReportParser reads the failure report produced by a test run.
type RunReportParser interface {
	Parse(r io.Reader) (RunDiagnostic, error)
	Name() string
}

// FailingTestsParser reads the marker format written by the test runner:
//
//	--- org.foo.BarTest::testX
//	java.lang.AssertionError: expected:<1> but was:<2>
//	    at org.foo.BarTest.testX(BarTest.java:42)
//	--- org.foo.BazTest
//	java.lang.ExceptionInInitializerError
//
// A marker with a method names a failing method; a bare class marker names a
// class-level failure. Every other line is trace text and ignored.
type FailingTestsParser struct{}

// NewFailingTestsParser returns the marker-format parser.
func NewFailingTestsParser() *FailingTestsParser {
	return &FailingTestsParser{}
}

// Name returns "failing-tests".
func (p *FailingTestsParser) Name() string {
	return "failing-tests"
}

// Parse classifies every marker line in r.
func (p *FailingTestsParser) Parse(r io.Reader) (RunDiagnostic, error) {
	var classes []string
	var methods []TestID

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !strings.HasPrefix(line, LogMarker) {
			continue
		}
		id, err := ParseTestID(strings.TrimPrefix(line, LogMarker))
		if err != nil {
			return RunDiagnostic{}, fmt.Errorf("failing-tests line %d: %w", lineNo, err)
		}
		if id.IsClass() {
			classes = append(classes, id.Class)
		} else {
			methods = append(methods, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return RunDiagnostic{}, fmt.Errorf("scan failing-tests report: %w", err)
	}
	return NewRunDiagnostic(classes, methods), nil
}

// classLevelCaseNames are testcase names JUnit runners use when the failure
// happened outside any test method (static init, @BeforeClass, bad runner).
var classLevelCaseNames = map[string]bool{
	"":                    true,
	"initializationError": true,
	"classMethod":         true,
}

type junitSuites struct {
	Suites []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name   string       `xml:"name,attr"`
	Cases  []junitCase  `xml:"testcase"`
	Errors []junitIssue `xml:"error"`
	Suites []junitSuite `xml:"testsuite"`
}

type junitCase struct {
	ClassName string       `xml:"classname,attr"`
	Name      string       `xml:"name,attr"`
	Failures  []junitIssue `xml:"failure"`
	Errors    []junitIssue `xml:"error"`
}

type junitIssue struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message,attr"`
}

// JUnitXMLParser reads JUnit XML reports with either a <testsuites> or a
// single <testsuite> root.
type JUnitXMLParser struct{}

// NewJUnitXMLParser returns the JUnit XML parser.
func NewJUnitXMLParser() *JUnitXMLParser {
	return &JUnitXMLParser{}
}

// Name returns "junit".
func (p *JUnitXMLParser) Name() string {
	return "junit"
}

// Parse classifies failed and errored test cases.
func (p *JUnitXMLParser) Parse(r io.Reader) (RunDiagnostic, error) {
	dec := xml.NewDecoder(r)
	var suites []junitSuite
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return RunDiagnostic{}, fmt.Errorf("junit report has no testsuite element")
		}
		if err != nil {
			return RunDiagnostic{}, fmt.Errorf("parse junit report: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "testsuites":
			var all junitSuites
			if err := dec.DecodeElement(&all, &start); err != nil {
				return RunDiagnostic{}, fmt.Errorf("parse junit report: %w", err)
			}
			suites = all.Suites
		case "testsuite":
			var one junitSuite
			if err := dec.DecodeElement(&one, &start); err != nil {
				return RunDiagnostic{}, fmt.Errorf("parse junit report: %w", err)
			}
			suites = []junitSuite{one}
		default:
			return RunDiagnostic{}, fmt.Errorf("unexpected junit root element <%s>", start.Name.Local)
		}
		break
	}

	var classes []string
	var methods []TestID
	var walk func(s junitSuite)
	walk = func(s junitSuite) {
		if len(s.Errors) > 0 && s.Name != "" {
			classes = append(classes, s.Name)
		}
		for _, tc := range s.Cases {
			if len(tc.Failures) == 0 && len(tc.Errors) == 0 {
				continue
			}
			class := tc.ClassName
			if class == "" {
				class = s.Name
			}
			if classLevelCaseNames[tc.Name] || tc.Name == class {
				classes = append(classes, class)
				continue
			}
			methods = append(methods, TestID{Class: class, Method: junitMethodName(tc.Name)})
		}
		for _, nested := range s.Suites {
			walk(nested)
		}
	}
	for _, s := range suites {
		walk(s)
	}
	return NewRunDiagnostic(classes, methods), nil
}

// junitMethodName strips parameter decorations some runners append, e.g.
// "testX[0]" or "testX()".
func junitMethodName(name string) string {
	if i := strings.IndexAny(name, "[("); i > 0 {
		return name[:i]
	}
	return name
}

var runReportParsers = map[string]func() RunReportParser{
	"failing-tests": func() RunReportParser { return NewFailingTestsParser() },
	"junit":         func() RunReportParser { return NewJUnitXMLParser() },
}

// NewRunReportParser returns the registered run report parser for name.
func NewRunReportParser(name string) (RunReportParser, error) {
	factory, ok := runReportParsers[name]
	if !ok {
		return nil, fmt.Errorf("unknown run report format %q (known: %s)", name, strings.Join(ReportFormats(), ", "))
	}
	return factory(), nil
}

// ReportFormats lists registered run report formats.
func ReportFormats() []string {
	names := make([]string, 0, len(runReportParsers))
	for name := range runReportParsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
