package javasrc

import (
	"bytes"
	"regexp"
	"strings"
)

// TestDeclPattern matches a public no-argument test method declaration line
// and captures the method name.
var TestDeclPattern = regexp.MustCompile(`^\s*public\s+void\s+(test\w*)\s*\(\s*\)`)

type sourceLine struct {
	start, end int // byte range, end past the newline
	text       string
}

func splitLines(content []byte) []sourceLine {
	var lines []sourceLine
	for start := 0; start < len(content); {
		end := len(content)
		if i := bytes.IndexByte(content[start:], '\n'); i >= 0 {
			end = start + i + 1
		}
		lines = append(lines, sourceLine{
			start: start,
			end:   end,
			text:  strings.TrimRight(string(content[start:end]), "\r\n"),
		})
		start = end
	}
	return lines
}

func indentOf(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}

func isLeadingLine(trimmed string) bool {
	for _, p := range []string{"@", "//", "/*", "*"} {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// DeclaredMethodSpan locates a test method from its declaration line alone,
// for sources whose syntax tree lost the method to error recovery (an
// unclosed string literal, for one). The span covers whole lines: the
// annotation and comment lines directly above the declaration, down to the
// closing brace at the declaration's indentation. Without that brace it
// stops before the next member or the end of the enclosing type.
func DeclaredMethodSpan(content []byte, name string) (Span, bool) {
	lines := splitLines(content)
	decl := -1
	for i, l := range lines {
		if m := TestDeclPattern.FindStringSubmatch(l.text); m != nil && m[1] == name {
			decl = i
			break
		}
	}
	if decl < 0 {
		return Span{}, false
	}
	indent := indentOf(lines[decl].text)

	first := decl
	for first > 0 {
		trimmed := strings.TrimSpace(lines[first-1].text)
		if trimmed == "" || !isLeadingLine(trimmed) {
			break
		}
		first--
	}

	last := len(lines) - 1
	for j := decl + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j].text)
		if trimmed == "" {
			continue
		}
		ind := indentOf(lines[j].text)
		if ind < indent {
			last = j - 1
			break
		}
		if ind == indent {
			if strings.HasPrefix(trimmed, "}") {
				last = j
			} else {
				last = j - 1
			}
			break
		}
	}
	for last > decl && strings.TrimSpace(lines[last].text) == "" {
		last--
	}

	return Span{
		Start:     uint32(lines[first].start),
		End:       uint32(lines[last].end),
		StartLine: first + 1,
		EndLine:   last + 1,
	}, true
}
