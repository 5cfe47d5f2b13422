// Package javasrc parses Java test sources with Tree-sitter and reports the
// byte and line ranges of test methods and their assertion statements.
package javasrc

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// Span is a byte range with its 1-indexed, inclusive line range.
type Span struct {
	Start     uint32
	End       uint32
	StartLine int
	EndLine   int
}

// Method is a method declared in a type of the file, nested member types
// included.
type Method struct {
	// Type is the declaring type's name, dotted for nested types
	// ("ATest.Inner").
	Type       string
	Name       string
	ParamCount int
	Public     bool
	Void       bool
	Annotated  bool // carries @Test

	// Decl covers modifiers, annotations, signature and body.
	Decl Span

	// Leading covers Decl plus any comments directly above it.
	Leading Span

	// Assertions are assert*/fail invocation statements and assert
	// statements inside the body, in source order.
	Assertions []Span
}

// IsTest reports whether the method is a test: public void test*() or
// annotated with @Test.
func (m Method) IsTest() bool {
	if m.Annotated {
		return true
	}
	return m.Public && m.Void && m.ParamCount == 0 && strings.HasPrefix(m.Name, "test")
}

// File is a parsed Java source file.
type File struct {
	Content []byte
	Methods []Method

	// HasErrors reports Tree-sitter error recovery somewhere in the file.
	HasErrors bool
}

// Parse parses Java source content.
func Parse(ctx context.Context, content []byte) (*File, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse java source: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	f := &File{Content: content, HasErrors: root.HasError()}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		f.collectType(root.NamedChild(i), "")
	}
	return f, nil
}

func isTypeDecl(n *sitter.Node) bool {
	switch n.Type() {
	case "class_declaration", "enum_declaration", "interface_declaration":
		return true
	}
	return false
}

// collectType records the methods of a type declaration and, recursively,
// of the member types nested in it.
func (f *File) collectType(decl *sitter.Node, outer string) {
	if !isTypeDecl(decl) {
		return
	}
	typeName := text(decl.ChildByFieldName("name"), f.Content)
	if outer != "" {
		typeName = outer + "." + typeName
	}
	body := decl.ChildByFieldName("body")
	if body == nil {
		return
	}
	for j := 0; j < int(body.NamedChildCount()); j++ {
		member := body.NamedChild(j)
		switch {
		case member.Type() == "method_declaration":
			f.Methods = append(f.Methods, buildMethod(typeName, member, f.Content))
		case isTypeDecl(member):
			f.collectType(member, typeName)
		}
	}
}

// FindMethod returns the method with the given name, preferring the
// zero-parameter overload.
func (f *File) FindMethod(name string) (Method, bool) {
	var fallback *Method
	for i := range f.Methods {
		m := &f.Methods[i]
		if m.Name != name {
			continue
		}
		if m.ParamCount == 0 {
			return *m, true
		}
		if fallback == nil {
			fallback = m
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Method{}, false
}

// EnclosingTestMethod returns the test method whose declaration (including
// leading comments) contains the 1-indexed line.
func (f *File) EnclosingTestMethod(line int) (Method, bool) {
	for _, m := range f.Methods {
		if m.IsTest() && line >= m.Leading.StartLine && line <= m.Decl.EndLine {
			return m, true
		}
	}
	return Method{}, false
}

func buildMethod(typeName string, node *sitter.Node, content []byte) Method {
	m := Method{
		Type: typeName,
		Name: text(node.ChildByFieldName("name"), content),
		Decl: spanOf(node),
	}

	if params := node.ChildByFieldName("parameters"); params != nil {
		m.ParamCount = int(params.NamedChildCount())
	}
	if t := node.ChildByFieldName("type"); t != nil {
		m.Void = t.Type() == "void_type" || text(t, content) == "void"
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "modifiers" {
			continue
		}
		mods := text(child, content)
		m.Public = containsWord(mods, "public")
		for k := 0; k < int(child.NamedChildCount()); k++ {
			ann := child.NamedChild(k)
			if ann.Type() != "marker_annotation" && ann.Type() != "annotation" {
				continue
			}
			name := text(ann.ChildByFieldName("name"), content)
			if name == "Test" || strings.HasSuffix(name, ".Test") {
				m.Annotated = true
			}
		}
	}

	m.Leading = m.Decl
	for prev := node.PrevNamedSibling(); prev != nil && isComment(prev); prev = prev.PrevNamedSibling() {
		if int(prev.EndPoint().Row)+1 < m.Leading.StartLine-1 || !startsLine(content, prev.StartByte()) {
			break
		}
		m.Leading.Start = prev.StartByte()
		m.Leading.StartLine = int(prev.StartPoint().Row) + 1
	}

	if body := node.ChildByFieldName("body"); body != nil {
		collectAssertions(body, content, &m.Assertions)
	}
	return m
}

func collectAssertions(node *sitter.Node, content []byte, out *[]Span) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "assert_statement":
			*out = append(*out, spanOf(child))
			continue
		case "expression_statement":
			if inv := child.NamedChild(0); inv != nil && inv.Type() == "method_invocation" {
				if IsAssertionName(text(inv.ChildByFieldName("name"), content)) {
					*out = append(*out, spanOf(child))
					continue
				}
			}
		}
		collectAssertions(child, content, out)
	}
}

// IsAssertionName reports whether an invoked method name is a JUnit-style
// assertion: assert* or fail.
func IsAssertionName(name string) bool {
	return strings.HasPrefix(name, "assert") || name == "fail"
}

// startsLine reports whether only indentation precedes offset on its line.
func startsLine(content []byte, offset uint32) bool {
	for i := int(offset) - 1; i >= 0; i-- {
		switch content[i] {
		case '\n':
			return true
		case ' ', '\t':
		default:
			return false
		}
	}
	return true
}

func isComment(n *sitter.Node) bool {
	switch n.Type() {
	case "comment", "line_comment", "block_comment":
		return true
	}
	return false
}

func spanOf(n *sitter.Node) Span {
	return Span{
		Start:     n.StartByte(),
		End:       n.EndByte(),
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
}

func text(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if f == word {
			return true
		}
	}
	return false
}

// ExpandToLines widens a span to whole lines when it is the only thing on
// them, so removing it leaves no blank indentation behind. Spans sharing a
// line with other code are returned unchanged.
func ExpandToLines(content []byte, s Span) Span {
	start := int(s.Start)
	for start > 0 && (content[start-1] == ' ' || content[start-1] == '\t') {
		start--
	}
	if start > 0 && content[start-1] != '\n' {
		return s
	}

	end := int(s.End)
	for end < len(content) && (content[end] == ' ' || content[end] == '\t' || content[end] == '\r') {
		end++
	}
	if end < len(content) && content[end] != '\n' {
		return s
	}
	if end < len(content) {
		end++
	}

	out := s
	out.Start = uint32(start)
	out.End = uint32(end)
	return out
}
