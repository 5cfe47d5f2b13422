package locator

import (
	"context"
	"fmt"
	"os"

	"testmend/internal/javasrc"
	"testmend/internal/logging"
)

// ASTLocator parses the file with Tree-sitter and returns the test method
// whose declaration range contains the line. Unlike LineScanner it does not
// attribute lines between methods (fields, helpers) to the preceding test.
type ASTLocator struct{}

// NewASTLocator returns the syntax-tree locator.
func NewASTLocator() *ASTLocator {
	return &ASTLocator{}
}

// Name returns "ast".
func (l *ASTLocator) Name() string {
	return "ast"
}

// Enclosing implements Locator.
func (l *ASTLocator) Enclosing(ctx context.Context, path string, line int) (string, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	file, err := javasrc.Parse(ctx, content)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", path, err)
	}
	m, ok := file.EnclosingTestMethod(line)
	logging.LocatorDebug("ast lookup %s:%d -> %q (found=%v, parse_errors=%v)", path, line, m.Name, ok, file.HasErrors)
	return m.Name, ok, nil
}
