// Package locator finds the test method enclosing a line of a Java source
// file. Locators are stateless and read the file on every call, so they
// always see the post-removal state of the working copy.
package locator

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Locator maps a (file, line) pair to the enclosing test method name.
// found is false when the line precedes every test method declaration.
type Locator interface {
	Enclosing(ctx context.Context, path string, line int) (method string, found bool, err error)
	Name() string
}

var locators = map[string]func() Locator{
	"line": func() Locator { return NewLineScanner() },
	"ast":  func() Locator { return NewASTLocator() },
}

// New returns the registered locator for name.
func New(name string) (Locator, error) {
	factory, ok := locators[name]
	if !ok {
		return nil, fmt.Errorf("unknown locator %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(), nil
}

// Names lists registered locators.
func Names() []string {
	names := make([]string, 0, len(locators))
	for name := range locators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
