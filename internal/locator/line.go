package locator

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"testmend/internal/javasrc"
	"testmend/internal/logging"
)

// LineScanner scans the file from the top and attributes the line to the
// most recent test declaration at or before it.
type LineScanner struct{}

// NewLineScanner returns the declaration-scan locator.
func NewLineScanner() *LineScanner {
	return &LineScanner{}
}

// Name returns "line".
func (l *LineScanner) Name() string {
	return "line"
}

// Enclosing implements Locator.
func (l *LineScanner) Enclosing(ctx context.Context, path string, line int) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var current string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; n <= line && scanner.Scan(); n++ {
		if n%512 == 0 {
			if err := ctx.Err(); err != nil {
				return "", false, err
			}
		}
		if m := javasrc.TestDeclPattern.FindStringSubmatch(scanner.Text()); m != nil {
			current = m[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("scan %s: %w", path, err)
	}

	logging.LocatorDebug("line scan %s:%d -> %q", path, line, current)
	return current, current != "", nil
}
