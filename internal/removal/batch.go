package removal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"testmend/internal/diagnostic"
)

// Batch is an ordered, deduplicated set of removal requests keyed by
// canonical identifier. A class request subsumes every method request for
// the same class.
type Batch struct {
	order   []diagnostic.TestID
	seen    map[string]bool
	classes map[string]bool
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		seen:    make(map[string]bool),
		classes: make(map[string]bool),
	}
}

// AddMethod queues class::method. It reports false when the request is a
// duplicate or its class is already queued for quarantine.
func (b *Batch) AddMethod(class, method string) bool {
	if b.classes[class] {
		return false
	}
	id := diagnostic.TestID{Class: class, Method: method}
	if b.seen[id.String()] {
		return false
	}
	b.seen[id.String()] = true
	b.order = append(b.order, id)
	return true
}

// AddClass queues the whole class and cancels its queued method requests.
// It reports false when the class is already queued.
func (b *Batch) AddClass(class string) bool {
	if b.classes[class] {
		return false
	}
	kept := b.order[:0]
	for _, id := range b.order {
		if id.Class == class {
			delete(b.seen, id.String())
			continue
		}
		kept = append(kept, id)
	}
	b.order = append(kept, diagnostic.TestID{Class: class})
	b.classes[class] = true
	b.seen[class] = true
	return true
}

// Add queues a canonical identifier, dispatching on whether it names a class.
func (b *Batch) Add(id diagnostic.TestID) bool {
	if id.IsClass() {
		return b.AddClass(id.Class)
	}
	return b.AddMethod(id.Class, id.Method)
}

// Contains reports whether id is queued.
func (b *Batch) Contains(id diagnostic.TestID) bool {
	return b.seen[id.String()]
}

// Len is the number of queued requests.
func (b *Batch) Len() int {
	return len(b.order)
}

// IDs returns every request in queue order.
func (b *Batch) IDs() []diagnostic.TestID {
	return append([]diagnostic.TestID(nil), b.order...)
}

// Classes returns the class-level requests in queue order.
func (b *Batch) Classes() []string {
	var out []string
	for _, id := range b.order {
		if id.IsClass() {
			out = append(out, id.Class)
		}
	}
	return out
}

// Methods returns the method-level requests in queue order.
func (b *Batch) Methods() []diagnostic.TestID {
	var out []diagnostic.TestID
	for _, id := range b.order {
		if !id.IsClass() {
			out = append(out, id)
		}
	}
	return out
}

// WriteTo writes one canonical identifier per line.
func (b *Batch) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, id := range b.order {
		n, err := io.WriteString(w, id.String()+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteFile writes the batch to path, creating parent directories.
func (b *Batch) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create request dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create request file: %w", err)
	}
	if _, err := b.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write request file: %w", err)
	}
	return f.Close()
}

// ReadBatch parses the newline-separated request format. Blank lines and
// lines starting with # are ignored.
func ReadBatch(r io.Reader) (*Batch, error) {
	b := NewBatch()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := diagnostic.ParseTestID(line)
		if err != nil {
			return nil, fmt.Errorf("request line %d: %w", lineNo, err)
		}
		b.Add(id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	return b, nil
}
