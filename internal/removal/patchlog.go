package removal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sourcegraph/go-diff/diff"
)

// PatchLog appends unified diffs of applied removals to a file. A PatchLog
// with an empty path discards everything.
type PatchLog struct {
	path string
	mu   sync.Mutex
}

// NewPatchLog returns a patch log writing to path.
func NewPatchLog(path string) *PatchLog {
	return &PatchLog{path: path}
}

// Path returns the log file path.
func (p *PatchLog) Path() string {
	return p.path
}

// Append writes the file diffs to the end of the log.
func (p *PatchLog) Append(fds []*diff.FileDiff) error {
	if p == nil || p.path == "" || len(fds) == 0 {
		return nil
	}
	out, err := diff.PrintMultiFileDiff(fds)
	if err != nil {
		return fmt.Errorf("render patch: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create patch log dir: %w", err)
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open patch log: %w", err)
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		return fmt.Errorf("write patch log: %w", err)
	}
	return f.Close()
}

// ReadPatchLog parses a patch log back into file diffs.
func ReadPatchLog(path string) ([]*diff.FileDiff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return diff.ParseMultiFileDiff(data)
}

// cut is one byte range removed from a file.
type cut struct {
	start, end int
}

// editDiff renders the cuts applied to orig as a zero-context unified diff.
// Cuts must be sorted ascending and non-overlapping.
func editDiff(rel string, orig []byte, cuts []cut) *diff.FileDiff {
	fd := &diff.FileDiff{
		OrigName: "a/" + filepath.ToSlash(rel),
		NewName:  "b/" + filepath.ToSlash(rel),
	}
	var shift int32
	for _, c := range cuts {
		lineStart := bytes.LastIndexByte(orig[:c.start], '\n') + 1
		lineEnd := c.end
		if orig[lineEnd-1] != '\n' {
			if i := bytes.IndexByte(orig[lineEnd:], '\n'); i >= 0 {
				lineEnd += i + 1
			} else {
				lineEnd = len(orig)
			}
		}

		before := orig[lineStart:lineEnd]
		after := append(append([]byte{}, orig[lineStart:c.start]...), orig[c.end:lineEnd]...)

		origLines := splitLines(before)
		newLines := splitLines(after)
		startLine := int32(bytes.Count(orig[:lineStart], []byte{'\n'})) + 1

		h := &diff.Hunk{
			OrigStartLine: startLine,
			OrigLines:     int32(len(origLines)),
			NewStartLine:  startLine + shift,
			NewLines:      int32(len(newLines)),
		}
		if h.NewLines == 0 {
			h.NewStartLine--
		}
		var body bytes.Buffer
		for _, l := range origLines {
			body.WriteByte('-')
			body.WriteString(l)
			body.WriteByte('\n')
		}
		for _, l := range newLines {
			body.WriteByte('+')
			body.WriteString(l)
			body.WriteByte('\n')
		}
		h.Body = body.Bytes()
		fd.Hunks = append(fd.Hunks, h)
		shift += h.NewLines - h.OrigLines
	}
	return fd
}

// renameDiff records a quarantine move as a git-style rename.
func renameDiff(from, to string) *diff.FileDiff {
	from, to = filepath.ToSlash(from), filepath.ToSlash(to)
	return &diff.FileDiff{
		OrigName: "a/" + from,
		NewName:  "b/" + to,
		Extended: []string{
			fmt.Sprintf("diff --git a/%s b/%s", from, to),
			"similarity index 100%",
			"rename from " + from,
			"rename to " + to,
		},
	}
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	b = bytes.TrimSuffix(b, []byte{'\n'})
	parts := bytes.Split(b, []byte{'\n'})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}
