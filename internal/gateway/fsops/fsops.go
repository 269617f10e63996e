// Package fsops implements line-based file reading and atomic multi-edit
// writes against paths resolved by pathvalidate.
package fsops

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sandboxgate/system-gateway/internal/gateway/pathvalidate"
)

// ErrNotFound is returned when the target file does not exist.
var ErrNotFound = fmt.Errorf("file not found")

// ErrIsDirectory is returned when the target path is a directory.
var ErrIsDirectory = fmt.Errorf("path is a directory")

// ReadResult is the outcome of a Read call.
type ReadResult struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	TotalLines    int    `json:"total_lines"`
	LinesReturned int    `json:"lines_returned"`
	Truncated     bool   `json:"truncated"`
	IsBinary      bool   `json:"is_binary"`
}

// Ops bundles the size/output limits the gateway enforces on reads, and
// exposes Read/Edit against paths already confined by a pathvalidate.Validator.
type Ops struct {
	MaxFileSizeBytes int64
	MaxOutputLines   int
}

// New builds an Ops with the given limits.
func New(maxFileSizeBytes int64, maxOutputLines int) *Ops {
	return &Ops{MaxFileSizeBytes: maxFileSizeBytes, MaxOutputLines: maxOutputLines}
}

// Read returns the contents of resolvedPath, optionally restricted to the
// 1-indexed inclusive line range [lineStart, lineEnd]. displayPath is the
// caller-facing path echoed back in the result (the un-resolved request
// path, not the canonicalized one).
func (o *Ops) Read(resolvedPath, displayPath string, lineStart, lineEnd int) (*ReadResult, error) {
	info, err := os.Stat(resolvedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fsops: stat %s: %w", resolvedPath, err)
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}
	if info.Size() > o.MaxFileSizeBytes {
		return nil, fmt.Errorf("fsops: file too large: %d bytes (max %d)", info.Size(), o.MaxFileSizeBytes)
	}

	if pathvalidate.IsBinary(resolvedPath) {
		return &ReadResult{
			Path:     displayPath,
			Content:  "[Binary file - content not displayed]",
			IsBinary: true,
		}, nil
	}

	lines, err := readLines(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("fsops: reading %s: %w", resolvedPath, err)
	}
	totalLines := len(lines)

	start := lineStart - 1
	if lineStart <= 0 {
		start = 0
	}
	end := lineEnd
	if lineEnd <= 0 {
		end = totalLines
	}
	if start < 0 {
		start = 0
	}
	if start > totalLines {
		start = totalLines
	}
	if end < start {
		end = start
	}
	if end > totalLines {
		end = totalLines
	}

	selected := lines[start:end]
	truncated := len(selected) >= o.MaxOutputLines
	if truncated {
		selected = selected[:o.MaxOutputLines]
	}

	return &ReadResult{
		Path:          displayPath,
		Content:       strings.Join(selected, ""),
		TotalLines:    totalLines,
		LinesReturned: len(selected),
		Truncated:     truncated,
	}, nil
}

// EditAction is the kind of change a single EditOperation performs.
type EditAction string

const (
	ActionReplace EditAction = "replace"
	ActionInsert  EditAction = "insert"
	ActionDelete  EditAction = "delete"
)

// EditOperation is one line-range edit within an Edit call.
type EditOperation struct {
	Action    EditAction
	LineStart int
	LineEnd   int // 0 means "defaults to LineStart"
	Content   string
}

// EditResult is the outcome of an Edit call.
type EditResult struct {
	Path         string `json:"path"`
	EditsApplied int    `json:"edits_applied"`
	NewLineCount int    `json:"new_line_count"`
	DiffPreview  string `json:"diff_preview"`
}

// Edit applies edits to resolvedPath atomically: all edits are applied to
// an in-memory copy, and only written back if every edit succeeds. Edits
// are applied in descending line_start order so earlier edits in the list
// don't shift the line numbers later edits refer to.
func (o *Ops) Edit(resolvedPath, displayPath string, edits []EditOperation, createIfMissing bool) (*EditResult, error) {
	var originalLines []string

	info, statErr := os.Stat(resolvedPath)
	switch {
	case statErr == nil:
		if info.IsDir() {
			return nil, ErrIsDirectory
		}
		lines, err := readLines(resolvedPath)
		if err != nil {
			return nil, fmt.Errorf("fsops: reading %s: %w", resolvedPath, err)
		}
		originalLines = lines
	case os.IsNotExist(statErr):
		if !createIfMissing {
			return nil, ErrNotFound
		}
		originalLines = nil
	default:
		return nil, fmt.Errorf("fsops: stat %s: %w", resolvedPath, statErr)
	}

	newLines := append([]string(nil), originalLines...)

	sorted := append([]EditOperation(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LineStart > sorted[j].LineStart
	})

	for _, e := range sorted {
		idx := e.LineStart - 1
		if idx < 0 {
			idx = 0
		}

		switch e.Action {
		case ActionDelete:
			end := e.LineEnd
			if end == 0 {
				end = e.LineStart
			}
			newLines = spliceDelete(newLines, idx, end)

		case ActionReplace:
			end := e.LineEnd
			if end == 0 {
				end = e.LineStart
			}
			content := splitLinesKeepEnds(e.Content)
			newLines = spliceReplace(newLines, idx, end, content)

		case ActionInsert:
			content := splitLinesKeepEnds(e.Content)
			newLines = spliceReplace(newLines, idx, idx, content)

		default:
			return nil, fmt.Errorf("fsops: unknown edit action %q", e.Action)
		}
	}

	diff := unifiedDiff(originalLines, newLines, "a/"+displayPath, "b/"+displayPath)
	preview := truncateDiff(diff, 50)

	if err := os.WriteFile(resolvedPath, []byte(strings.Join(newLines, "")), 0o644); err != nil {
		return nil, fmt.Errorf("fsops: writing %s: %w", resolvedPath, err)
	}

	return &EditResult{
		Path:         displayPath,
		EditsApplied: len(edits),
		NewLineCount: len(newLines),
		DiffPreview:  preview,
	}, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, line)
		}
		if err != nil {
			break
		}
	}
	return lines, nil
}

// splitLinesKeepEnds splits content into lines, each retaining its
// trailing newline, and ensures the final line ends with one (matching
// the original service's splitlines(keepends=True) + forced trailing \n).
func splitLinesKeepEnds(content string) []string {
	if content == "" {
		return nil
	}
	var out []string
	for {
		i := strings.IndexByte(content, '\n')
		if i < 0 {
			out = append(out, content+"\n")
			break
		}
		out = append(out, content[:i+1])
		content = content[i+1:]
		if content == "" {
			break
		}
	}
	return out
}

func spliceDelete(lines []string, start, end int) []string {
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return lines
	}
	out := append([]string(nil), lines[:start]...)
	out = append(out, lines[end:]...)
	return out
}

func spliceReplace(lines []string, start, end int, content []string) []string {
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end < start {
		end = start
	}
	out := append([]string(nil), lines[:start]...)
	out = append(out, content...)
	out = append(out, lines[end:]...)
	return out
}

func truncateDiff(diffLines []string, limit int) string {
	if len(diffLines) > limit {
		diffLines = diffLines[:limit]
	}
	return strings.Join(diffLines, "\n")
}
