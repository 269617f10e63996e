package adapter

import (
	"fmt"
	"strings"

	"github.com/sandboxgate/system-gateway/internal/gateway/execrunner"
	"github.com/sandboxgate/system-gateway/internal/gateway/fsops"
	"github.com/sandboxgate/system-gateway/internal/gateway/treeindex"
)

const maxRenderedEntries = 100

// FormatStructureResult renders a Structure as human-legible text, the
// way a chat-facing tool response would, rather than raw JSON.
func FormatStructureResult(s *treeindex.Structure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\n", s.Root)
	fmt.Fprintf(&b, "(%d files, %d directories)\n\n", s.Stats.TotalFiles, s.Stats.TotalDirs)

	entries := s.Tree
	shown := entries
	if len(shown) > maxRenderedEntries {
		shown = shown[:maxRenderedEntries]
	}
	for _, e := range shown {
		prefix := "[file] "
		if e.Kind == treeindex.KindDir {
			prefix = "[dir]  "
		}
		sizeStr := ""
		if e.Kind == treeindex.KindFile && e.Size != nil {
			sizeStr = fmt.Sprintf(" (%s)", FormatSize(*e.Size))
		}
		fmt.Fprintf(&b, "%s%s%s\n", prefix, e.Path, sizeStr)
	}
	if len(entries) > maxRenderedEntries {
		fmt.Fprintf(&b, "... and %d more entries\n", len(entries)-maxRenderedEntries)
	}
	return b.String()
}

// FormatReadResult renders a ReadResult as human-legible text.
func FormatReadResult(r *fsops.ReadResult) string {
	if r.IsBinary {
		return fmt.Sprintf("[Binary file: %s]", r.Path)
	}

	header := fmt.Sprintf("File: %s (%d/%d lines)", r.Path, r.LinesReturned, r.TotalLines)
	if r.Truncated {
		header += " [truncated]"
	}
	return fmt.Sprintf("%s\n%s\n%s", header, strings.Repeat("=", 40), r.Content)
}

// FormatEditResult renders an EditResult as human-legible text.
func FormatEditResult(r *fsops.EditResult) string {
	return fmt.Sprintf("Applied %d edits to %s (%d lines)\n\n%s", r.EditsApplied, r.Path, r.NewLineCount, r.DiffPreview)
}

// FormatExecuteResult renders an execrunner.Result as human-legible text.
func FormatExecuteResult(command string, r *execrunner.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", command)
	fmt.Fprintf(&b, "Exit code: %d (%dms)\n", r.ExitCode, r.DurationMs)
	if r.Truncated {
		b.WriteString("[Output truncated]\n")
	}
	if r.Stdout != "" {
		fmt.Fprintf(&b, "\n--- stdout ---\n%s", r.Stdout)
	}
	if r.Stderr != "" {
		fmt.Fprintf(&b, "\n--- stderr ---\n%s", r.Stderr)
	}
	return b.String()
}

// FormatSize renders a byte count as a human-legible size, matching the
// original tool layer's _format_size.
func FormatSize(size int64) string {
	if size == 0 {
		return ""
	}
	units := []string{"B", "KB", "MB", "GB"}
	f := float64(size)
	for _, unit := range units {
		if f < 1024 {
			return fmt.Sprintf("%.1f%s", f, unit)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1fTB", f)
}
