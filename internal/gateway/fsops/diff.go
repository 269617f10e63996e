package fsops

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// unifiedDiff produces a unified diff between a and b (each a slice of
// lines, newline included), in the same format as Python's
// difflib.unified_diff: "--- a", "+++ b", then @@ hunks with context
// lines around each changed region.
func unifiedDiff(a, b []string, fromFile, toFile string) []string {
	diff := difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil || text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
