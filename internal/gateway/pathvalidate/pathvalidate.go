// Package pathvalidate resolves and confines caller-supplied paths to a
// workspace root, and rejects anything matching a blocklist of glob
// patterns.
package pathvalidate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"golang.org/x/sys/unix"
)

// Kind classifies why a path was rejected.
type Kind string

const (
	KindEscapesWorkspace  Kind = "escapes_workspace"
	KindBlocked           Kind = "blocked"
	KindUnresolvable      Kind = "unresolvable"
	KindParentMissing     Kind = "parent_missing"
	KindParentNotWritable Kind = "parent_not_writable"
)

// ValidationError describes why a path request was rejected.
type ValidationError struct {
	Kind    Kind
	Path    string
	Pattern string // set for KindBlocked
	Err     error
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindEscapesWorkspace:
		return fmt.Sprintf("path escapes workspace: %s", e.Path)
	case KindBlocked:
		return fmt.Sprintf("access blocked by pattern %q: %s", e.Pattern, e.Path)
	case KindParentMissing:
		return fmt.Sprintf("parent directory does not exist: %s", e.Path)
	case KindParentNotWritable:
		return fmt.Sprintf("parent directory not writable: %s", e.Path)
	default:
		return fmt.Sprintf("cannot resolve path %s: %v", e.Path, e.Err)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator confines paths to a workspace root and enforces a blocklist.
type Validator struct {
	WorkspaceRoot   string
	BlockedPatterns []string
}

// New builds a Validator for workspaceRoot, canonicalizing it up front.
func New(workspaceRoot string, blockedPatterns []string) (*Validator, error) {
	resolved, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("pathvalidate: resolving workspace root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}
	return &Validator{
		WorkspaceRoot:   resolved,
		BlockedPatterns: append([]string(nil), blockedPatterns...),
	}, nil
}

// Validate resolves input against the workspace root, rejecting anything
// that escapes it (after symlink resolution) or matches a blocklist glob.
func (v *Validator) Validate(input string) (string, error) {
	return v.validateWithOverlay(input, nil)
}

// ValidateWithOverlay is Validate but also checks per-user overlay
// blocklist patterns, which may only add restrictions, never remove them.
func (v *Validator) ValidateWithOverlay(input string, overlay []string) (string, error) {
	return v.validateWithOverlay(input, overlay)
}

func (v *Validator) validateWithOverlay(input string, overlay []string) (string, error) {
	if input == "" || input == "." || input == "./" || input == "/" {
		return v.WorkspaceRoot, nil
	}

	clean := strings.TrimPrefix(input, "/")

	var target string
	if filepath.IsAbs(input) {
		target = input
	} else {
		target = filepath.Join(v.WorkspaceRoot, clean)
	}

	resolved, err := resolvePath(target)
	if err != nil {
		return "", &ValidationError{Kind: KindUnresolvable, Path: input, Err: err}
	}

	rel, err := filepath.Rel(v.WorkspaceRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ValidationError{Kind: KindEscapesWorkspace, Path: input}
	}
	if rel == "." {
		rel = ""
	}

	allPatterns := v.BlockedPatterns
	if len(overlay) > 0 {
		allPatterns = append(append([]string(nil), v.BlockedPatterns...), overlay...)
	}

	base := filepath.Base(resolved)
	for _, pattern := range allPatterns {
		if wildcard.Match(pattern, rel) || wildcard.Match(pattern, base) {
			return "", &ValidationError{Kind: KindBlocked, Path: input, Pattern: pattern}
		}
	}

	return resolved, nil
}

// ValidateForWrite validates input and additionally requires that the
// parent directory exists and is writable.
func (v *Validator) ValidateForWrite(input string) (string, error) {
	return v.ValidateForWriteWithOverlay(input, nil)
}

// ValidateForWriteWithOverlay is ValidateForWrite plus per-user overlay
// patterns.
func (v *Validator) ValidateForWriteWithOverlay(input string, overlay []string) (string, error) {
	resolved, err := v.validateWithOverlay(input, overlay)
	if err != nil {
		return "", err
	}

	parent := filepath.Dir(resolved)
	info, statErr := os.Stat(parent)
	if statErr != nil {
		return "", &ValidationError{Kind: KindParentMissing, Path: input, Err: statErr}
	}
	if !info.IsDir() {
		return "", &ValidationError{Kind: KindParentMissing, Path: input}
	}
	if !isWritable(parent) {
		return "", &ValidationError{Kind: KindParentNotWritable, Path: input}
	}

	return resolved, nil
}

// IsBinary samples the first 8 KiB of a file to guess whether it is
// binary: any NUL byte, or more than 30% of sampled bytes outside the
// printable/text range, counts as binary.
func IsBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	chunk := buf[:n]
	if len(chunk) == 0 {
		return false
	}

	nonText := 0
	for _, b := range chunk {
		if b == 0x00 {
			return true
		}
		if isTextByte(b) {
			continue
		}
		nonText++
	}
	return float64(nonText)/float64(len(chunk)) > 0.3
}

func isTextByte(b byte) bool {
	switch b {
	case 0x07, 0x08, 0x09, 0x0A, 0x0C, 0x0D, 0x1B:
		return true
	}
	return b >= 0x20
}

// resolvePath resolves ".." segments and symlinks without requiring the
// final component to exist (so validate_for_write's create-new-file case
// still resolves cleanly).
func resolvePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	if real, err := filepath.EvalSymlinks(cleaned); err == nil {
		return real, nil
	}

	// Final component may not exist yet (e.g. a new file): resolve the
	// parent and re-attach the base name.
	parent := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return cleaned, nil
		}
		return "", err
	}
	return filepath.Join(realParent, base), nil
}

func isWritable(dir string) bool {
	return unix.Access(dir, unix.W_OK) == nil
}
