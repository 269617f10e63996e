// Package audit writes an append-only, best-effort JSON-lines trail of
// every gateway operation. A write failure never blocks the caller: it
// falls back to the structured logger instead of returning an error.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Operation names the kind of action an audit entry records.
type Operation string

const (
	OpReadStructure     Operation = "read_structure"
	OpReadFile          Operation = "read_file"
	OpEditFile          Operation = "edit_file"
	OpExecute           Operation = "execute"
	OpApprovalRequested Operation = "approval_requested"
	OpApprovalGranted   Operation = "approval_granted"
	OpApprovalDenied    Operation = "approval_denied"
	OpApprovalExpired   Operation = "approval_expired"
)

// Result is the outcome recorded against an operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultBlocked Result = "blocked"
	ResultPending Result = "pending"
)

// Entry is one audit log line.
type Entry struct {
	Timestamp   string                 `json:"timestamp"`
	UserID      string                 `json:"user_id"`
	Operation   Operation              `json:"operation"`
	Target      string                 `json:"target"`
	Result      Result                 `json:"result"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Sensitivity string                 `json:"sensitivity,omitempty"`
	ApprovalID  string                 `json:"approval_id,omitempty"`
}

// Logger appends Entry records to a JSON-lines file.
type Logger struct {
	mu      sync.Mutex
	logFile string
}

// New opens (creating its parent directory if necessary) the audit log
// at logPath.
func New(logPath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	return &Logger{logFile: logPath}, nil
}

// Log appends one audit entry. Failures are logged and swallowed: audit
// logging must never be the reason a gateway operation fails.
func (l *Logger) Log(userID string, op Operation, target string, result Result, details map[string]interface{}, sensitivityLevel, approvalID string) {
	entry := Entry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		UserID:      userID,
		Operation:   op,
		Target:      target,
		Result:      result,
		Details:     details,
		Sensitivity: sensitivityLevel,
		ApprovalID:  approvalID,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal audit entry")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		log.Error().Err(err).Msg("failed to open audit log")
		log.Info().RawJSON("audit", line).Msg("AUDIT")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Msg("failed to write audit log")
		log.Info().RawJSON("audit", line).Msg("AUDIT")
	}
}

// LogReadStructure records a read_structure operation.
func (l *Logger) LogReadStructure(userID, path string, success bool) {
	target := path
	if target == "" {
		target = "/"
	}
	l.Log(userID, OpReadStructure, target, resultFor(success), nil, "", "")
}

// LogReadFile records a read_file operation.
func (l *Logger) LogReadFile(userID, path string, success bool, lines int) {
	l.Log(userID, OpReadFile, path, resultFor(success), map[string]interface{}{"lines_read": lines}, "", "")
}

// LogEditFile records an edit_file operation.
func (l *Logger) LogEditFile(userID, path string, success bool, edits int) {
	l.Log(userID, OpEditFile, path, resultFor(success), map[string]interface{}{"edits_applied": edits}, "", "")
}

// LogExecute records an execute operation.
func (l *Logger) LogExecute(userID, command string, success bool, exitCode int, durationMs int64) {
	l.Log(userID, OpExecute, command, resultFor(success), map[string]interface{}{
		"exit_code":   exitCode,
		"duration_ms": durationMs,
	}, "", "")
}

// LogBlocked records an operation refused outright (BLOCKED sensitivity
// or a failed path/command validation).
func (l *Logger) LogBlocked(userID string, op Operation, target, reason string) {
	l.Log(userID, op, target, ResultBlocked, map[string]interface{}{"reason": reason}, "", "")
}

func resultFor(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}
