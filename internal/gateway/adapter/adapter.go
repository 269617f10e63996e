// Package adapter wires together path validation, sensitivity
// classification, the approval queue, and the filesystem/command
// services into the gateway's four caller-facing operations:
// read_structure, read_file, edit_file, and execute.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandboxgate/system-gateway/internal/gateway/approval"
	"github.com/sandboxgate/system-gateway/internal/gateway/audit"
	"github.com/sandboxgate/system-gateway/internal/gateway/execrunner"
	"github.com/sandboxgate/system-gateway/internal/gateway/fsops"
	"github.com/sandboxgate/system-gateway/internal/gateway/pathvalidate"
	"github.com/sandboxgate/system-gateway/internal/gateway/sensitivity"
	"github.com/sandboxgate/system-gateway/internal/gateway/treeindex"
	"github.com/sandboxgate/system-gateway/internal/gateway/usersettings"
)

// ErrCancelled is returned when a pending approval is rejected, or times
// out without a decision.
var ErrCancelled = errors.New("adapter: operation not approved")

// ErrBlocked is returned when an operation's sensitivity classifies as
// BLOCKED.
var ErrBlocked = errors.New("adapter: operation is blocked")

// Adapter dispatches the gateway's operations, applying the
// classify -> approve -> execute -> audit pipeline uniformly across them.
type Adapter struct {
	Validator    *pathvalidate.Validator
	Index        *treeindex.Indexer
	Ops          *fsops.Ops
	Runner       *execrunner.Runner
	Approvals    *approval.Store
	Audit        *audit.Logger
	UserSettings *usersettings.Store

	DefaultExecTimeout time.Duration
	MaxExecTimeout     time.Duration
	HITLTimeout        time.Duration
	HITLPollInterval   time.Duration
}

// gate runs the classify -> queue -> wait pipeline for a single
// operation. It returns (approvalID, nil) if the caller may proceed
// (either AUTO, or PROMPT/HIGH that was approved), or an error
// (ErrBlocked, ErrCancelled, or a queueing failure) otherwise. On
// BLOCKED it logs the operation's own audit entry itself (with the
// caller's real op and reason) so the caller must not log a second one
// for that case - see the ErrBlocked checks at each call site.
func (a *Adapter) gate(ctx context.Context, userID, operationText, target string, level sensitivity.Level, details map[string]interface{}, op audit.Operation, blockReason string) (string, error) {
	switch level {
	case sensitivity.BLOCKED:
		a.Audit.LogBlocked(userID, op, target, blockReason)
		return "", ErrBlocked

	case sensitivity.AUTO:
		return "", nil
	}

	if details == nil {
		details = map[string]interface{}{}
	}
	details["sensitivity"] = string(level)

	req, err := a.Approvals.QueueApproval(userID, operationText, details, level, a.HITLTimeout)
	if err != nil {
		return "", fmt.Errorf("adapter: queueing approval: %w", err)
	}
	a.Audit.Log(userID, audit.OpApprovalRequested, target, audit.ResultPending, details, string(level), req.ID)

	decided, err := a.Approvals.WaitForDecision(ctx, req.ID, a.HITLPollInterval, a.HITLTimeout)
	if err != nil {
		return "", err
	}
	if decided == nil {
		a.Audit.Log(userID, audit.OpApprovalExpired, target, audit.ResultFailure, nil, string(level), req.ID)
		return "", ErrCancelled
	}

	switch decided.Status {
	case approval.StatusApproved:
		a.Audit.Log(userID, audit.OpApprovalGranted, target, audit.ResultSuccess, nil, string(level), req.ID)
		return req.ID, nil
	case approval.StatusRejected:
		a.Audit.Log(userID, audit.OpApprovalDenied, target, audit.ResultFailure, nil, string(level), req.ID)
		return "", ErrCancelled
	default:
		a.Audit.Log(userID, audit.OpApprovalExpired, target, audit.ResultFailure, nil, string(level), req.ID)
		return "", ErrCancelled
	}
}

func (a *Adapter) overlay(userID string) []string {
	if a.UserSettings == nil {
		return nil
	}
	return a.UserSettings.GetOverlayPatterns(userID)
}

// autoApprovePath reports whether userID has configured resolvedPath's
// directory as one of their auto-approve directories. BLOCKED never
// reaches here - only a PROMPT/HIGH classification can be downgraded.
func (a *Adapter) autoApprovePath(userID, resolvedPath string) bool {
	if a.UserSettings == nil {
		return false
	}
	return a.UserSettings.IsInAutoApproveDir(userID, resolvedPath)
}

// autoApproveCommand reports whether command matches one of userID's
// own auto-approve command patterns (no global list is configured, so
// the global set passed to EffectiveAutoApproveCommands is nil).
func (a *Adapter) autoApproveCommand(userID, command string) bool {
	if a.UserSettings == nil {
		return false
	}
	settings := a.UserSettings.Get(userID)
	for _, pattern := range usersettings.EffectiveAutoApproveCommands(nil, settings) {
		if pattern == "" {
			continue
		}
		if command == pattern || strings.HasPrefix(command, pattern+" ") {
			return true
		}
	}
	return false
}

// ReadStructure returns the indexed directory tree rooted at path.
func (a *Adapter) ReadStructure(ctx context.Context, userID, path string, depth int, includeHidden bool, pattern string) (*treeindex.Structure, error) {
	resolved, err := a.Validator.ValidateWithOverlay(path, a.overlay(userID))
	if err != nil {
		a.Audit.LogReadStructure(userID, path, false)
		return nil, err
	}

	level := sensitivity.ClassifyFileOperation(sensitivity.OpReadStructure, resolved)
	if level != sensitivity.BLOCKED && a.autoApprovePath(userID, resolved) {
		level = sensitivity.AUTO
	}
	if _, err := a.gate(ctx, userID, "read directory: "+path, path, level, nil, audit.OpReadStructure, "blocked path"); err != nil {
		if !errors.Is(err, ErrBlocked) {
			a.Audit.LogReadStructure(userID, path, false)
		}
		return nil, err
	}

	structure, err := a.Index.GetStructure(path, depth, includeHidden, pattern)
	a.Audit.LogReadStructure(userID, path, err == nil)
	return structure, err
}

// ReadFile reads resolvedPath's contents, optionally restricted to a
// line range.
func (a *Adapter) ReadFile(ctx context.Context, userID, path string, lineStart, lineEnd int) (*fsops.ReadResult, error) {
	resolved, err := a.Validator.ValidateWithOverlay(path, a.overlay(userID))
	if err != nil {
		a.Audit.LogReadFile(userID, path, false, 0)
		return nil, err
	}

	level := sensitivity.ClassifyFileOperation(sensitivity.OpReadFile, resolved)
	if level != sensitivity.BLOCKED && a.autoApprovePath(userID, resolved) {
		level = sensitivity.AUTO
	}
	if _, err := a.gate(ctx, userID, "read file: "+path, path, level, nil, audit.OpReadFile, "blocked path"); err != nil {
		if !errors.Is(err, ErrBlocked) {
			a.Audit.LogReadFile(userID, path, false, 0)
		}
		return nil, err
	}

	result, err := a.Ops.Read(resolved, path, lineStart, lineEnd)
	if err != nil {
		a.Audit.LogReadFile(userID, path, false, 0)
		return nil, err
	}
	a.Audit.LogReadFile(userID, path, true, result.LinesReturned)
	return result, nil
}

// EditFile applies a set of line-based edits to path.
func (a *Adapter) EditFile(ctx context.Context, userID, path string, edits []fsops.EditOperation, createIfMissing bool) (*fsops.EditResult, error) {
	resolved, err := a.Validator.ValidateForWriteWithOverlay(path, a.overlay(userID))
	if err != nil {
		a.Audit.LogEditFile(userID, path, false, 0)
		return nil, err
	}

	level := sensitivity.ClassifyFileOperation(sensitivity.OpEditFile, resolved)
	if level != sensitivity.BLOCKED && a.autoApprovePath(userID, resolved) {
		level = sensitivity.AUTO
	}
	details := map[string]interface{}{"description": fmt.Sprintf("%d edit operations", len(edits))}
	approvalID, err := a.gate(ctx, userID, "edit file: "+path, path, level, details, audit.OpEditFile, "blocked path")
	if err != nil {
		if !errors.Is(err, ErrBlocked) {
			a.Audit.LogEditFile(userID, path, false, 0)
		}
		return nil, err
	}
	if approvalID != "" {
		if _, err := a.Approvals.ConsumeApproval(approvalID, "edit_file", path); err != nil {
			a.Audit.LogEditFile(userID, path, false, 0)
			return nil, err
		}
	}

	result, err := a.Ops.Edit(resolved, path, edits, createIfMissing)
	if err != nil {
		a.Audit.LogEditFile(userID, path, false, 0)
		return nil, err
	}
	a.Audit.LogEditFile(userID, path, true, result.EditsApplied)
	return result, nil
}

// Execute runs command in cwd (relative to the workspace, "" for the
// workspace root).
func (a *Adapter) Execute(ctx context.Context, userID, command string, timeout time.Duration, cwd string, env map[string]string) (*execrunner.Result, error) {
	resolvedCwd := a.Validator.WorkspaceRoot
	if cwd != "" {
		var err error
		resolvedCwd, err = a.Validator.ValidateWithOverlay(cwd, a.overlay(userID))
		if err != nil {
			a.Audit.LogExecute(userID, command, false, -1, 0)
			return nil, fmt.Errorf("adapter: invalid cwd: %w", err)
		}
	}

	level := sensitivity.ClassifyCommand(command)
	if level != sensitivity.BLOCKED && a.autoApproveCommand(userID, command) {
		level = sensitivity.AUTO
	}
	details := map[string]interface{}{"description": fmt.Sprintf("working directory: %s", displayCwd(cwd))}
	approvalID, err := a.gate(ctx, userID, "execute command: "+command, command, level, details, audit.OpExecute, "blocked command")
	if err != nil {
		if !errors.Is(err, ErrBlocked) {
			a.Audit.LogExecute(userID, command, false, -1, 0)
		}
		return nil, err
	}
	if approvalID != "" {
		if _, err := a.Approvals.ConsumeApproval(approvalID, command, resolvedCwd); err != nil {
			a.Audit.LogExecute(userID, command, false, -1, 0)
			return nil, err
		}
	}

	if timeout <= 0 {
		timeout = a.DefaultExecTimeout
	}
	if timeout > a.MaxExecTimeout {
		timeout = a.MaxExecTimeout
	}
	if a.UserSettings != nil {
		if userMax := a.UserSettings.Get(userID).MaxTimeoutSeconds; userMax > 0 {
			if userCeiling := time.Duration(userMax) * time.Second; timeout > userCeiling {
				timeout = userCeiling
			}
		}
	}

	result, err := a.Runner.Run(ctx, command, timeout, resolvedCwd, env)
	if err != nil {
		a.Audit.LogExecute(userID, command, false, -1, 0)
		return nil, err
	}
	a.Audit.LogExecute(userID, command, result.Success, result.ExitCode, result.DurationMs)
	return result, nil
}

func displayCwd(cwd string) string {
	if cwd == "" {
		return "workspace root"
	}
	return cwd
}
