package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/sandboxgate/system-gateway/internal/gateway/adapter"
	"github.com/sandboxgate/system-gateway/internal/gateway/approval"
	"github.com/sandboxgate/system-gateway/internal/gateway/fsops"
	"github.com/sandboxgate/system-gateway/internal/gateway/pathvalidate"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	root := s.adapter.Validator.WorkspaceRoot
	_, err := os.Stat(root)
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"workspace_root":   root,
		"workspace_exists": err == nil,
	})
}

type structureRequest struct {
	Path          string `json:"path"`
	Depth         int    `json:"depth"`
	IncludeHidden bool   `json:"include_hidden"`
	Pattern       string `json:"pattern"`
}

func (s *Server) handleStructure(w http.ResponseWriter, r *http.Request) {
	var req structureRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Depth <= 0 {
		req.Depth = 2
	}

	userID := userIDFromRequest(r)
	result, err := s.adapter.ReadStructure(r.Context(), userID, req.Path, req.Depth, req.IncludeHidden, req.Pattern)
	if s.handleOperationError(w, "read_structure", err) {
		return
	}
	s.metrics.OperationsTotal.WithLabelValues("read_structure", "success").Inc()
	s.reportIndexSize()
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"structure": result,
		"rendered":  adapter.FormatStructureResult(result),
	})
}

type readRequest struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	userID := userIDFromRequest(r)
	result, err := s.adapter.ReadFile(r.Context(), userID, req.Path, req.LineStart, req.LineEnd)
	if s.handleOperationError(w, "read_file", err) {
		return
	}
	s.metrics.OperationsTotal.WithLabelValues("read_file", "success").Inc()
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"result":   result,
		"rendered": adapter.FormatReadResult(result),
	})
}

type editOperationRequest struct {
	Action    string `json:"action"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Content   string `json:"content"`
}

type editRequest struct {
	Path            string                 `json:"path"`
	Edits           []editOperationRequest `json:"edits"`
	CreateIfMissing bool                   `json:"create_if_missing"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Edits) == 0 {
		s.sendError(w, http.StatusBadRequest, "at least one edit is required")
		return
	}

	edits := make([]fsops.EditOperation, 0, len(req.Edits))
	for _, e := range req.Edits {
		edits = append(edits, fsops.EditOperation{
			Action:    fsops.EditAction(e.Action),
			LineStart: e.LineStart,
			LineEnd:   e.LineEnd,
			Content:   e.Content,
		})
	}

	userID := userIDFromRequest(r)
	result, err := s.adapter.EditFile(r.Context(), userID, req.Path, edits, req.CreateIfMissing)
	if s.handleOperationError(w, "edit_file", err) {
		return
	}
	s.metrics.OperationsTotal.WithLabelValues("edit_file", "success").Inc()
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"result":   result,
		"rendered": adapter.FormatEditResult(result),
	})
}

type executeRequest struct {
	Command        string            `json:"command"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Cwd            string            `json:"cwd"`
	Env            map[string]string `json:"env"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Command == "" {
		s.sendError(w, http.StatusBadRequest, "command is required")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	userID := userIDFromRequest(r)
	result, err := s.adapter.Execute(r.Context(), userID, req.Command, timeout, req.Cwd, req.Env)
	if s.handleOperationError(w, "execute", err) {
		return
	}
	s.metrics.OperationsTotal.WithLabelValues("execute", "success").Inc()
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"result":   result,
		"rendered": adapter.FormatExecuteResult(req.Command, result),
	})
}

func (s *Server) handleIndexRefresh(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.sendError(w, http.StatusServiceUnavailable, "tree index is not available")
		return
	}
	if err := s.index.FullReindex(); err != nil {
		s.sendError(w, http.StatusInternalServerError, "reindex failed: "+err.Error())
		return
	}
	s.reportIndexSize()
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "index refreshed"})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = userIDFromRequest(r)
	}
	pending := s.approvals.GetPendingForUser(userID)
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"approvals": pending,
		"count":     len(pending),
	})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, ok := s.approvals.GetStatus(id)
	if !ok {
		s.sendError(w, http.StatusNotFound, "approval request not found")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "request": req})
}

type decideApprovalRequest struct {
	Action string `json:"action"` // "approve" or "reject"
	By     string `json:"by"`
	Reason string `json:"reason"`
}

func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req decideApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.By == "" {
		req.By = userIDFromRequest(r)
	}

	var (
		result  *approval.Request
		err     error
		message string
	)
	switch req.Action {
	case "approve":
		result, err = s.approvals.Approve(id, req.By)
		message = "approval granted"
	case "reject":
		result, err = s.approvals.Reject(id, req.By, req.Reason)
		message = "approval rejected"
	default:
		s.sendError(w, http.StatusBadRequest, "action must be 'approve' or 'reject'")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	s.metrics.ApprovalsTotal.WithLabelValues(string(result.Status)).Inc()

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"approval_id": result.ID,
		"status":      result.Status,
		"message":     message,
	})
}

// handleOperationError maps an adapter error to an HTTP status and writes
// the response, returning true if it did so (the caller should return
// immediately in that case).
func (s *Server) handleOperationError(w http.ResponseWriter, operation string, err error) bool {
	if err == nil {
		return false
	}

	status := http.StatusInternalServerError
	var verr *pathvalidate.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, adapter.ErrBlocked):
		status = http.StatusForbidden
	case errors.Is(err, adapter.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, fsops.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fsops.ErrIsDirectory):
		status = http.StatusBadRequest
	}

	s.metrics.OperationsTotal.WithLabelValues(operation, "failure").Inc()
	s.sendError(w, status, err.Error())
	return true
}
