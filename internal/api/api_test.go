package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxgate/system-gateway/internal/gateway/adapter"
	"github.com/sandboxgate/system-gateway/internal/gateway/approval"
	"github.com/sandboxgate/system-gateway/internal/gateway/audit"
	"github.com/sandboxgate/system-gateway/internal/gateway/execrunner"
	"github.com/sandboxgate/system-gateway/internal/gateway/fsops"
	"github.com/sandboxgate/system-gateway/internal/gateway/interceptor"
	"github.com/sandboxgate/system-gateway/internal/gateway/pathvalidate"
	"github.com/sandboxgate/system-gateway/internal/gateway/treeindex"
	"github.com/sandboxgate/system-gateway/internal/gateway/usersettings"
)

func newTestServer(t *testing.T) (*Server, *approval.Store) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("one\ntwo\n"), 0o644))

	validator, err := pathvalidate.New(root, nil)
	require.NoError(t, err)

	index, err := treeindex.New(root, filepath.Join(t.TempDir(), "index.db"), 500)
	require.NoError(t, err)
	require.NoError(t, index.FullReindex())
	t.Cleanup(func() { index.Close() })

	approvals, err := approval.NewStore(approval.Config{DataDir: t.TempDir(), DefaultTTL: 2 * time.Second})
	require.NoError(t, err)

	auditLogger, err := audit.New(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)

	userSettings, err := usersettings.New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	gatewayAdapter := &adapter.Adapter{
		Validator:          validator,
		Index:              index,
		Ops:                fsops.New(10*1024*1024, 1000),
		Runner:             execrunner.New(root, 5*time.Second, 1000),
		Approvals:          approvals,
		Audit:              auditLogger,
		UserSettings:       userSettings,
		DefaultExecTimeout: 5 * time.Second,
		MaxExecTimeout:     5 * time.Second,
		HITLTimeout:        2 * time.Second,
		HITLPollInterval:   10 * time.Millisecond,
	}

	srv := New(Config{
		Adapter:     gatewayAdapter,
		Approvals:   approvals,
		Index:       index,
		Interceptor: interceptor.New(approvals),
		Registerer:  prometheus.NewRegistry(),
	})
	return srv, approvals
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, path string, body interface{}, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleHealth, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["workspace_exists"])
	assert.NotEmpty(t, body["workspace_root"])
}

func TestHandleStructure_ReturnsTree(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleStructure, http.MethodPost, "/structure", structureRequest{Path: "src", Depth: 3}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestHandleRead_ReturnsFileContent(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleRead, http.MethodPost, "/read", readRequest{Path: "src/main.go"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRead_InvalidBodyReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/read", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.handleRead(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecute_RequiresCommand(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleExecute, http.MethodPost, "/execute", executeRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecute_BlockedCommandReturnsForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleExecute, http.MethodPost, "/execute", executeRequest{Command: "sudo rm -rf /"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleExecute_AutoApprovedCommandSucceeds(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleExecute, http.MethodPost, "/execute", executeRequest{Command: "echo hi"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleEdit_RequiresAtLeastOneEdit(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleEdit, http.MethodPost, "/edit", editRequest{Path: "src/main.go"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIndexRefresh_Succeeds(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleIndexRefresh, http.MethodPost, "/index/refresh", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetApproval_NotFoundForUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.handleGetApproval, http.MethodGet, "/approvals/bogus", nil, map[string]string{"id": "bogus"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDecideApproval_ApprovesPendingRequest(t *testing.T) {
	srv, approvals := newTestServer(t)
	req, err := approvals.QueueApproval("alice", "edit file: src/main.go", nil, "prompt", 0)
	require.NoError(t, err)

	rec := doJSON(t, srv.handleDecideApproval, http.MethodPatch, "/approvals/"+req.ID,
		decideApprovalRequest{Action: "approve", By: "bob"}, map[string]string{"id": req.ID})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, req.ID, body["approval_id"])
	assert.Equal(t, string(approval.StatusApproved), body["status"])

	got, ok := approvals.GetStatus(req.ID)
	require.True(t, ok)
	assert.Equal(t, approval.StatusApproved, got.Status)
}

func TestHandleDecideApproval_RejectsInvalidDecision(t *testing.T) {
	srv, approvals := newTestServer(t)
	req, err := approvals.QueueApproval("alice", "op", nil, "prompt", 0)
	require.NoError(t, err)

	rec := doJSON(t, srv.handleDecideApproval, http.MethodPatch, "/approvals/"+req.ID,
		decideApprovalRequest{Action: "sideways"}, map[string]string{"id": req.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListApprovals_ReturnsPendingForUser(t *testing.T) {
	srv, approvals := newTestServer(t)
	_, err := approvals.QueueApproval("alice", "op", nil, "prompt", 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/approvals?user_id=alice", nil)
	rec := httptest.NewRecorder()
	srv.handleListApprovals(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	approvals_, ok := body["approvals"].([]interface{})
	require.True(t, ok)
	assert.Len(t, approvals_, 1)
}
