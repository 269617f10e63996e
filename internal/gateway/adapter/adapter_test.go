package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxgate/system-gateway/internal/gateway/approval"
	"github.com/sandboxgate/system-gateway/internal/gateway/audit"
	"github.com/sandboxgate/system-gateway/internal/gateway/execrunner"
	"github.com/sandboxgate/system-gateway/internal/gateway/fsops"
	"github.com/sandboxgate/system-gateway/internal/gateway/pathvalidate"
	"github.com/sandboxgate/system-gateway/internal/gateway/treeindex"
	"github.com/sandboxgate/system-gateway/internal/gateway/usersettings"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("one\ntwo\nthree\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1\n"), 0o644))

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

	return &Adapter{
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
}

func TestReadStructure_AutoApprovedForOrdinaryPath(t *testing.T) {
	a := newTestAdapter(t)
	structure, err := a.ReadStructure(context.Background(), "alice", "src", 3, false, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(structure.Tree), 1)
}

func TestReadFile_BlockedForDotEnv(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.ReadFile(context.Background(), "alice", ".env", 0, 0)
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestReadFile_AutoApprovedForOrdinaryFile(t *testing.T) {
	a := newTestAdapter(t)
	result, err := a.ReadFile(context.Background(), "alice", "src/main.go", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", result.Content)
}

func TestEditFile_WaitsForApprovalThenApplies(t *testing.T) {
	a := newTestAdapter(t)

	go func() {
		for i := 0; i < 20; i++ {
			time.Sleep(10 * time.Millisecond)
			pending := a.Approvals.GetPendingForUser("alice")
			if len(pending) > 0 {
				_, _ = a.Approvals.Approve(pending[0].ID, "reviewer")
				return
			}
		}
	}()

	result, err := a.EditFile(context.Background(), "alice", "src/main.go", []fsops.EditOperation{
		{Action: fsops.ActionReplace, LineStart: 2, Content: "TWO\n"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EditsApplied)
}

func TestEditFile_CancelledOnRejection(t *testing.T) {
	a := newTestAdapter(t)

	go func() {
		for i := 0; i < 20; i++ {
			time.Sleep(10 * time.Millisecond)
			pending := a.Approvals.GetPendingForUser("alice")
			if len(pending) > 0 {
				_, _ = a.Approvals.Reject(pending[0].ID, "reviewer", "not now")
				return
			}
		}
	}()

	_, err := a.EditFile(context.Background(), "alice", "src/main.go", []fsops.EditOperation{
		{Action: fsops.ActionReplace, LineStart: 2, Content: "TWO\n"},
	}, false)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestExecute_AutoApprovedForLowSensitivityCommand(t *testing.T) {
	a := newTestAdapter(t)
	result, err := a.Execute(context.Background(), "alice", "echo hi", 0, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", result.Stdout)
}

func TestExecute_BlockedForDangerousCommand(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.Execute(context.Background(), "alice", "sudo rm -rf /", 0, "", nil)
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestExecute_TimesOutWithoutDecision(t *testing.T) {
	a := newTestAdapter(t)
	a.HITLTimeout = 30 * time.Millisecond

	_, err := a.Execute(context.Background(), "alice", "npm install left-pad", 0, "", nil)
	assert.ErrorIs(t, err, ErrCancelled)
}
