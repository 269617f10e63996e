package execrunner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SuccessCapturesStdout(t *testing.T) {
	r := New(t.TempDir(), 5*time.Second, 1000)
	result, err := r.Run(context.Background(), "echo hello", 0, r.WorkspaceRoot, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestRun_NonZeroExitCode(t *testing.T) {
	r := New(t.TempDir(), 5*time.Second, 1000)
	result, err := r.Run(context.Background(), "exit 7", 0, r.WorkspaceRoot, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 7, result.ExitCode)
}

func TestRun_TimeoutReturnsSentinelExitCode(t *testing.T) {
	r := New(t.TempDir(), 50*time.Millisecond, 1000)
	result, err := r.Run(context.Background(), "sleep 5", 0, r.WorkspaceRoot, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Stderr, "timed out")
}

func TestRun_TimeoutClampedToMax(t *testing.T) {
	r := New(t.TempDir(), 50*time.Millisecond, 1000)
	// Caller asks for 10s, but the runner must clamp to its 50ms max.
	result, err := r.Run(context.Background(), "sleep 5", 10*time.Second, r.WorkspaceRoot, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, result.ExitCode)
}

func TestRun_EnvOverlayAppliesHomeAndOverrides(t *testing.T) {
	r := New(t.TempDir(), 5*time.Second, 1000)
	result, err := r.Run(context.Background(), "echo $HOME:$CUSTOM_VAR", 0, r.WorkspaceRoot, map[string]string{"CUSTOM_VAR": "xyz"})
	require.NoError(t, err)
	assert.Equal(t, r.WorkspaceRoot+":xyz\n", result.Stdout)
}

func TestRun_TruncatesLongOutput(t *testing.T) {
	r := New(t.TempDir(), 5*time.Second, 1)
	result, err := r.Run(context.Background(), "yes x | head -c 500", 0, r.WorkspaceRoot, nil)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.True(t, strings.HasSuffix(result.Stdout, "... (output truncated)"))
	assert.LessOrEqual(t, len(result.Stdout), 100+len("\n... (output truncated)"))
}

func TestRun_DurationIsRecorded(t *testing.T) {
	r := New(t.TempDir(), 5*time.Second, 1000)
	result, err := r.Run(context.Background(), "echo fast", 0, r.WorkspaceRoot, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))
}
