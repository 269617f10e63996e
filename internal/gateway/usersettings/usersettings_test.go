package usersettings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_UnknownUserReturnsDefaults(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	settings := store.Get("alice")
	assert.Equal(t, 300, settings.MaxTimeoutSeconds)
	assert.Empty(t, settings.AutoApproveCmds)
}

func TestSet_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := New(path)
	require.NoError(t, err)

	err = store.Set("alice", Settings{
		WorkspacePaths:    []string{"/workspace/alice"},
		AutoApproveCmds:   []string{"ls", "cat"},
		BlockedPaths:      []string{"secrets/*"},
		MaxTimeoutSeconds: 60,
	})
	require.NoError(t, err)

	reloaded, err := New(path)
	require.NoError(t, err)
	got := reloaded.Get("alice")
	assert.Equal(t, []string{"ls", "cat"}, got.AutoApproveCmds)
	assert.Equal(t, 60, got.MaxTimeoutSeconds)
}

func TestGetOverlayPatterns_ReturnsBlockedPaths(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	require.NoError(t, store.Set("alice", Settings{BlockedPaths: []string{"*.pem"}}))

	assert.Equal(t, []string{"*.pem"}, store.GetOverlayPatterns("alice"))
	assert.Empty(t, store.GetOverlayPatterns("bob"))
}

func TestIsInAutoApproveDir_MatchesPrefix(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	require.NoError(t, store.Set("alice", Settings{AutoApproveDirs: []string{"/workspace/scratch"}}))

	assert.True(t, store.IsInAutoApproveDir("alice", "/workspace/scratch/tmp.txt"))
	assert.False(t, store.IsInAutoApproveDir("alice", "/workspace/src/main.go"))
}

func TestEffectiveAutoApproveCommands_DeduplicatesAndMerges(t *testing.T) {
	global := []string{"ls", "cat"}
	user := Settings{AutoApproveCmds: []string{"cat", "git status"}}

	got := EffectiveAutoApproveCommands(global, user)
	assert.Equal(t, []string{"ls", "cat", "git status"}, got)
}
