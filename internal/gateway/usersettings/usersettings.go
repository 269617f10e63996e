// Package usersettings stores per-user gateway overrides: extra
// workspace paths, auto-approve commands/directories, additional blocked
// paths, and a per-user timeout ceiling. These are overlays on top of
// the global config — they may only add restrictions or widen what a
// single user can auto-approve, never loosen the global blocklist.
package usersettings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Settings is one user's gateway overrides.
type Settings struct {
	WorkspacePaths     []string `json:"workspace_paths"`
	DefaultWorkspace   string   `json:"default_workspace,omitempty"`
	AutoApproveCmds    []string `json:"auto_approve_commands"`
	AutoApproveDirs    []string `json:"auto_approve_dirs"`
	BlockedPaths       []string `json:"blocked_paths"`
	NetworkEnabled     bool     `json:"network_enabled"`
	MaxTimeoutSeconds  int      `json:"max_timeout"`
}

func defaultSettings() Settings {
	return Settings{MaxTimeoutSeconds: 300}
}

// Store persists per-user Settings in a single JSON file, keyed by user
// ID (a lighter-weight stand-in for the original's per-user encrypted
// credential storage, since this gateway has no credential store of its
// own).
type Store struct {
	mu       sync.RWMutex
	byUser   map[string]Settings
	filePath string
}

// New loads (or initializes) the settings store at filePath.
func New(filePath string) (*Store, error) {
	s := &Store{byUser: make(map[string]Settings), filePath: filePath}
	if err := s.load(); err != nil {
		log.Warn().Err(err).Msg("failed to load user gateway settings, starting fresh")
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.byUser)
}

func (s *Store) save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.byUser, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0o600)
}

// Get returns userID's stored settings, or the defaults if none are
// stored. Stored settings are returned as saved, not merged with the
// defaults.
func (s *Store) Get(userID string) Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.byUser[userID]; ok {
		return v
	}
	return defaultSettings()
}

// Set stores userID's settings and persists immediately.
func (s *Store) Set(userID string, settings Settings) error {
	s.mu.Lock()
	s.byUser[userID] = settings
	s.mu.Unlock()

	if err := s.save(); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to save user gateway settings")
		return err
	}
	log.Info().Str("user_id", userID).Msg("saved user gateway settings")
	return nil
}

// GetOverlayPatterns returns userID's additional blocked-path patterns,
// consumed by pathvalidate.Validator.ValidateWithOverlay.
func (s *Store) GetOverlayPatterns(userID string) []string {
	return s.Get(userID).BlockedPaths
}

// IsInAutoApproveDir reports whether path falls within one of userID's
// configured auto-approve directories.
func (s *Store) IsInAutoApproveDir(userID, path string) bool {
	settings := s.Get(userID)
	for _, dir := range settings.AutoApproveDirs {
		if path == dir || strings.HasPrefix(path, strings.TrimSuffix(dir, "/")+"/") {
			return true
		}
	}
	return false
}

// EffectiveAutoApproveCommands merges the user's auto-approve command
// list with the global set, deduplicated.
func EffectiveAutoApproveCommands(globalPatterns []string, userSettings Settings) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(append([]string(nil), globalPatterns...), userSettings.AutoApproveCmds...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
