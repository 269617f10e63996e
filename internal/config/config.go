// Package config loads System Gateway configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the gateway's runtime configuration.
type Config struct {
	GatewayPort int
	LogLevel    string

	WorkspaceRoot string

	BlockedPatterns []string

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	MaxFileSizeBytes int64
	MaxOutputLines   int

	IndexDBPath     string
	IndexDebounceMs int

	HITLTimeout time.Duration

	AuditLogPath    string
	ApprovalDataDir string
}

const (
	defaultBlockedPatterns = "*.env,*.key,*.pem,id_rsa,.git/config,**/secrets/**"
)

// Load reads configuration from a .env file (if present) and the process
// environment, falling back to sane defaults for anything missing or
// malformed.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with process environment")
	}

	cfg := &Config{
		GatewayPort:      9500,
		LogLevel:         "info",
		WorkspaceRoot:    "/workspace",
		BlockedPatterns:  splitPatterns(defaultBlockedPatterns),
		DefaultTimeout:   30 * time.Second,
		MaxTimeout:       300 * time.Second,
		MaxFileSizeBytes: 10 * 1024 * 1024,
		MaxOutputLines:   10000,
		IndexDBPath:      "/tmp/gateway/tree_index.db",
		IndexDebounceMs:  500,
		HITLTimeout:      120 * time.Second,
		AuditLogPath:     "/tmp/gateway/audit/gateway_audit.jsonl",
		ApprovalDataDir:  "/tmp/gateway/approvals",
	}

	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn().Str("value", v).Err(err).Msg("invalid GATEWAY_PORT, using default")
		} else {
			cfg.GatewayPort = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}

	if v := os.Getenv("BLOCKED_PATTERNS"); v != "" {
		cfg.BlockedPatterns = splitPatterns(v)
	}

	if v := os.Getenv("DEFAULT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn().Str("value", v).Err(err).Msg("invalid DEFAULT_TIMEOUT, using default")
		} else {
			cfg.DefaultTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("MAX_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn().Str("value", v).Err(err).Msg("invalid MAX_TIMEOUT, using default")
		} else {
			cfg.MaxTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err != nil {
			log.Warn().Str("value", v).Err(err).Msg("invalid MAX_FILE_SIZE, using default")
		} else {
			cfg.MaxFileSizeBytes = n
		}
	}

	if v := os.Getenv("MAX_OUTPUT_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn().Str("value", v).Err(err).Msg("invalid MAX_OUTPUT_LINES, using default")
		} else {
			cfg.MaxOutputLines = n
		}
	}

	if v := os.Getenv("INDEX_DB_PATH"); v != "" {
		cfg.IndexDBPath = v
	}

	if v := os.Getenv("INDEX_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn().Str("value", v).Err(err).Msg("invalid INDEX_DEBOUNCE_MS, using default")
		} else {
			cfg.IndexDebounceMs = n
		}
	}

	if v := os.Getenv("HITL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			log.Warn().Str("value", v).Err(err).Msg("invalid HITL_TIMEOUT, using default")
		} else {
			cfg.HITLTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("AUDIT_LOG_PATH"); v != "" {
		cfg.AuditLogPath = v
	}

	if v := os.Getenv("APPROVAL_DATA_DIR"); v != "" {
		cfg.ApprovalDataDir = v
	}

	return cfg
}

func splitPatterns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WorkspacePath returns the configured workspace root as a cleaned
// absolute-ish path (symlink resolution happens in pathvalidate).
func (c *Config) WorkspacePath() string {
	return filepath.Clean(c.WorkspaceRoot)
}
