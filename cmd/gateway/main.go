// Command gateway runs the sandboxed execution gateway: a workspace-confined
// filesystem and command-execution service fronted by a human-in-the-loop
// approval queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sandboxgate/system-gateway/internal/api"
	"github.com/sandboxgate/system-gateway/internal/config"
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

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "gateway",
	Short:   "System Gateway - sandboxed, HITL-approved filesystem and command execution",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gateway %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		log.Warn().Str("level", levelStr).Msg("unknown log level, defaulting to info")
		return zerolog.InfoLevel
	}
}

func runGateway() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	log.Info().
		Str("workspace", cfg.WorkspacePath()).
		Int("port", cfg.GatewayPort).
		Str("version", Version).
		Msg("starting system gateway")

	validator, err := pathvalidate.New(cfg.WorkspaceRoot, cfg.BlockedPatterns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize path validator")
	}

	index, err := treeindex.New(validator.WorkspaceRoot, cfg.IndexDBPath, cfg.IndexDebounceMs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tree index")
	}

	indexCtx, indexCancel := context.WithCancel(context.Background())
	if err := index.Start(indexCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start tree index")
	}

	ops := fsops.New(cfg.MaxFileSizeBytes, cfg.MaxOutputLines)
	runner := execrunner.New(validator.WorkspaceRoot, cfg.MaxTimeout, cfg.MaxOutputLines)

	approvals, err := approval.NewStore(approval.Config{
		DataDir:    cfg.ApprovalDataDir,
		DefaultTTL: cfg.HITLTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize approval store")
	}
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	approvals.StartCleanup(cleanupCtx)

	auditLogger, err := audit.New(cfg.AuditLogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audit log")
	}

	userSettingsPath := cfg.ApprovalDataDir + "/user_settings.json"
	userSettings, err := usersettings.New(userSettingsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize user settings store")
	}

	gatewayAdapter := &adapter.Adapter{
		Validator:          validator,
		Index:              index,
		Ops:                ops,
		Runner:             runner,
		Approvals:          approvals,
		Audit:              auditLogger,
		UserSettings:       userSettings,
		DefaultExecTimeout: cfg.DefaultTimeout,
		MaxExecTimeout:     cfg.MaxTimeout,
		HITLTimeout:        cfg.HITLTimeout,
		HITLPollInterval:   500 * time.Millisecond,
	}

	approvalInterceptor := interceptor.New(approvals)

	server := api.New(api.Config{
		Adapter:     gatewayAdapter,
		Approvals:   approvals,
		Index:       index,
		Interceptor: approvalInterceptor,
		ListenAddr:  fmt.Sprintf(":%d", cfg.GatewayPort),
	})
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down system gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		cleanupCancel()
		approvals.Flush()
		return nil
	})
	g.Go(func() error {
		indexCancel()
		if err := index.Stop(); err != nil {
			return fmt.Errorf("tree index stop: %w", err)
		}
		if err := index.Close(); err != nil {
			return fmt.Errorf("tree index close: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}

	log.Info().Msg("system gateway stopped")
}
