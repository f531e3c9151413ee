package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itlackey/openpalm/pkg/openpalm/assistant"
	"github.com/itlackey/openpalm/pkg/openpalm/config"
	"github.com/itlackey/openpalm/pkg/openpalm/control/audit"
	"github.com/itlackey/openpalm/pkg/openpalm/guardian"
	"github.com/itlackey/openpalm/pkg/openpalm/paths"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the guardian HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("ensuring state directories: %w", err)
	}
	if err := config.LoadSecretsEnv(paths.SecretsFile()); err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(verbose)

	cfg := config.LoadGuardianConfig()
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = paths.AuditLogPath()
	}

	auditLog, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	g := guardian.New(guardian.Config{
		Secrets: envSecretStore{},
		Assistant: assistant.New(assistant.Config{
			BaseURL:        cfg.AssistantBaseURL,
			BasicAuthUser:  cfg.AssistantAuthUser,
			BasicAuthPass:  cfg.AssistantAuthPass,
			CreateTimeout:  cfg.CreateTimeout,
			MessageTimeout: cfg.MessageTimeout,
		}),
		Auditor: auditLog,
		Logger:  logger,
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: g.Mux()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("guardian listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("guardian server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// envSecretStore resolves a channel's shared secret from
// CHANNEL_<NAME>_SECRET, the convention every channel adapter's own
// startup config resolves against.
type envSecretStore struct{}

func (envSecretStore) Lookup(channel string) (string, bool) {
	v := os.Getenv("CHANNEL_" + strings.ToUpper(channel) + "_SECRET")
	if v == "" {
		return "", false
	}
	return v, true
}
