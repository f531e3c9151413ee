package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itlackey/openpalm/pkg/openpalm/config"
	"github.com/itlackey/openpalm/pkg/openpalm/control/admin"
	"github.com/itlackey/openpalm/pkg/openpalm/control/audit"
	"github.com/itlackey/openpalm/pkg/openpalm/control/automation"
	"github.com/itlackey/openpalm/pkg/openpalm/control/channelmgr"
	"github.com/itlackey/openpalm/pkg/openpalm/control/runtime"
	"github.com/itlackey/openpalm/pkg/openpalm/control/snapshot"
	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
	"github.com/itlackey/openpalm/pkg/openpalm/paths"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the admin REST API",
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
	if _, err := os.Stat(paths.StackSpecFile()); os.IsNotExist(err) {
		if err := writeDefaultSpec(); err != nil {
			return fmt.Errorf("writing default stack spec: %w", err)
		}
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(verbose)

	cfg := config.LoadAdminConfig()

	auditLog, err := audit.Open(paths.AuditLogPath())
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	if err := snapshot.CleanupStalePending(paths.StateHome()); err != nil {
		logger.Warn("stale pending cleanup failed", "error", err)
	}
	if recovered, err := channelmgr.CleanupStaleConfigBackups(paths.ChannelsDir(), paths.ConfigBackupsDir()); err != nil {
		logger.Warn("config backup recovery failed", "error", err)
	} else if len(recovered) > 0 {
		for _, ch := range recovered {
			auditLog.Record(map[string]any{"action": "startup.stale_backup", "channel": ch, "ok": true})
		}
		logger.Info("recovered stale config backups", "channels", recovered)
	}

	specStore := fileSpecStore{path: paths.StackSpecFile()}
	runner := runtime.New(filepath.Join(paths.ArtifactsDir(), "docker-compose.yml"), paths.ArtifactsDir())
	stager := artifactStager{}
	manager := channelmgr.New(
		paths.ChannelsDir(),
		paths.ConfigBackupsDir(),
		specStore,
		stager,
		runner,
		dirTemplateSource{dir: paths.ChannelsDir()},
	)
	if master := os.Getenv("OPENPALM_MASTER_SECRET"); master != "" {
		manager.SetMasterSecret(master)
	}

	tokens := newTokenStore()

	dispatcher := automation.HTTPDispatcher{
		Client:       &http.Client{Timeout: 30 * time.Second},
		AdminBaseURL: "http://localhost" + cfg.ListenAddr,
		// Read per fire, not captured at startup: first-boot setup sets
		// the token after this dispatcher is built.
		AdminToken: tokens.Token,
	}
	scheduler := automation.New(dispatcher, logger)
	if history, err := openHistory(); err != nil {
		logger.Warn("opening automation history failed", "error", err)
	} else {
		defer history.Close()
		scheduler.SetHistory(history)
	}
	if err := scheduler.LoadDir(paths.AutomationsDir()); err != nil {
		logger.Warn("loading automations failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := admin.New(admin.Config{
		Tokens:         tokens,
		Channels:       manager,
		Automations:    scheduler,
		Spec:           specStore,
		Artifacts:      fileArtifactsReader{},
		Audit:          auditLog,
		Logger:         logger,
		Stager:         stager,
		Runtime:        runner,
		SecretsFile:    paths.SecretsFile(),
		AutomationsDir: paths.AutomationsDir(),
		ReloadAutomations: func() error {
			return scheduler.Reload(ctx, paths.AutomationsDir())
		},
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Mux()}

	go func() {
		logger.Info("admin api listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func writeDefaultSpec() error {
	return spec.Save(paths.StackSpecFile(), spec.Default())
}

// openHistory selects the execution-history backend: Postgres when
// POSTGRES_PASSWORD is configured, a local SQLite file otherwise.
func openHistory() (automation.HistoryStore, error) {
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		return automation.OpenPostgresHistory(automation.PostgresConfig{
			Host:     os.Getenv("POSTGRES_HOST"),
			Database: os.Getenv("POSTGRES_DB"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: password,
		})
	}
	return automation.OpenSQLiteHistory(filepath.Join(paths.StateHome(), "automations.db"))
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
