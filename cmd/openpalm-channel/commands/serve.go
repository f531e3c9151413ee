package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itlackey/openpalm/pkg/openpalm/channels"
	"github.com/itlackey/openpalm/pkg/openpalm/channels/a2a"
	"github.com/itlackey/openpalm/pkg/openpalm/channels/api"
	"github.com/itlackey/openpalm/pkg/openpalm/channels/chat"
	"github.com/itlackey/openpalm/pkg/openpalm/channels/discord"
	"github.com/itlackey/openpalm/pkg/openpalm/channels/telegram"
	"github.com/itlackey/openpalm/pkg/openpalm/config"
	"github.com/itlackey/openpalm/pkg/openpalm/paths"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start one channel adapter",
		RunE:  runServe,
	}
	cmd.Flags().String("channel", "", "channel to run: api, a2a, chat, discord, telegram")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("ensuring state directories: %w", err)
	}
	if err := config.LoadSecretsEnv(paths.SecretsFile()); err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}

	name, _ := cmd.Flags().GetString("channel")
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(verbose).With("channel", name)

	cfg, err := config.LoadChannelConfig(name, defaultAddr(name))
	if err != nil {
		return err
	}

	switch name {
	case "api":
		return serveHTTPAdapter(cfg, logger, api.New())
	case "a2a":
		return serveHTTPAdapter(cfg, logger, a2a.New(a2a.AgentCard{
			Name:    "openpalm",
			URL:     "http://localhost" + cfg.ListenAddr,
			Version: "1.0",
		}))
	case "chat":
		return serveHTTPAdapter(cfg, logger, chat.New())
	case "discord":
		return serveDiscord(cfg, logger)
	case "telegram":
		return serveTelegram(cfg, logger)
	default:
		return fmt.Errorf("unknown channel %q", name)
	}
}

func defaultAddr(name string) string {
	switch name {
	case "api":
		return ":8093"
	case "a2a":
		return ":8094"
	case "chat":
		return ":8095"
	default:
		return ":8096"
	}
}

func serveHTTPAdapter(cfg config.ChannelConfig, logger *slog.Logger, handler channels.Handler) error {
	base := channels.New(channels.Config{
		Name:           cfg.Name,
		SharedSecret:   cfg.SharedSecret,
		GuardianURL:    cfg.GuardianURL,
		AuthToken:      cfg.AuthToken,
		ForwardTimeout: cfg.ForwardTimeout,
	}, handler, logger)

	mux := base.Mux()
	if card, ok := handler.(interface {
		ServeAgentCard(http.ResponseWriter, *http.Request)
	}); ok {
		mux.HandleFunc("/.well-known/agent.json", card.ServeAgentCard)
	}
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return runAndWaitForShutdown(srv, logger)
}

func serveDiscord(cfg config.ChannelConfig, logger *slog.Logger) error {
	a := discord.New(discord.Config{
		Token:           os.Getenv("DISCORD_BOT_TOKEN"),
		AllowedGuilds:   splitCSV(os.Getenv("DISCORD_ALLOWED_GUILDS")),
		AllowedChannels: splitCSV(os.Getenv("DISCORD_ALLOWED_CHANNELS")),
		SendTyping:      true,
		SharedSecret:    cfg.SharedSecret,
		GuardianURL:     cfg.GuardianURL,
		ForwardTimeout:  cfg.ForwardTimeout,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to discord: %w", err)
	}
	defer a.Disconnect()

	return serveHealthAndWait(cfg, logger, "discord")
}

func serveTelegram(cfg config.ChannelConfig, logger *slog.Logger) error {
	a := telegram.New(telegram.Config{
		Token:          os.Getenv("TELEGRAM_BOT_TOKEN"),
		AllowedChats:   splitCSVInt64(os.Getenv("TELEGRAM_ALLOWED_CHATS")),
		SendTyping:     true,
		SharedSecret:   cfg.SharedSecret,
		GuardianURL:    cfg.GuardianURL,
		ForwardTimeout: cfg.ForwardTimeout,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}
	defer a.Disconnect()

	return serveHealthAndWait(cfg, logger, "telegram")
}

// serveHealthAndWait runs a minimal /health server for the gateway-style
// adapters (Discord, Telegram), which have no synchronous request/response
// surface of their own, then blocks until shutdown.
func serveHealthAndWait(cfg config.ChannelConfig, logger *slog.Logger, name string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"service":%q,"time":%q}`, name, time.Now().UTC().Format(time.RFC3339))
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return runAndWaitForShutdown(srv, logger)
}

func runAndWaitForShutdown(srv *http.Server, logger *slog.Logger) error {
	go func() {
		logger.Info("channel adapter listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("channel adapter server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCSVInt64(v string) []int64 {
	parts := splitCSV(v)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}
