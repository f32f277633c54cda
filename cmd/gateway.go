package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/personate/internal/config"
	"github.com/nextlevelbuilder/personate/internal/discord"
	"github.com/nextlevelbuilder/personate/internal/janitor"
	"github.com/nextlevelbuilder/personate/internal/store"
	"github.com/nextlevelbuilder/personate/internal/store/lite"
	"github.com/nextlevelbuilder/personate/internal/store/pg"
	"github.com/nextlevelbuilder/personate/internal/tracing"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the proxy bot (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.Discord.Token == "" {
		slog.Error("PERSONATE_DISCORD_TOKEN environment variable is not set")
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("init tracing", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}

	bot, err := discord.New(cfg, st)
	if err != nil {
		slog.Error("create bot", "error", err)
		os.Exit(1)
	}
	if err := bot.Start(ctx); err != nil {
		slog.Error("start bot", "error", err)
		os.Exit(1)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	if j := janitor.New(st, cfg.Janitor); j != nil {
		go j.Run(janitorCtx)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	stopJanitor()
	if err := bot.Stop(ctx); err != nil {
		slog.Warn("stop bot", "error", err)
	}
	if err := st.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		slog.Warn("shutdown tracing", "error", err)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openStore selects the store backend: Postgres in managed mode, SQLite
// otherwise.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.IsManagedMode() {
		slog.Info("using postgres store")
		return pg.Open(cfg.Database.PostgresDSN)
	}
	if cfg.Database.Mode == "managed" {
		slog.Warn("database mode is managed but PERSONATE_POSTGRES_DSN is not set, falling back to sqlite")
	}
	path := cfg.SQLitePathExpanded()
	slog.Info("using sqlite store", "path", path)
	return lite.Open(path)
}
