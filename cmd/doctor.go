package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/personate/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("personate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Database
	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed (postgres)\n", "Mode:")
		checkPostgres(cfg.Database.PostgresDSN)
	} else {
		fmt.Printf("    %-12s standalone (sqlite)\n", "Mode:")
		fmt.Printf("    %-12s %s\n", "Path:", cfg.SQLitePathExpanded())
		if cfg.Database.Mode == "managed" {
			fmt.Println("    WARNING: mode is \"managed\" but PERSONATE_POSTGRES_DSN is not set")
		}
	}

	// Discord
	fmt.Println()
	fmt.Println("  Discord:")
	if cfg.Discord.Token == "" {
		fmt.Println("    Token:       NOT SET (PERSONATE_DISCORD_TOKEN)")
	} else {
		fmt.Println("    Token:       set")
		checkDiscord(cfg.Discord.Token)
	}

	// Janitor / telemetry
	fmt.Println()
	if cfg.Janitor.RetentionDays > 0 {
		fmt.Printf("  Janitor:    schedule %q, retention %d days\n", cfg.Janitor.Schedule, cfg.Janitor.RetentionDays)
	} else {
		fmt.Println("  Janitor:    disabled")
	}
	if cfg.Telemetry.Endpoint != "" {
		fmt.Printf("  Telemetry:  OTLP/%s → %s\n", cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
	} else {
		fmt.Println("  Telemetry:  disabled")
	}
}

func checkPostgres(dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    Connection:  FAILED (%s)\n", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    Connection:  FAILED (%s)\n", err)
		return
	}
	fmt.Println("    Connection:  OK")

	var version int64
	var dirty bool
	err = db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty)
	switch {
	case err != nil:
		fmt.Println("    Migrations:  none applied (run: personate migrate up)")
	case dirty:
		fmt.Printf("    Migrations:  version %d (DIRTY)\n", version)
	default:
		fmt.Printf("    Migrations:  version %d\n", version)
	}
}

func checkDiscord(token string) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		fmt.Printf("    Identity:    FAILED (%s)\n", err)
		return
	}
	user, err := s.User("@me")
	if err != nil {
		fmt.Printf("    Identity:    FAILED (%s)\n", err)
		return
	}
	fmt.Printf("    Identity:    %s (%s)\n", user.Username, user.ID)
}
