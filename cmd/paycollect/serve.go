package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/susu3304/paycollect/internal/alert"
	"github.com/susu3304/paycollect/internal/api"
	"github.com/susu3304/paycollect/internal/bot"
	"github.com/susu3304/paycollect/internal/config"
	"github.com/susu3304/paycollect/internal/db"
	"github.com/susu3304/paycollect/internal/payment"
	"github.com/susu3304/paycollect/internal/roster"
	"github.com/susu3304/paycollect/internal/sheets"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot, roster sync and operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	sheetClient, err := newSheets(ctx, cfg)
	if err != nil {
		return err
	}

	alerts, err := newAlerts(cfg)
	if err != nil {
		return err
	}

	cache := roster.NewCache(database, cfg.CacheTTL)
	syncer := newSynchronizer(cfg, sheetClient, database, cache)
	payments := payment.NewService(cache, database, sheetClient, alerts, cfg.DecayRatio)

	discordBot, err := bot.New(cfg.DiscordToken, payments, alerts, bot.Options{
		InviteChannelID:  cfg.InviteChannelID,
		Assignments:      database,
		ReminderInterval: cfg.ReminderInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create discord bot: %w", err)
	}

	if snap, err := database.LoadRoster(ctx); err == nil {
		syncer.Prime(snap)
	}
	// Signals end the loop through Stop below, after the grace period.
	syncer.Start(context.WithoutCancel(ctx))

	if err := discordBot.Start(); err != nil {
		syncer.Stop(context.Background())
		return fmt.Errorf("failed to start discord bot: %w", err)
	}

	var apiServer *api.API
	if cfg.APIEnabled() {
		apiServer = api.New(cfg, cache, database, syncer)
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()
	} else {
		log.Println("DISCORD_CLIENT_ID not set, operator API disabled")
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown: %v", err)
		}
	}
	if err := discordBot.Stop(); err != nil {
		log.Printf("Failed to close discord session: %v", err)
	}
	syncer.Stop(shutdownCtx)
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, nil
}

func newSheets(ctx context.Context, cfg *config.Config) (*sheets.Client, error) {
	client, err := sheets.New(ctx, sheets.Options{
		SpreadsheetID:   cfg.SpreadsheetID,
		SheetName:       cfg.SheetName,
		SheetID:         cfg.SheetID,
		CredentialsFile: cfg.GoogleCredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return client, nil
}

func newAlerts(cfg *config.Config) (alert.Notifier, error) {
	if cfg.TelegramAlertToken == "" || len(cfg.TelegramAlertChats) == 0 {
		log.Println("Telegram alerts not configured, logging operator alerts")
		return alert.Log{}, nil
	}
	t, err := alert.NewTelegram(cfg.TelegramAlertToken, cfg.TelegramAlertChats)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram notifier: %w", err)
	}
	return t, nil
}

func newSynchronizer(cfg *config.Config, source roster.Source, writer roster.Writer, cache *roster.Cache) *roster.Synchronizer {
	return roster.NewSynchronizer(source, writer, cache, roster.SyncConfig{
		Interval:    cfg.PollInterval,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
		Grace:       cfg.ShutdownGrace,
	})
}
