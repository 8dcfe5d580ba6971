package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lysyi3m/cast-comb/app/api"
	"github.com/lysyi3m/cast-comb/app/cfg"
	"github.com/lysyi3m/cast-comb/app/config"
	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/fs"
	"github.com/lysyi3m/cast-comb/app/history"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/scheduler"
	"github.com/lysyi3m/cast-comb/app/update"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

const banner = `
                     _                            _
  ___ __ _ ___ _ __ | |_    ___ ___  _ __ ___ | |__
 / __/ _` + "`" + ` / __| '_ \| __|  / __/ _ \| '_ ` + "`" + ` _ \| '_ \
| (_| (_| \__ \ |_) | |_  | (_| (_) | | | | | | |_) |
 \___\__,_|___/ .__/ \__|  \___\___/|_| |_| |_|_.__/
              |_|
`

// historyCleanupPeriod is how often retention cleanup runs in the background.
const historyCleanupPeriod = 24 * time.Hour

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load service configuration
	serviceConfig, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(appCfg, serviceConfig.Log)

	if !appCfg.NoBanner {
		fmt.Print(banner)
	}

	slog.Info("Starting cast-comb", "version", appCfg.Version, "config", appCfg.ConfigPath)

	// Download driver: refuse to start without the downloader binary
	downloader, err := ytdl.New(ctx, serviceConfig.Downloader)
	if err != nil {
		slog.Error("Downloader error", "error", err)
		os.Exit(1)
	}

	// Durable storage
	db, err := database.NewBolt(&serviceConfig.Database)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	// Artifact store
	var (
		storage    fs.Storage
		localFiles *fs.Local
	)
	switch serviceConfig.Storage.Type {
	case "local":
		localFiles, err = fs.NewLocal(serviceConfig.Storage.Local.DataDir)
		storage = localFiles
	case "s3":
		storage, err = fs.NewS3(serviceConfig.Storage.S3)
	default:
		slog.Error("Unknown storage type", "type", serviceConfig.Storage.Type)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}

	// Provider API keys
	keys := map[model.Provider]feed.KeyProvider{}
	for name, list := range serviceConfig.Tokens {
		provider, err := feed.NewKeyProvider(list)
		if err != nil {
			slog.Error("Failed to create key provider", "provider", name, "error", err)
			os.Exit(1)
		}
		keys[name] = provider
	}

	historyRecorder := history.NewRecorder(db, serviceConfig.History.Enabled)
	slog.Info("History tracking",
		"enabled", serviceConfig.History.Enabled,
		"retention_days", serviceConfig.History.RetentionDays,
		"max_entries", serviceConfig.History.MaxEntries)

	manager := update.NewManager(serviceConfig.Feeds, keys, serviceConfig.Server.Hostname,
		downloader, db, storage, historyRecorder)

	// Headless mode: one update round, then exit
	if appCfg.Headless {
		for _, feedConfig := range serviceConfig.Feeds {
			if err := manager.Update(ctx, feedConfig, model.TriggerScheduled); err != nil {
				slog.Error("Failed to update feed", "url", feedConfig.URL, "error", err)
			}
		}
		return
	}

	group, ctx := errgroup.WithContext(ctx)
	defer func() {
		if err := group.Wait(); err != nil && err != context.Canceled && err != http.ErrServerClosed {
			slog.Error("Wait error", "error", err)
		}
		slog.Info("Gracefully stopped")
	}()

	// Scheduler: cron registry, bounded queue, single worker
	feedScheduler := scheduler.New(manager, serviceConfig.Feeds)
	if err := feedScheduler.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer feedScheduler.Stop()

	// Daily history retention cleanup
	group.Go(func() error {
		ticker := time.NewTicker(historyCleanupPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := historyRecorder.CleanupOldEntries(ctx,
					serviceConfig.History.RetentionDays, serviceConfig.History.MaxEntries); err != nil {
					slog.Error("Scheduled history cleanup failed", "error", err)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	if serviceConfig.Storage.Type == "s3" {
		// Content is hosted externally, run without the web server
		group.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-stop:
				cancel()
				return nil
			}
		})
		return
	}

	// Web server: management API plus feed documents and media
	configWriter := config.NewWriter(appCfg.ConfigPath)
	handler := api.NewHandler(serviceConfig, configWriter, db, manager, feedScheduler, cancel)
	engine := api.NewServer(handler, serviceConfig.Server, localFiles)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serviceConfig.Server.BindAddress, serviceConfig.Server.Port),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	group.Go(func() error {
		slog.Info("Running listener", "addr", srv.Addr)
		if serviceConfig.Server.TLS {
			return srv.ListenAndServeTLS(serviceConfig.Server.CertificatePath, serviceConfig.Server.KeyFilePath)
		}
		return srv.ListenAndServe()
	})

	group.Go(func() error {
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()

			slog.Info("Shutting down web server")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Server shutdown failed", "error", err)
			}
		}()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			cancel()
			return nil
		}
	})
}

// setupLogging configures slog with optional debug level and a rotating log
// file.
func setupLogging(appCfg *cfg.Cfg, logConfig config.LogConfig) {
	level := slog.LevelInfo
	if appCfg.Debug || logConfig.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	if logConfig.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   logConfig.Filename,
			MaxSize:    logConfig.MaxSize,
			MaxBackups: logConfig.MaxBackups,
			MaxAge:     logConfig.MaxAge,
			Compress:   logConfig.Compress,
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}
