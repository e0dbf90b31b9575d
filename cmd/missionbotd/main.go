package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiPkg "github.com/missionbot-io/missionbot/internal/api"
	"github.com/missionbot-io/missionbot/internal/config"
	"github.com/missionbot-io/missionbot/internal/connector/telegram"
	"github.com/missionbot-io/missionbot/internal/flow"
	"github.com/missionbot-io/missionbot/internal/jira"
	"github.com/missionbot-io/missionbot/internal/lifecycle"
	"github.com/missionbot-io/missionbot/internal/logbuf"
	"github.com/missionbot-io/missionbot/internal/parse"
	"github.com/missionbot-io/missionbot/internal/permission"
	"github.com/missionbot-io/missionbot/internal/report"
	"github.com/missionbot-io/missionbot/internal/router"
	"github.com/missionbot-io/missionbot/internal/scheduler"
	"github.com/missionbot-io/missionbot/internal/task"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	envFile := flag.String("env", ".env", "Path to .env file (used when -config is not set)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv(*envFile)
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("missionbotd starting", "db", cfg.Bot.DBPath)

	store, err := task.NewSQLiteStore(cfg.Bot.DBPath)
	if err != nil {
		logger.Error("failed to open task store", "path", cfg.Bot.DBPath, "error", err)
		os.Exit(1)
	}
	// store is cleaned up when the process exits

	tracker := jira.NewClient(
		"https://"+cfg.Tracker.Host,
		cfg.Tracker.Username,
		cfg.Tracker.APIToken,
		logger.With("component", "jira"),
	)
	if !tracker.Enabled() {
		logger.Info("tracker credentials missing, title fetching disabled")
	}

	parser := parse.NewParser(cfg.Tracker.Host)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The connector is both the update source and the outbound transport, so
	// it is built first and its handler installed after the rest is wired.
	tgConn, err := telegram.New(
		telegram.Config{
			Token:     cfg.Bot.Token,
			AllowFrom: cfg.Bot.AllowFrom,
		},
		nil,
		logger.With("connector", "telegram"),
	)
	if err != nil {
		logger.Error("failed to init telegram connector", "error", err)
		os.Exit(1)
	}

	perms := permission.New(tgConn, logger.With("component", "permission"))
	lc := lifecycle.New(store, tgConn, tracker, perms, logger.With("component", "lifecycle"))
	flows := flow.New(flow.NewStates(), lc, tgConn, parser, logger.With("component", "flow"))
	reports := report.New(store)
	rt := router.New(lc, flows, reports, store, tgConn, parser, logger.With("component", "router"))
	tgConn.SetHandler(rt)

	go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })

	// Scheduled weekly report
	if cfg.Report.Schedule != "" {
		sched := scheduler.New(func(chatID int64) {
			text, err := reports.Build(time.Now())
			if err != nil {
				logger.Error("scheduled report failed", "chat_id", chatID, "error", err)
				return
			}
			if _, err := tgConn.Send(ctx, chatID, text, nil); err != nil {
				logger.Error("failed to post scheduled report", "chat_id", chatID, "error", err)
			}
		}, logger.With("component", "scheduler"))

		if err := sched.AddReport(cfg.Report.ChatID, cfg.Report.Schedule); err != nil {
			logger.Error("invalid report schedule", "schedule", cfg.Report.Schedule, "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "scheduler", func() { sched.Start(ctx) })
		logger.Info("report scheduler started", "schedule", cfg.Report.Schedule, "chat_id", cfg.Report.ChatID)
	}

	// REST API server
	if cfg.API.Port > 0 {
		apiSrv := apiPkg.NewServer(store, reports, apiPkg.Config{
			Host: cfg.API.Host,
			Port: cfg.API.Port,
			Key:  cfg.API.Key,
		}, logger.With("component", "api"), logBuf)

		go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
		logger.Info("api server started", "port", cfg.API.Port)
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("missionbotd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
