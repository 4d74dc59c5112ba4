package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	config "pulsedash/app/configs"
	"pulsedash/app/core/cache"
	"pulsedash/app/core/capacity"
	"pulsedash/app/core/clickup"
	"pulsedash/app/core/db"
	"pulsedash/app/core/gmail"
	"pulsedash/app/core/grain"
	"pulsedash/app/core/health"
	"pulsedash/app/core/llm"
	"pulsedash/app/core/mappings"
	"pulsedash/app/core/overrides"
	"pulsedash/app/core/refresh"
	"pulsedash/app/core/scheduler"
	"pulsedash/app/core/server"
	"pulsedash/app/core/snapshot"
	"pulsedash/app/core/task"
	"pulsedash/app/pkg/logger"
)

const shortCacheTTL = 5 * time.Minute

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("PulseDash starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB("output/db")
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	taskStore := task.NewStore(database)
	snapshotStore := snapshot.NewStore(database)
	capacityStore := capacity.NewStore(filepath.Join("output", "team_capacity.json"))
	mappingStore := mappings.NewStore(filepath.Join("output", "client_mappings.json"))
	overrideStore := overrides.NewStore(filepath.Join("output", "sentiment_overrides.json"))

	shortCache := cache.New(shortCacheTTL)
	upstream := clickup.NewClient(cfg.ClickUp, shortCache)
	recordings := grain.NewClient(cfg.Grain)
	emails := gmail.NewClient(cfg.Gmail)
	classifier := llm.NewClassifier(cfg.LLM, time.Duration(cfg.Health.CacheTTLSec)*time.Second)

	healthBuilder := health.NewBuilder(cfgManager, upstream, recordings, emails, classifier, mappingStore)
	refreshSvc := refresh.NewService(cfgManager, upstream, taskStore, snapshotStore, healthBuilder, shortCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refreshLoc, err := time.LoadLocation(cfg.Refresh.Timezone)
	if err != nil {
		logger.Error("Unknown refresh timezone %q, using UTC: %v", cfg.Refresh.Timezone, err)
		refreshLoc = time.UTC
	}

	jobScheduler := scheduler.New()
	jobs := []scheduler.JobSpec{
		{
			Name:    "metrics-refresh",
			DailyAt: &scheduler.ClockTime{Hour: cfg.Refresh.MetricsHour, Minute: cfg.Refresh.MetricsMinute, Location: refreshLoc},
			Timeout: 15 * time.Minute,
			Run:     refreshSvc.RefreshMetrics,
		},
		{
			Name:    "health-refresh",
			DailyAt: &scheduler.ClockTime{Hour: cfg.Refresh.HealthHour, Minute: cfg.Refresh.HealthMinute, Location: refreshLoc},
			Timeout: 15 * time.Minute,
			Run:     refreshSvc.RefreshHealth,
		},
	}
	for _, job := range jobs {
		if err := jobScheduler.Register(job); err != nil {
			logger.Error("Failed to register job %s: %v", job.Name, err)
			os.Exit(1)
		}
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	refreshSvc.WarmIfEmpty(ctx)

	srv := server.NewServer(cfgManager, snapshotStore, taskStore)
	srv.SetCapacityStore(capacityStore)
	srv.SetMappingStore(mappingStore)
	srv.SetOverrideStore(overrideStore)
	srv.SetUpstream(upstream)
	srv.SetRefresher(refreshSvc)
	srv.SetInsightSource(classifier)
	srv.SetScheduler(jobScheduler)

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("HTTP server crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("PulseDash is ready to serve.")
	fmt.Printf("- Dashboard API: http://localhost:%d/api/metrics\n", cfg.Server.Port)
	fmt.Printf("- Client health: http://localhost:%d/api/client-health\n", cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. PulseDash shutting down...", sig)
	cancel()
}
