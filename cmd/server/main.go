// Command server runs the edge certificate monitor.
//
// # Usage
//
//	server --config /etc/certmon/config.yaml --port 8080
//
// # Configuration
//
// The server can be configured via:
// - A YAML config file (--config)
// - Environment variables (CERTMON_*)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/t-cloud/edge-certmon/db/migrate"
	"github.com/t-cloud/edge-certmon/internal/api"
	"github.com/t-cloud/edge-certmon/internal/cache"
	"github.com/t-cloud/edge-certmon/internal/config"
	"github.com/t-cloud/edge-certmon/internal/metrics"
	"github.com/t-cloud/edge-certmon/internal/notify"
	"github.com/t-cloud/edge-certmon/internal/nsx"
	"github.com/t-cloud/edge-certmon/internal/reconcile"
	"github.com/t-cloud/edge-certmon/internal/scheduler"
	"github.com/t-cloud/edge-certmon/internal/secrets"
	"github.com/t-cloud/edge-certmon/internal/service"
	"github.com/t-cloud/edge-certmon/internal/sshcheck"
	"github.com/t-cloud/edge-certmon/internal/store"
)

const (
	jobInventorySync     = "inventory-sync"
	jobCertificateCheck  = "certificate-check"
	jobNotificationSweep = "notification-sweep"
)

func main() {
	var (
		port       = flag.Int("port", 8080, "HTTP server port")
		configPath = flag.String("config", "", "Path to YAML config file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("edge-certmon v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.NewStoreFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		cancel()
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := migrate.Run(ctx, db.Pool(), logger); err != nil {
		cancel()
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	cancel()

	// Response cache is optional: without Redis every request hits postgres.
	var responseCache *cache.Cache
	if cfg.RedisURL != "" {
		responseCache, err = cache.New(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, running without response cache", "error", err)
		}
	}

	nsxClient, err := nsx.NewClient(nsx.Config{
		ManagerURL:         cfg.NSX.ManagerURL,
		Username:           cfg.NSX.Username,
		Password:           cfg.NSX.Password,
		Timeout:            cfg.NSX.RequestTimeout,
		RateLimit:          cfg.NSX.RateLimit,
		InsecureSkipVerify: cfg.NSX.InsecureSkipVerify,
		AllowList:          cfg.NSX.AllowList,
	}, logger)
	if err != nil {
		logger.Error("failed to create NSX client", "error", err)
		os.Exit(1)
	}

	secretsCfg := secrets.ConfigFromEnv()
	secretsCfg.Username = cfg.SSH.Username
	secretsCfg.Password = cfg.SSH.Password
	secretsCfg.PrivateKeyFile = cfg.SSH.PrivateKeyFile
	credProvider, err := secrets.NewProvider(secretsCfg, logger)
	if err != nil {
		logger.Error("failed to initialize SSH credentials", "error", err)
		os.Exit(1)
	}
	defer credProvider.Close()

	prober := sshcheck.NewProber(credProvider, sshcheck.ProberConfig{
		Port:           cfg.SSH.Port,
		ConnectTimeout: cfg.SSH.Timeout,
		CommandTimeout: cfg.SSH.CommandTimeout,
	}, logger)
	orchestrator := sshcheck.NewOrchestrator(prober, cfg.Checks.MaxConcurrent, logger)

	sink := notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if !sink.Enabled() {
		logger.Warn("telegram is not configured, notifications will be skipped")
	}
	notifier := notify.NewNotifier(db, sink, cfg.Checks.WarningDays, logger)

	svc := service.New(service.Config{
		Store:       db,
		Fetcher:     nsxClient,
		Reconciler:  reconcile.NewEngine(db, logger),
		Checker:     orchestrator,
		Notifier:    notifier,
		WarningDays: cfg.Checks.WarningDays,
		Logger:      logger,
	})

	sched := scheduler.New(logger)
	jobs := []scheduler.Job{
		{Name: jobInventorySync, Schedule: cfg.Schedule.InventorySync, Run: svc.SyncInventory},
		{Name: jobCertificateCheck, Schedule: cfg.Schedule.CertificateCheck, Run: svc.CheckCertificates},
		{Name: jobNotificationSweep, Schedule: cfg.Schedule.NotificationSweep, Run: svc.SweepNotifications},
	}
	for _, j := range jobs {
		if err := sched.Register(j); err != nil {
			logger.Error("job registration failed", "job", j.Name, "error", err)
			os.Exit(1)
		}
	}

	runCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	if err := sched.Start(runCtx); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	// Populate the fleet and check it once at boot; the sweep waits for its
	// scheduled slot.
	go sched.RunStartup(runCtx, jobInventorySync, jobCertificateCheck)

	apiServer := api.NewServer(svc, sched, metrics.NewCollector(db), responseCache, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", *port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	sched.Stop()
	if responseCache != nil {
		responseCache.Close()
	}

	logger.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path != "" {
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
