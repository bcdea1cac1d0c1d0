package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"camguard/internal/alerts"
	"camguard/internal/api"
	"camguard/internal/baseline"
	"camguard/internal/config"
	"camguard/internal/engine"
	"camguard/internal/fleet"
	"camguard/internal/logging"
	"camguard/internal/notify"
	"camguard/internal/probe"
	"camguard/internal/sched"
	"camguard/internal/status"
	"camguard/internal/storage"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "camguard.yaml", "path to config file (yaml or json)")
	writeDefault := flag.Bool("write-default-config", false, "write the default config to the config path and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("camguardd", version)
		return
	}

	// Secrets (SENDGRID_API_KEY, MQTT_PASSWORD) come from the environment;
	// a local .env is honored when present.
	_ = godotenv.Load()

	path := config.ResolvePath(*configPath)
	if *writeDefault {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			fmt.Fprintln(os.Stderr, "write config:", err)
			os.Exit(1)
		}
		fmt.Println("wrote", path)
		return
	}

	manager, err := config.NewManager(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("camguardd starting", "version", version, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		logger.Error("init storage", "err", err)
		os.Exit(1)
	}

	baselines, err := baseline.NewFileStore(cfg.Baseline.Dir)
	if err != nil {
		logger.Error("open baseline store", "err", err)
		os.Exit(1)
	}

	provider, err := fleet.NewProvider(cfg, store)
	if err != nil {
		logger.Error("fleet provider", "err", err)
		os.Exit(1)
	}

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	statusStore := status.NewStore()
	notifier := notify.NewFromConfig(cfg.Notify, logger)

	eng := engine.NewEngine(logger, alertsStore, store, notifier)
	if err := eng.LoadMutes(ctx); err != nil {
		logger.Warn("restore mutes", "err", err)
	}

	prober := probe.NewStreamProber(cfg.Inspection.ProbeTimeout, cfg.Inspection.FrameBurst, logger)
	scheduler := sched.New(manager, logger, provider, prober, baselines, store, statusStore, eng)

	// The scheduler snapshots the manager at run start, so a reload only
	// takes effect at the next run boundary.
	go manager.Watch(3*time.Second,
		func(next *config.Config) {
			logger.Info("config reloaded", "path", path)
		},
		func(err error) {
			logger.Error("config reload failed", "err", err)
		},
		ctx.Done(),
	)

	scheduler.Start(ctx)
	api.Start(ctx, manager, statusStore, alertsStore, store, scheduler, eng, logger, version)

	<-ctx.Done()
	logger.Info("camguardd shutting down")
	// In-flight runs are abandoned; their rows stay `running` and the
	// next start writes fresh records.
	time.Sleep(200 * time.Millisecond)
}
