package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netifmon/internal/audit"
	"netifmon/internal/config"
	"netifmon/internal/database"
	"netifmon/internal/handlers"
	"netifmon/internal/middleware"
	"netifmon/internal/monitor"
	"netifmon/internal/services"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const metricsNamespace = "netifmon"

var (
	Version = "unknown"
	log     *logrus.Logger
)

type CLI struct {
	Config    string `short:"c" help:"Path to YAML config file" type:"path" env:"NETIF_CONFIG"`
	Port      int    `short:"p" help:"HTTP listen port (overrides config)"`
	LogLevel  string `short:"l" help:"Log level [error|warn|info|debug|trace] (overrides config)"`
	LogFormat string `help:"Log format [default|json] (overrides config)"`
	Version   bool   `short:"v" help:"Print version and exit"`

	SystemdUnit bool `help:"Print a systemd unit for this binary and exit"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("netifmon"),
		kong.Description("Network interface monitor with live vnstat traffic sampling"),
	)

	if cli.Version {
		fmt.Printf("netifmon %s\n", Version)
		return
	}

	if cli.SystemdUnit {
		exe, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve executable: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(services.GenerateSystemdService(exe, cli.Config))
		return
	}

	os.Exit(run(cli))
}

func run(cli CLI) int {
	// Load configuration
	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if cli.Port != 0 {
		cfg.Port = cli.Port
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.LogFormat = cli.LogFormat
	}

	log = newLogger(cfg)
	monitor.SetLogger(log)
	services.SetLogger(log)
	handlers.SetLogger(log)

	// Initialize services
	var (
		events   handlers.EventLog
		recorder monitor.EventRecorder
	)
	if cfg.AuditEnabled {
		db, err := database.New(cfg.DataDir)
		if err != nil {
			log.WithError(err).Error("Failed to initialize database")
			return 1
		}
		defer db.Close()
		auditService := audit.NewService(db)
		events, recorder = auditService, auditService
	}

	registry := monitor.NewRegistry(monitor.Options{
		Sampler: monitor.SamplerConfig{
			Path:        cfg.Sampler.Path,
			Args:        cfg.Sampler.Args,
			StopTimeout: cfg.Sampler.StopTimeout,
		},
		MaxInterfaces: cfg.MaxInterfaces,
		Metrics:       monitor.NewMetrics(metricsNamespace, prometheus.DefaultRegisterer),
		Events:        recorder,
	})
	netlinkService := services.NewNetlinkService(registry)

	netifHandler := handlers.NewNetifHandler(netlinkService, registry, events, cfg.ListLimit)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRequestLogger(log).Handler)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/netif", func(r chi.Router) {
		r.Get("/list", netifHandler.List)
		r.Get("/interface", netifHandler.Interface)
		r.Get("/monitors", netifHandler.Monitors)
		r.Get("/stats", netifHandler.Stats)
		r.Get("/monitor", netifHandler.MonitorStatus)
		r.Post("/monitor", netifHandler.SetMonitor)
		r.Get("/events", netifHandler.Events)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":    server.Addr,
			"sampler": cfg.Sampler.Path,
			"max":     cfg.MaxInterfaces,
		}).Info("Starting network interface monitor")
		serverErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down...")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Server failed")
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if err := registry.CleanupAll(ctx); err != nil {
		log.WithError(err).Error("Some monitors could not be stopped")
		exitCode = 1
	}

	return exitCode
}

func newLogger(cfg *config.Config) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		l.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}
