package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/stepsense/internal/ble"
	"github.com/chaz8081/stepsense/internal/config"
	"github.com/chaz8081/stepsense/internal/metrics"
	"github.com/chaz8081/stepsense/internal/projector"
	"github.com/chaz8081/stepsense/internal/telemetry"
)

// statusInterval is how often the current snapshot is logged.
const statusInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/stepsense/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fatal("stepsense", err)
	}
	slog.Info("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config) error {
	buf := telemetry.NewBuffer(cfg.Telemetry.Retention)

	// The collector reads snapshots lazily, so proj only has to exist by the
	// first scrape.
	var proj *projector.Projector
	collector := metrics.NewCollector(func() projector.Snapshot { return proj.Snapshot() })

	sup := ble.NewSupervisor(ble.NewTinyGoAdapter(), ble.SupervisorOptions{
		Name:            ble.TargetName,
		Characteristic:  ble.StepData,
		ConnectTimeout:  cfg.BLE.ConnectTimeout,
		DiscoverTimeout: cfg.BLE.DiscoverTimeout,
		NotifyQueue:     cfg.BLE.NotifyBuffer,
		OnPayload: func(payload []byte) {
			collector.ObservePayload(payload)
			slog.Debug("[BLE] step data", "bytes", len(payload), "payload", fmt.Sprintf("%x", payload))
		},
		OnTransition: func(t ble.Transition) {
			collector.ObserveTransition(t)
			if t.To == ble.ConnectionFailed {
				slog.Warn("[BLE] connection failed; restart required", "cause", t.Cause)
			}
		},
	})

	channel, err := telemetry.NewChannel(cfg.Telemetry.Endpoint, buf, telemetry.ChannelOptions{
		Path:        cfg.Telemetry.Path,
		Topic:       cfg.Telemetry.Topic,
		FieldCount:  cfg.Telemetry.FieldCount,
		BackoffBase: cfg.Telemetry.BackoffBase,
		BackoffMax:  cfg.Telemetry.BackoffMax,
		MaxRetries:  cfg.Telemetry.MaxRetries,
		OnEvent:     collector.ObserveChannel,
	})
	if err != nil {
		return err
	}

	proj = projector.New(sup, buf)

	g, ctx := errgroup.WithContext(ctx)

	sup.Start()
	g.Go(func() error {
		<-ctx.Done()
		sup.Stop()
		slog.Info("[BLE] supervisor stopped")
		return nil
	})

	g.Go(func() error {
		return channel.Run(ctx)
	})

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Listen, reg)
		})
	}

	g.Go(func() error {
		logSnapshots(ctx, proj, buf)
		return nil
	})

	return g.Wait()
}

// serveMetrics exposes reg on /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// logSnapshots periodically logs the projected state until ctx is cancelled.
func logSnapshots(ctx context.Context, proj *projector.Projector, buf *telemetry.Buffer) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := proj.Snapshot()
			attrs := []any{"state", snap.State.String(), "status", snap.Status, "samples", len(snap.Telemetry), "received", buf.Total()}
			if snap.PeripheralName != "" {
				attrs = append(attrs, "peripheral", snap.PeripheralName)
			}
			if latest, ok := snap.Latest(); ok {
				attrs = append(attrs, "latest", latest.Format())
			}
			slog.Info("Status", attrs...)
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Info("No config file found, using defaults")
	return config.Default(), nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	metricsAddr := cfg.Metrics.Listen
	if metricsAddr == "" {
		metricsAddr = "disabled"
	}
	fmt.Println("=== stepsense ===")
	fmt.Printf("  Peripheral: %s\n", ble.TargetName)
	fmt.Printf("  Telemetry:  %s (%s)\n", cfg.Telemetry.Endpoint, cfg.Telemetry.Topic)
	fmt.Printf("  Metrics:    %s\n", metricsAddr)
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("=================")
}

func fatal(what string, err error) {
	slog.Error(what, "error", err)
	os.Exit(1)
}
