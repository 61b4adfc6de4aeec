package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/freeclip/buffer"
	"github.com/mjasion/balena-home/freeclip/config"
	"github.com/mjasion/balena-home/freeclip/metrics"
	"github.com/mjasion/balena-home/freeclip/pairing"
	"github.com/mjasion/balena-home/freeclip/permission"
	"github.com/mjasion/balena-home/freeclip/profiling"
	"github.com/mjasion/balena-home/freeclip/radio"
	"github.com/mjasion/balena-home/freeclip/refresh"
	"github.com/mjasion/balena-home/freeclip/session"
	"github.com/mjasion/balena-home/freeclip/store"
	"github.com/mjasion/balena-home/freeclip/telemetry"
	"github.com/mjasion/balena-home/freeclip/tui"
	"github.com/mjasion/balena-home/freeclip/types"
	"github.com/mjasion/balena-home/freeclip/ws"
)

const defaultTUILogFile = "freeclip.log"

func main() {
	// Parse command-line flags
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	headless := flag.Bool("headless", false, "Serve the websocket API instead of the terminal UI")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *headless {
		cfg.UI.Headless = true
	}

	// The terminal UI owns stdout, so logs go to a file
	if !cfg.UI.Headless && cfg.Logging.File == "" {
		cfg.Logging.File = defaultTUILogFile
	}

	// Initialize logger
	logger, err := config.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting FreeClip battery companion", zap.Bool("headless", cfg.UI.Headless))
	cfg.PrintConfig(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("FreeClip battery companion failed", zap.Error(err))
		logger.Sync()
		if !cfg.UI.Headless {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	logger.Info("FreeClip battery companion stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Pyroscope profiling
	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize profiler: %w", err)
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logger.Error("failed to shutdown profiler", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry providers
	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry providers: %w", err)
	}
	defer func() {
		if otelProviders != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown OpenTelemetry providers", zap.Error(err))
			}
		}
	}()

	ctx, mainSpan := otel.Tracer("main").Start(ctx, "main.run")
	defer mainSpan.End()

	// Restore the paired device
	kv, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()

	state, err := pairing.Load(ctx, kv, logger)
	if err != nil {
		return fmt.Errorf("failed to load pairing state: %w", err)
	}

	// Bluetooth adapter
	var power radio.PowerChecker
	if cfg.Radio.CheckPowered {
		power = radio.NewBlueZPower(cfg.Radio.AdapterID)
	}
	adapter := radio.New(bluetooth.DefaultAdapter, power, logger)

	var wg sync.WaitGroup

	opts := session.Options{
		DeviceName:  cfg.BLE.DeviceName,
		Timeout:     cfg.BLE.ScanTimeout(),
		QueueSize:   cfg.BLE.QueueSize,
		Permissions: permission.NewBlueZ(logger),
		Required:    permission.Required(cfg.Radio.PlatformLevel),
	}

	// Optional remote write export of every decoded reading
	var pusher *metrics.Pusher
	if cfg.Prometheus.Enabled {
		ringBuffer := buffer.New[*types.Reading](cfg.Prometheus.BufferSize, logger)
		pusher = metrics.New(metrics.Config{
			URL:          cfg.Prometheus.URL,
			Username:     cfg.Prometheus.Username,
			Password:     cfg.Prometheus.Password,
			PushInterval: time.Duration(cfg.Prometheus.PushIntervalSeconds) * time.Second,
			BatchSize:    cfg.Prometheus.BatchSize,
		}, ringBuffer, logger)
		opts.Sink = ringBuffer
		logger.Info("prometheus pusher initialized", zap.String("url", cfg.Prometheus.URL))

		wg.Add(1)
		go func() {
			defer wg.Done()
			pusher.Run(ctx)
		}()
	}

	ctrl := session.New(adapter, state, logger, opts)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session controller failed", zap.Error(err))
		}
	}()

	if cfg.UI.Headless {
		err = runHeadless(ctx, cfg, ctrl, logger)
	} else {
		err = runTUI(ctx, cfg, ctrl)
	}

	cancelRun()
	<-ctrl.Done()
	stop()
	wg.Wait()

	if pusher != nil {
		logger.Info("performing final metrics push")
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer finalCancel()
		pusher.Flush(finalCtx)
	}

	return err
}

func runHeadless(ctx context.Context, cfg *config.Config, ctrl *session.Controller, logger *zap.Logger) error {
	hub := ws.NewHub(logger)
	defer hub.Close()
	ctrl.Subscribe(hub)

	scheduler, err := refresh.New(ctx, cfg.UI.RefreshSchedule, ctrl, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if err := ctrl.Tap(ctx); err != nil {
		logger.Warn("initial scan did not start", zap.Error(err))
	}

	server := ws.NewServer(ctrl, hub, logger)
	return server.ListenAndServe(ctx, cfg.UI.Listen)
}

func runTUI(ctx context.Context, cfg *config.Config, ctrl *session.Controller) error {
	model := tui.New(ctx, ctrl, cfg.BLE.DeviceName)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	ctrl.Subscribe(tui.NewListener(program))

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
