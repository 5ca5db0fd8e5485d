package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"thinghub/internal/auth"
	"thinghub/internal/cloudapi"
	"thinghub/internal/config"
	"thinghub/internal/ipc"
	"thinghub/internal/lifecycle"
	"thinghub/internal/metrics"
	"thinghub/internal/sdk"
	"thinghub/internal/store"
	"thinghub/internal/thing"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		listenAddr  = flag.String("listen", "", "Local IPC listen address")
		healthCheck = flag.Bool("health-check", false, "Perform health check against a running agent and exit")
	)
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck())
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	if *listenAddr != "" {
		cfg.IPC.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting thinghub agent",
		zap.String("listen_addr", cfg.IPC.ListenAddr),
		zap.String("mqtt_host", cfg.MQTT.Host),
	)

	if err := makeDirs(cfg); err != nil {
		logger.Fatal("failed to create required directories", zap.Error(err))
	}

	creds, err := store.NewCredentialsStore(cfg.Storage.CredentialsPath)
	if err != nil {
		logger.Fatal("failed to load credentials store", zap.Error(err))
	}

	registry, err := thing.NewRegistry(cfg.Storage.RegistryPath, logger)
	if err != nil {
		logger.Fatal("failed to load thing registry", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	thingsAPI := cloudapi.NewThingsClient(cfg.CloudAPI.ThingsBaseURL, cfg.CloudAPI.Timeout, logger)
	authAPI := cloudapi.NewAuthClient(cfg.CloudAPI.AuthBaseURL, cfg.CloudAPI.Timeout, logger)
	connector := thing.NewMQTTConnector(cfg.MQTT.Host, cfg.MQTT.Port, cfg.Storage.CertDir, logger)

	careConfig := thing.CareConfig{ASCIIOnlyPublish: cfg.MQTT.ASCIIOnlyPublish}

	facade := sdk.New(creds, registry, authAPI, thingsAPI, logger)
	server := ipc.New(facade, logger, reg)
	sink := eventSink{server}

	runner := lifecycle.NewRunner(registry, creds, thingsAPI, connector, careConfig, logger, metricsReg, sink, cfg.Runner.TickInterval)
	refresher := auth.NewRefresher(creds, authAPI, logger, metricsReg, cfg.Runner.AuthRefreshInterval, cfg.Runner.AuthRefreshRetryBackoff)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal, shutting down gracefully")
		cancel()
	}()

	go runner.Run(ctx)
	go refresher.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.IPC.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening for local IPC", zap.String("addr", cfg.IPC.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ipc server failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("agent shutdown complete")
}

// eventSink forwards thing-state transitions to the IPC server's WebSocket
// feed, implementing thing.EventSink.
type eventSink struct {
	server *ipc.Server
}

func (s eventSink) Publish(kind, serial, detail string) {
	s.server.Events().Publish(ipc.Event{Kind: kind, Serial: serial, Detail: detail})
}

// makeDirs creates the registry/credentials parent directories and the
// certificate directory before first use (mode 0755), matching
// original_source's make_dirs which the distilled spec dropped.
func makeDirs(cfg config.StaticConfig) error {
	dirs := []string{
		filepath.Dir(cfg.Storage.RegistryPath),
		filepath.Dir(cfg.Storage.CredentialsPath),
		cfg.Storage.CertDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}

func performHealthCheck() int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:8080/healthz")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return 0
	}
	return 1
}
