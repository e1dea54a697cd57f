package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"lansend/app"
	"lansend/config"
	"lansend/events"
	"lansend/ipc"
	"lansend/logging"
	"lansend/storage"
)

const (
	scanTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logrus.Fatalf("startup failed while loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("startup failed while validating config %s: %v", cfgPath, err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		logrus.Fatalf("startup failed while configuring logging: %v", err)
	}

	fmt.Printf("Client ID:       %s\n", cfg.ClientID)
	fmt.Printf("Device Name:     %s\n", cfg.DeviceName)
	fmt.Printf("Transport:       %s\n", cfg.Transport)
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	var history app.HistoryStore
	if !cfg.DisableHistory {
		store, dbPath, err := storage.Open(dataDir)
		if err != nil {
			logger.Fatalf("startup failed while opening history database: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("History database close error")
			}
		}()
		history = store
		fmt.Printf("History File:    %s\n", dbPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channel, shutdownBackend, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup failed while connecting to backend: %v", err)
	}

	client := app.New(channel, app.Options{
		Logger:           logger,
		History:          history,
		HistoryRetention: time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour,
	})
	client.Start()

	transferEvents, cancelTransfers := client.Transfers.Subscribe(events.DefaultBuffer)
	defer cancelTransfers()
	go newProgressView(os.Stderr).run(transferEvents)

	notices, cancelNotices := client.Errors(events.DefaultBuffer)
	defer cancelNotices()
	go func() {
		for notice := range notices {
			fmt.Fprintf(os.Stderr, "Backend error: %s\n", notice.Message)
		}
	}()

	scanDevices(ctx, client, logger)

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	select {
	case <-ctx.Done():
	case <-client.Done():
		logger.WithError(channel.LastError()).Warn("Backend channel closed")
	}
	fmt.Println("Status:          shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Client.Exit(shutdownCtx); err != nil {
		logger.WithError(err).Debug("Backend did not acknowledge exit")
	}
	client.Stop()
	if err := shutdownBackend(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Backend shutdown error")
	}
}

func newLogger(cfg *config.ClientConfig) (*logrus.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	formatter, err := logging.ParseFormatter(cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Formatter = formatter
	return logging.New(logCfg), nil
}

// connect returns an unstarted channel and a function that tears down the
// backend side of it.
func connect(ctx context.Context, cfg *config.ClientConfig, logger logrus.FieldLogger) (*ipc.Channel, func(context.Context) error, error) {
	options := ipc.ChannelOptions{Logger: logger}

	if cfg.Transport == config.TransportWebSocket {
		header := http.Header{}
		header.Set("X-Client-ID", cfg.ClientID)
		channel, err := ipc.DialWebSocket(ctx, cfg.BackendURL, header, options)
		if err != nil {
			return nil, nil, err
		}
		return channel, func(context.Context) error { return channel.Close() }, nil
	}

	backend, err := ipc.StartBackend(cfg.BackendPath, cfg.BackendArgs, options)
	if err != nil {
		return nil, nil, err
	}
	return backend.Channel, backend.Stop, nil
}

func scanDevices(ctx context.Context, client *app.App, logger logrus.FieldLogger) {
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	found, err := client.Client.ScanDevices(scanCtx)
	if err != nil {
		logger.WithError(err).Warn("Initial device scan failed")
		return
	}
	fmt.Printf("Devices:         %d found\n", len(found))
	for _, device := range found {
		fmt.Printf("  - %s (%s, %s) %s\n", device.DeviceName, device.DisplayModel(), device.DisplayPlatform(), device.IP)
	}
}
