// Package main runs the ecoscan station: a noise sampler and a live map of
// environmental reports, served to browsers over WebSocket.
//
// Usage:
//
//	ecoscan [-config path/to/config.json] [-env path/to/.env]
//
// If -config is not specified, ecoscan looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-ecoscan/internal/archive"
	"github.com/oszuidwest/zwfm-ecoscan/internal/audio"
	"github.com/oszuidwest/zwfm-ecoscan/internal/broker"
	"github.com/oszuidwest/zwfm-ecoscan/internal/config"
	"github.com/oszuidwest/zwfm-ecoscan/internal/geo"
	"github.com/oszuidwest/zwfm-ecoscan/internal/notify"
	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/sampler"
	"github.com/oszuidwest/zwfm-ecoscan/internal/server"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	envPath := flag.String("env", ".env", "Path to an optional .env file with secrets")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load env file", "path", *envPath, "error", err)
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	logger := observability.NewLogger(os.Stderr, snap.LogLevel, snap.LogFormat)
	slog.SetDefault(logger)
	slog.Info("using config file", "path", *configPath)

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	st, err := openStore(&snap, clock, metrics)
	if err != nil {
		slog.Error("failed to open store", "driver", snap.StorageDriver, "error", err)
		os.Exit(1)
	}

	ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
	if ffmpegPath == "" {
		slog.Warn("FFmpeg not found, capture may be unavailable", "configured_path", snap.FFmpegPath)
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	fftSize := snap.FFTSize
	station := stationLocator(&snap, logger, metrics)
	center := types.Position{Lat: snap.CenterLat, Lng: snap.CenterLng}
	deps := server.Deps{
		Input: audio.NewCommandInput(snap.AudioInput, ffmpegPath),
		NewAnalyser: func() (sampler.Analyser, error) {
			return audio.NewAnalyser(audio.DefaultFormat, fftSize)
		},
		Clock:        clock,
		TickInterval: snap.TickInterval,
		Station:      station,
		Center:       center,
		Metrics:      metrics,
	}

	closers := startFanOut(&snap, st, logger, metrics)

	version := NewVersionChecker()
	srv := NewServer(snap, st, deps, version)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	version.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	for _, closeFn := range closers {
		errs = append(errs, closeFn())
	}
	errs = append(errs, st.Close())

	if err := errors.Join(errs...); err != nil {
		slog.Error("shutdown completed with errors", "error", err)
		return
	}
	slog.Info("shutdown complete")
}

// openStore opens the configured observation store.
func openStore(cfg *config.Snapshot, clock clockwork.Clock, metrics *observability.Metrics) (store.Store, error) {
	if cfg.StorageDriver == config.DriverMemory {
		slog.Warn("using in-memory store, reports are lost on restart")
		return store.NewMemory(clock, metrics), nil
	}

	if err := util.CheckPathWritable(filepath.Dir(cfg.StoragePath)); err != nil {
		return nil, err
	}
	s, err := store.OpenSQLite(cfg.StoragePath, clock, metrics)
	if err != nil {
		return nil, err
	}
	slog.Info("store opened", "driver", cfg.StorageDriver, "path", cfg.StoragePath)
	return s, nil
}

// stationLocator returns where the station is when a browser has no fix.
// It is nil when neither a position nor a geocodable address is configured.
func stationLocator(cfg *config.Snapshot, logger *slog.Logger, metrics *observability.Metrics) geo.Locator {
	switch {
	case cfg.HasStationPosition():
		return geo.NewStatic(&types.Position{Lat: *cfg.StationLat, Lng: *cfg.StationLng})
	case cfg.HasGeocoding():
		client := geo.NewMapboxClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		return geo.NewAddressLocator(geo.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics), cfg.StationAddress)
	default:
		return nil
	}
}

// startFanOut attaches the configured archive, broker and alert consumers to
// the store's insert events. It returns their close functions in stop order.
func startFanOut(cfg *config.Snapshot, st store.Store, logger *slog.Logger, metrics *observability.Metrics) []func() error {
	var closers []func() error

	if cfg.HasArchive() {
		s3cfg := &archive.S3Config{
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
			Bucket:          cfg.ArchiveBucket,
			Prefix:          cfg.ArchivePrefix,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
		}
		a := archive.New(archive.NewS3Client(s3cfg), archive.Options{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		}, metrics)
		if err := a.Start(st); err != nil {
			slog.Error("failed to start report archive", "error", err)
		} else {
			closers = append(closers, func() error { a.Close(); return nil })
		}
	}

	if cfg.HasKafka() {
		p := broker.NewPublisher(broker.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger, metrics)
		if err := p.Start(st); err != nil {
			slog.Error("failed to start report publisher", "error", err)
		} else {
			closers = append(closers, p.Close)
		}
	}

	n := notify.NewAlertNotifier(notify.Config{
		StationName: cfg.StationName,
		WebhookURL:  cfg.WebhookURL,
		Graph: notify.GraphConfig{
			TenantID:     cfg.GraphTenantID,
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
			FromAddress:  cfg.GraphFromAddress,
			Recipients:   cfg.GraphRecipients,
		},
		Threshold: cfg.AlertThreshold,
	}, metrics)
	if n.Enabled() {
		if err := n.Start(st); err != nil {
			slog.Error("failed to start alert notifier", "error", err)
		} else {
			closers = append(closers, func() error { n.Close(); return nil })
		}
	}

	return closers
}
