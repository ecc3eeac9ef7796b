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

	"github.com/cordum/mediadrop/core/artifact/urlindex"
	"github.com/cordum/mediadrop/core/extract"
	"github.com/cordum/mediadrop/core/gateway"
	"github.com/cordum/mediadrop/core/infra/buildinfo"
	"github.com/cordum/mediadrop/core/infra/bus"
	"github.com/cordum/mediadrop/core/infra/config"
	"github.com/cordum/mediadrop/core/infra/logging"
	infraMetrics "github.com/cordum/mediadrop/core/infra/metrics"
	"github.com/cordum/mediadrop/core/infra/redisutil"
	"github.com/cordum/mediadrop/core/lifecycle"
	"github.com/cordum/mediadrop/core/storage"
)

const (
	service          = "mediadrop"
	metricsNamespace = "mediadrop"
)

func main() {
	buildinfo.Log(service)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, config.Load()); err != nil {
		logging.Error(service, "exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	lc, err := config.LoadLifecycle(cfg.LifecyclePath)
	if err != nil {
		logging.Warn(service, "using default lifecycle config", "path", cfg.LifecyclePath, "error", err)
	}
	lc.ApplyOverrides(cfg)

	remote, err := newRemote(cfg.Remote)
	if err != nil {
		return err
	}
	local, err := storage.NewLocalTier(cfg.DownloadDir)
	if err != nil {
		return fmt.Errorf("prepare download dir: %w", err)
	}
	tier := storage.NewTier(local, remote, storage.WithKeepLocal(cfg.KeepLocalFiles))

	index, closeIndex, err := newIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	events, closeEvents := newPublisher(cfg.NatsURL)
	defer closeEvents()

	lifecycleMetrics := infraMetrics.NewProm(metricsNamespace)
	yt := extract.New(extract.WithCookieFile(cfg.CookieFile))
	manager, err := lifecycle.NewManager(lifecycle.Deps{
		Tier:       tier,
		Index:      index,
		Downloader: yt,
		Extractor:  yt,
		Metrics:    lifecycleMetrics,
		Events:     events,
	}, lifecycle.OptionsFromConfig(lc))
	if err != nil {
		return err
	}

	go serveMetrics(ctx, cfg.MetricsAddr)

	manager.Sweeper().Start(ctx)
	logging.Info(service, "lifecycle started",
		"expiry", lc.Expiry(), "remote", tier.RemoteEnabled(), "keep_local", tier.KeepLocal(), "redis_index", cfg.UseRedisCache)

	api := gateway.New(manager, infraMetrics.NewGatewayProm(metricsNamespace))
	serveErr := gateway.ListenAndServe(ctx, cfg.HTTPAddr, api.Handler())

	logging.Info(service, "shutting down")
	manager.Sweeper().Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), lc.DrainUploadWait()+30*time.Second)
	defer cancel()
	if err := manager.Drain(drainCtx); err != nil {
		logging.Warn(service, "drain incomplete", "error", err)
	}
	return serveErr
}

// newRemote picks the object-store backend once. Enabled offload without
// credentials is fatal.
func newRemote(cfg config.RemoteConfig) (storage.RemoteBackend, error) {
	if !cfg.Enabled {
		return storage.Disabled{}, nil
	}
	backend, err := storage.NewS3Backend(cfg)
	if err != nil {
		return nil, fmt.Errorf("remote storage: %w", err)
	}
	logging.Info(service, "remote storage enabled", "bucket", cfg.Bucket, "endpoint", cfg.ResolvedEndpoint())
	return backend, nil
}

func newIndex(ctx context.Context, cfg *config.Config) (urlindex.Index, func(), error) {
	if !cfg.UseRedisCache {
		return urlindex.NewMemoryIndex(), func() {}, nil
	}
	client, err := redisutil.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return urlindex.NewRedisIndex(client), func() { _ = client.Close() }, nil
}

// newPublisher falls back to dropping events when NATS is not configured or unreachable.
func newPublisher(url string) (bus.Publisher, func()) {
	if url == "" {
		return bus.Noop{}, func() {}
	}
	pub, err := bus.NewNatsPublisher(url)
	if err != nil {
		logging.Warn(service, "lifecycle events disabled", "error", err)
		return bus.Noop{}, func() {}
	}
	return pub, pub.Close
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", infraMetrics.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logging.Info(service, "metrics listening", "addr", addr+"/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error(service, "metrics server error", "error", err)
	}
}
