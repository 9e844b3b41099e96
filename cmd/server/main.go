// ShutterLink Server
//
// Features:
// - Embedded FTP endpoint for camera uploads (per-session credentials)
// - Filesystem watcher with write-stability detection
// - Magic-number image validation
// - Retrying cloud upload relay with JPEG fallback
// - SSE real-time ingest events
// - Offline album mutation queue with replay
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/api"
	"github.com/shutterlink/shutterlink/internal/catalog"
	"github.com/shutterlink/shutterlink/internal/config"
	"github.com/shutterlink/shutterlink/internal/events"
	"github.com/shutterlink/shutterlink/internal/ingest"
	"github.com/shutterlink/shutterlink/internal/library"
	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/metrics"
	"github.com/shutterlink/shutterlink/internal/relay"
	"github.com/shutterlink/shutterlink/internal/retry"
	"github.com/shutterlink/shutterlink/internal/session"
	s3storage "github.com/shutterlink/shutterlink/internal/storage/s3"
	"github.com/shutterlink/shutterlink/internal/syncqueue"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("ShutterLink Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential registry (persists the FTP password across restarts)
	registry, err := session.NewRegistry(cfg.DataDir)
	if err != nil {
		logging.Fatal("session registry init failed", zap.Error(err))
	}

	// Local media library
	lib, err := library.Open(cfg.DataDir)
	if err != nil {
		logging.Fatal("media library init failed", zap.Error(err))
	}
	defer lib.Close()

	// Offline sync queue
	queue, err := syncqueue.Open(cfg.DataDir)
	if err != nil {
		logging.Fatal("sync queue init failed", zap.Error(err))
	}

	// Cloud object store
	store, err := s3storage.New(ctx, s3storage.BackendConfig{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logging.Fatal("object store init failed", zap.Error(err))
	}
	defer store.Close()

	// Remote catalog API
	catalogClient := catalog.New(catalog.Config{BaseURL: cfg.CatalogURL})

	// SSE broadcaster
	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	// Upload relay
	uploader := relay.New(store, catalogClient, broadcaster, lib, cfg.UploadFolder, retry.DefaultConfig())

	// Ingest orchestrator (FTP server + watcher lifecycle)
	ingestSvc := ingest.New(registry, uploader, broadcaster, cfg.FTPPort, cfg.FTPPasvRange)
	defer ingestSvc.CloseServer()

	// Control plane
	srv := api.New(ingestSvc, registry, uploader, broadcaster, catalogClient, queue)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Routes(),
	}

	// Graceful shutdown: push any queued album mutations out while we
	// still have a token, then drop sessions and close the listeners.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		finalFlush(queue, registry, catalogClient, catalogClient)
		ingestSvc.ResetAll()
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Periodic sync queue flush: replay offline album mutations whenever
	// the catalog becomes reachable again.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if queue.Len() == 0 {
					continue
				}
				token := latestToken(registry)
				if token == "" {
					continue
				}
				if n, err := queue.Flush(ctx, catalogClient, catalogClient, token); err != nil {
					logging.Error("periodic sync flush failed", zap.Error(err))
				} else if n > 0 {
					logging.Info("periodic sync flush completed", zap.Int("flushed", n))
				}
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

// latestToken returns a bearer token from any stored session. Album
// mutations queued offline carry no token of their own, so the replay
// borrows the active user's.
func latestToken(registry *session.Registry) string {
	for _, sess := range registry.All() {
		if sess.Token != "" {
			return sess.Token
		}
	}
	return ""
}

// finalFlush makes one best-effort, time-bounded attempt to replay the
// offline queue before exit. Failures only log; shutdown proceeds and
// the queue file keeps whatever could not be delivered.
func finalFlush(queue *syncqueue.Queue, registry *session.Registry, checker syncqueue.Checker, remote syncqueue.Remote) {
	if queue.Len() == 0 {
		return
	}
	token := latestToken(registry)
	if token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := queue.Flush(ctx, checker, remote, token); err != nil {
		logging.Error("final sync flush failed", zap.Error(err))
	} else if n > 0 {
		logging.Info("final sync flush completed", zap.Int("flushed", n))
	}
}
