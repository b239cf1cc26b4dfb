// Command peernode runs a standalone peer-to-peer network node: it
// loads configuration, bootstraps its TLS identity, and accepts and
// dials connections until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/config"
	"github.com/chainward/peernode/internal/hub"
	"github.com/chainward/peernode/internal/logger"
	"github.com/chainward/peernode/internal/metrics"
	"github.com/chainward/peernode/internal/peer"
	"github.com/chainward/peernode/internal/recentcache"
	"github.com/chainward/peernode/internal/signals"
	"github.com/chainward/peernode/internal/tlsboot"
	"github.com/chainward/peernode/internal/wire"
)

func main() {
	configPath := flag.String("config", "peernode.json", "path to the node's JSON configuration file")
	autoRegenerateTLS := flag.Bool("tls-auto-regenerate", false, "authorize overwriting an existing TLS identity that fails to load or validate")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peernode: loading config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "peernode: invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Filename:   cfg.Logging.Filename,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "peernode: initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("creating data directory", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metricsRegistry, err := metrics.New(cfg.Metrics.Namespace, reg)
	if err != nil {
		log.Fatal("initializing metrics", zap.Error(err))
	}

	cache, err := recentcache.New(time.Duration(cfg.RecentCache.TTLMinutes) * time.Minute)
	if err != nil {
		log.Fatal("initializing recent-address cache", zap.Error(err))
	}
	defer func() { _ = cache.Close() }()

	if *autoRegenerateTLS {
		cfg.TLS.AutoRegenerate = true
	}
	material, err := tlsboot.EnsureMaterial(filepath.Join(cfg.DataDir, cfg.TLS.Directory), cfg.TLS.KeyPassword, cfg.TLS.AutoRegenerate)
	if err != nil {
		log.Fatal("bootstrapping TLS identity; rerun with -tls-auto-regenerate to authorize replacing it", zap.Error(err))
	}

	onMessage := func(p *peer.Peer, msg wire.Message) {
		dir := metrics.DirectionInbound
		if p.Direction().IsOutbound() {
			dir = metrics.DirectionOutbound
		}
		metricsRegistry.ObserveMessage(msg.Kind(), dir)
	}

	h, err := hub.New(cfg, log, metricsRegistry, cache, material, onMessage)
	if err != nil {
		log.Fatal("constructing hub", zap.Error(err))
	}

	ctx, cancel := signals.Watch(context.Background(), log)
	defer cancel()

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if err := h.Start(ctx); err != nil {
		log.Fatal("starting hub", zap.Error(err))
	}

	log.Info("peernode started",
		zap.String("local_endpoint", cfg.Network.LocalEndpoint),
		zap.String("magic", cfg.Network.MagicHex),
		zap.Int("max_peers", cfg.Network.MaxPeers))

	h.Wait()
	log.Info("peernode stopped")
}
