// Command wgfleetd runs the WireGuard fleet control plane: it reconciles
// each configured fleet's kernel interface at startup, serves the
// register/heartbeat HTTP surface, and periodically prunes stale clients.
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
	"path/filepath"
	"syscall"
	"time"

	"wgfleet/internal/api"
	"wgfleet/internal/config"
	"wgfleet/internal/driver/kernel"
	"wgfleet/internal/events"
	"wgfleet/internal/fleet"
	"wgfleet/internal/logging"
	"wgfleet/internal/publish"
	"wgfleet/internal/reconcile"
	"wgfleet/internal/registry/sqlite"
)

// shutdownGrace bounds how long the HTTP server is given to drain
// in-flight requests when a shutdown signal arrives. The pruner's Stop is
// not bounded by it: Stop waits for a running prune cycle to finish.
const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("wgfleetd exiting", "err", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "/etc/wgfleet/config.yaml", "path to the YAML configuration file")
		dataDir    = flag.String("data-dir", "/var/lib/wgfleet", "directory for the registry database and published artifacts")
		listenAddr = flag.String("listen", ":8443", "HTTP listen address")
		logLevel   = flag.String("log-level", logging.LevelInfo, "log level: debug, info, warn, error")
	)
	flag.Parse()

	if err := logging.Configure(*logLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.Open(filepath.Join(*dataDir, "registry.db"))
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer store.Close()

	drv := kernel.New(filepath.Join(*dataDir, "interfaces"))

	hostsPub := publish.NewHostsPublisher(publish.DefaultHostsPath(*dataDir))
	discoPub := publish.NewServiceDiscoPublisher(publish.DefaultServiceDiscoPath(*dataDir))
	bus := events.New(
		publish.Subscriber(hostsPub, store, cfg),
		publish.Subscriber(discoPub, store, cfg),
	)

	reconciler := &reconcile.Reconciler{Store: store, Driver: drv, Config: cfg, Bus: bus}
	if err := reconciler.Run(context.Background()); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	pruner := &reconcile.Pruner{Store: store, Driver: drv, Config: cfg, Bus: bus}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := pruner.Start(ctx); err != nil {
		return fmt.Errorf("start pruner: %w", err)
	}
	defer pruner.Stop()

	handler := &fleet.Handler{Store: store, Driver: drv, Config: cfg, Bus: bus}
	server := api.New(*listenAddr, handler)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("wgfleetd listening", "addr", *listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		if err := server.Shutdown(shutdownGrace); err != nil {
			slog.Error("http shutdown", "err", err)
		}
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	return nil
}
