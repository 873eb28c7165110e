package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/packet-parser/internal/app"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/ingest"
	"github.com/joseph-ayodele/packet-parser/internal/logger"
	"github.com/joseph-ayodele/packet-parser/internal/server"
)

func main() {
	cfg, err := common.LoadConfig(os.Getenv("PACKET_CONFIG"))
	if err != nil {
		logger.Init(logger.Config{}).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.Disabled {
		log.Warn("authentication is disabled; owners come from the X-Owner-ID header")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}
	if err := a.Health(ctx); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// pick up parses a previous process left behind
	if err := a.Manager.Recover(ctx, cfg.Pipeline.RunTimeout); err != nil {
		log.Warn("recovery failed", "error", err)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: server.NewRouter(a.Manager, a.Exporter, server.RouterConfig{
			Auth:   cfg.Auth,
			Health: a.Health,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, healthServer := server.NewGRPCServer(log)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	if len(cfg.Inbox.Dirs) > 0 {
		inbox := ingest.NewFSIngestor(a.Manager, a.KV, cfg.Inbox.OwnerID, cfg.Inbox.DedupTTL, log)
		g.Go(func() error {
			return inbox.Watch(gctx, ingest.WatchConfig{Roots: cfg.Inbox.Dirs, InitialScan: true, Debounce: cfg.Inbox.Debounce})
		})
	}
	g.Go(func() error {
		a.Manager.RunJanitor(gctx, cfg.Pipeline.JanitorInterval, a.Sweepers...)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		return a.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
