// Command kvstore runs a persistence-core process: it loads configuration,
// opens the CouchKVStore for the configured data directory, and exposes an
// admin surface (health checks, Prometheus metrics, gRPC health +
// reflection) around it. The KVStore API itself is an embedded library
// boundary, not a network service; callers in the same process open it
// directly via internal/store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vbkv/kvstore/internal/config"
	healthcheck "github.com/vbkv/kvstore/internal/health"
	"github.com/vbkv/kvstore/internal/metrics"
	adminserver "github.com/vbkv/kvstore/internal/server"
	"github.com/vbkv/kvstore/internal/storage/diskmanager"
	"github.com/vbkv/kvstore/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/kvstore/config.yaml", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	diskGuard, err := diskmanager.NewDiskManager(diskmanager.DefaultConfig(cfg.Storage.DataDir), logger)
	if err != nil {
		logger.Fatal("failed to start disk guard", zap.Error(err))
	}

	kv, err := store.New(store.Config{
		DataDir:           cfg.Storage.DataDir,
		NumVBuckets:       uint16(cfg.Storage.NumVBuckets),
		BloomFPRate:       cfg.Storage.BloomFilterFP,
		ExpectedItemsHint: cfg.Storage.ExpectedItemsHint,
		DeletionWorkers:   cfg.Revision.DeletionWorkers,
		DeletionQueueSize: cfg.Revision.DeletionQueueSize,
		Logger:            logger,
		DiskGuard:         diskGuard,
	})
	if err != nil {
		logger.Fatal("failed to open kvstore", zap.Error(err))
	}

	m := metrics.NewMetrics(cfg.Server.NodeID)

	hc := healthcheck.NewHealthChecker(&healthcheck.HealthCheckConfig{
		NodeID:  cfg.Server.NodeID,
		DataDir: cfg.Storage.DataDir,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hc.Start(ctx)

	var adminSrv *adminserver.AdminServer
	if cfg.Metrics.Enabled {
		adminSrv = adminserver.NewAdminServer(&adminserver.AdminServerConfig{
			Port:        cfg.Metrics.Port,
			DataDir:     cfg.Storage.DataDir,
			StatsPrefix: "rw_0",
		}, kv, diskGuard, hc, m, logger)
		if err := adminSrv.Start(); err != nil {
			logger.Fatal("failed to start admin server", zap.Error(err))
		}
	}

	grpcSrv := grpc.NewServer()
	grpcHealth := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, grpcHealth)
	reflection.Register(grpcSrv)
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}
	go func() {
		logger.Info("serving admin gRPC surface", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("admin gRPC server stopped", zap.Error(err))
		}
	}()

	logger.Info("kvstore started",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Int("num_vbuckets", cfg.Storage.NumVBuckets))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	hc.SetReadiness(false)
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.Server.ShutdownTimeout):
		grpcSrv.Stop()
	}

	if adminSrv != nil {
		if err := adminSrv.Stop(); err != nil {
			logger.Warn("error stopping admin server", zap.Error(err))
		}
	}

	cancel()
	if err := kv.Close(); err != nil {
		logger.Warn("error closing kvstore", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
