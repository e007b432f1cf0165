// Package server exposes the kvstore admin HTTP surface: the Prometheus
// scrape endpoint, the engine-facing stats endpoint (per-store prefixed
// counters plus per-vBucket file accounting), and readiness.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	healthcheck "github.com/vbkv/kvstore/internal/health"
	"github.com/vbkv/kvstore/internal/metrics"
	"github.com/vbkv/kvstore/internal/storage/diskmanager"
	"github.com/vbkv/kvstore/internal/store"
)

// AdminServer serves the metrics, stats and readiness endpoints for one
// kvstore process and runs the background loop that bridges the store's
// counters into the Prometheus gauges.
type AdminServer struct {
	httpServer *http.Server
	kv         *store.CouchKVStore
	diskGuard  *diskmanager.DiskManager
	health     *healthcheck.HealthChecker
	metrics    *metrics.Metrics
	logger     *zap.Logger
	dataDir    string
	prefix     string
	stopChan   chan struct{}
}

// AdminServerConfig holds configuration for the admin server. StatsPrefix
// namespaces the stats endpoint's counters per store instance (the
// read-write store of shard 0 reports as "rw_0:io_num_write" and so on).
type AdminServerConfig struct {
	Port        int
	DataDir     string
	StatsPrefix string
}

// NewAdminServer creates the admin server around a store instance.
func NewAdminServer(cfg *AdminServerConfig, kv *store.CouchKVStore, dg *diskmanager.DiskManager,
	hc *healthcheck.HealthChecker, m *metrics.Metrics, logger *zap.Logger) *AdminServer {
	mux := http.NewServeMux()

	prefix := cfg.StatsPrefix
	if prefix == "" {
		prefix = "rw_0"
	}

	s := &AdminServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		kv:        kv,
		diskGuard: dg,
		health:    hc,
		metrics:   m,
		logger:    logger,
		dataDir:   cfg.DataDir,
		prefix:    prefix,
		stopChan:  make(chan struct{}),
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/ready", s.readyHandler)

	return s
}

// Start begins serving and starts the stats bridge loop.
func (s *AdminServer) Start() error {
	s.logger.Info("starting admin HTTP server", zap.String("addr", s.httpServer.Addr))

	go s.bridgeLoop()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the admin server and its bridge loop.
func (s *AdminServer) Stop() error {
	s.logger.Info("stopping admin HTTP server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	return nil
}

// statsHandler reports the store's counter surface under its per-store
// prefix, plus file size, space used and deletion counts per persisted
// vBucket.
func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.kv.Stats().Snapshot()
	out := map[string]interface{}{
		s.prefix + ":io_num_write":              snap.NumWrites,
		s.prefix + ":io_write_bytes":            snap.WriteBytes,
		s.prefix + ":io_total_write_bytes":      snap.TotalWriteBytes,
		s.prefix + ":io_compaction_write_bytes": snap.CompactionWriteBytes,
		s.prefix + ":numGetFailure":             snap.GetFailures,
		s.prefix + ":numCompactionFailure":      snap.CompactionFailures,
	}
	for _, vbid := range s.kv.ListPersistedVBuckets() {
		info, err := s.kv.GetDbFileInfo(vbid)
		if err != nil {
			continue
		}
		vb := fmt.Sprintf("%s:vb_%d", s.prefix, vbid)
		out[vb+":file_size"] = info.FileSize
		out[vb+":space_used"] = info.SpaceUsed
		out[vb+":deletes"] = info.DeleteCount
		out[vb+":items"] = info.ItemCount
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

// readyHandler reports readiness: the health checker's verdict plus a
// direct disk headroom check, since a full disk fails the next commit
// regardless of what the last probe cycle saw.
func (s *AdminServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.health != nil && !s.health.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not_ready","reason":"health_checks_failing"}`)
		return
	}

	diskUsage, diskAvailable, err := s.getDiskStats()
	if err != nil {
		s.logger.Error("failed to get disk stats", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not_ready","reason":"disk_stats_unavailable"}`)
		return
	}
	diskUsagePercent := float64(diskUsage) / float64(diskUsage+diskAvailable) * 100
	if diskUsagePercent > 90.0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not_ready","reason":"disk_full","disk_usage_percent":%.2f}`, diskUsagePercent)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","vbuckets":%d,"disk_usage_percent":%.2f}`,
		len(s.kv.ListPersistedVBuckets()), diskUsagePercent)
}

// bridgeLoop periodically folds the store's state into the Prometheus
// gauges and the health report.
func (s *AdminServer) bridgeLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.bridgeOnce()
		case <-s.stopChan:
			return
		}
	}
}

func (s *AdminServer) bridgeOnce() {
	diskUsage, diskAvailable, err := s.getDiskStats()
	if err != nil {
		s.logger.Error("failed to get disk stats", zap.Error(err))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	s.metrics.UpdateSystemStats(diskUsage, diskAvailable, int64(memStats.Alloc), runtime.NumGoroutine())

	if s.diskGuard != nil {
		usage := s.diskGuard.GetDiskUsage()
		s.metrics.UpdateDiskGuardState(usage.IsThrottled, usage.IsCircuitBroken)
	}

	vbuckets := s.kv.ListPersistedVBuckets()
	for _, vbid := range vbuckets {
		if info, err := s.kv.GetDbFileInfo(vbid); err == nil {
			s.metrics.UpdateRevisionStats(fmt.Sprintf("%d", vbid), info.FileSize, int64(info.ItemCount))
		}
	}

	if s.health != nil {
		snap := s.kv.Stats().Snapshot()
		s.health.SetStoreMetrics(len(vbuckets), snap.CompactionFailures, snap.GetFailures)
	}
}

// getDiskStats returns disk usage statistics for the data directory.
func (s *AdminServer) getDiskStats() (used int64, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	available = int64(stat.Bavail) * int64(stat.Bsize)
	total := int64(stat.Blocks) * int64(stat.Bsize)
	used = total - int64(stat.Bfree)*int64(stat.Bsize)

	return used, available, nil
}
