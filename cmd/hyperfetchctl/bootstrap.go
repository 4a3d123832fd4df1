package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hyperfetch/internal/config"
	"hyperfetch/internal/congestion"
	"hyperfetch/internal/logger"
	"hyperfetch/internal/mapper"
	"hyperfetch/internal/network"
	"hyperfetch/internal/scheduler"
	"hyperfetch/internal/storage"
	"hyperfetch/internal/tracker"

	"log/slog"
)

// calibrationTimeout bounds the optional startup link benchmark; a full
// ping+download measurement against a speedtest.net server can take tens
// of seconds, well past the connect timeout (Config.Timeout) used for
// mirror requests.
const calibrationTimeout = 60 * time.Second

// app bundles the wired core subsystems one CLI invocation needs.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	logFile     *os.File
	mapper      *mapper.Mapper
	tracker     *tracker.Tracker
	coordinator *scheduler.Coordinator
	store       *storage.Storage
}

func bootstrap(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lg, logFile, err := logger.New(os.Stderr, cfg.LogDir, logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	m, err := mapper.New(cfg.MapperRuleConfigs(), cfg.MapperConfig())
	if err != nil {
		return nil, fmt.Errorf("init mapper: %w", err)
	}

	tr := tracker.New()
	if cfg.SpeedTestOnBoot {
		calibrateCtx, cancel := context.WithTimeout(context.Background(), calibrationTimeout)
		benchmarks, err := congestion.Calibrate(calibrateCtx)
		cancel()
		if err != nil {
			lg.Warn("startup link calibration failed, keeping default scoring benchmarks", "error", err)
		} else {
			tr.SetBenchmarks(benchmarks.ExcellentSpeedBps, benchmarks.PoorLatency)
			lg.Info("link calibration complete", "download_bps", benchmarks.ExcellentSpeedBps, "latency", benchmarks.PoorLatency)
		}
	}

	transport := network.NewHTTPClient(cfg.UserAgent, cfg.Timeout)

	coordinator := scheduler.New(m, tr, transport)
	coordinator.CongestionConfig = congestion.Config{
		N0:                      4,
		NMin:                    1,
		NMax:                    32,
		MinChunkSize:            cfg.MinChunkSize,
		MaxChunkSize:            cfg.MaxChunkSize,
		InitialChunkSize:        cfg.ChunkSize,
		ErrorBurstThreshold:     5,
		ErrorBurstWindow:        time.Second,
		ThroughputDropThreshold: 0.30,
		BackoffCooldown:         10 * time.Second,
		ProbeInterval:           5 * time.Second,
		ProbeChunks:             20,
		ProbeAcceptThreshold:    0.05,
		TargetChunkDurationMin:  time.Second,
		TargetChunkDurationMax:  5 * time.Second,
	}
	if !cfg.AdaptiveChunking {
		coordinator.CongestionConfig.MinChunkSize = coordinator.CongestionConfig.InitialChunkSize
		coordinator.CongestionConfig.MaxChunkSize = coordinator.CongestionConfig.InitialChunkSize
	}

	if cfg.BandwidthLimit > 0 {
		coordinator.BandwidthManager.SetLimit(int(cfg.BandwidthLimit))
	}

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = "hyperfetch.db"
	}
	if err := os.MkdirAll(absOrDot(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare database directory: %w", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{
		cfg:         cfg,
		logger:      lg,
		logFile:     logFile,
		mapper:      m,
		tracker:     tr,
		coordinator: coordinator,
		store:       store,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func absOrDot(path string) string {
	dir := filepath.Dir(path)
	if dir == "" {
		return "."
	}
	return dir
}
