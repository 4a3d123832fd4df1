package network

import (
	"context"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// LinkBenchmarkResult summarizes a one-shot measurement of the link's
// downstream capacity, used (via congestion.Calibrate) to seed the
// tracker's scoring normalization anchors instead of its fixed defaults.
type LinkBenchmarkResult struct {
	DownloadSpeedBps float64
	Latency          time.Duration
	Jitter           time.Duration
	ServerName       string
	ServerHost       string
	ISP              string
	MeasuredAt       time.Time
}

// BenchmarkPhase reports progress through RunLinkBenchmarkWithEvents, for
// callers that want to print a line per phase instead of blocking silently.
type BenchmarkPhase struct {
	Phase            string // "connecting", "ping", "download", "complete"
	Latency          time.Duration
	DownloadSpeedBps float64
	ServerName       string
	ISP              string
}

// PhaseCallback is invoked once per phase transition of a link benchmark.
type PhaseCallback func(phase BenchmarkPhase)

// RunLinkBenchmark measures downstream throughput and latency against the
// nearest available speedtest.net server. Callers should bound ctx with a
// deadline; a full measurement (ping + download) can take tens of seconds.
func RunLinkBenchmark(ctx context.Context) (*LinkBenchmarkResult, error) {
	return RunLinkBenchmarkWithEvents(ctx, nil)
}

// RunLinkBenchmarkWithEvents is RunLinkBenchmark with phase progress
// reported through onPhase as each stage completes.
func RunLinkBenchmarkWithEvents(ctx context.Context, onPhase PhaseCallback) (*LinkBenchmarkResult, error) {
	if onPhase != nil {
		onPhase(BenchmarkPhase{Phase: "connecting"})
	}

	user, err := speedtest.FetchUserInfo()
	if err != nil {
		return nil, fmt.Errorf("link benchmark: no internet connection: %w", err)
	}

	serverList, err := speedtest.FetchServers()
	if err != nil {
		return nil, fmt.Errorf("link benchmark: fetch servers: %w", err)
	}

	targets, err := serverList.FindServer(nil)
	if err != nil || len(targets) == 0 {
		return nil, fmt.Errorf("link benchmark: no servers available")
	}
	server := targets[0]

	if onPhase != nil {
		onPhase(BenchmarkPhase{Phase: "ping", ServerName: server.Name, ISP: user.Isp})
	}

	if err := server.PingTestContext(ctx, nil); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("link benchmark: timed out during ping: %w", ctx.Err())
		}
		return nil, fmt.Errorf("link benchmark: ping test failed: %w", err)
	}

	if onPhase != nil {
		onPhase(BenchmarkPhase{Phase: "download", Latency: server.Latency, ServerName: server.Name, ISP: user.Isp})
	}

	if err := server.DownloadTestContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("link benchmark: timed out during download: %w", ctx.Err())
		}
		return nil, fmt.Errorf("link benchmark: download test failed: %w", err)
	}

	// server.DLSpeed is already bytes/sec, matching the bytes/sec anchors
	// the tracker's score formula normalizes against.
	downloadBps := float64(server.DLSpeed)

	result := &LinkBenchmarkResult{
		DownloadSpeedBps: downloadBps,
		Latency:          server.Latency,
		Jitter:           server.Jitter,
		ServerName:       server.Name,
		ServerHost:       server.Host,
		ISP:              user.Isp,
		MeasuredAt:       time.Now(),
	}

	if onPhase != nil {
		onPhase(BenchmarkPhase{
			Phase:            "complete",
			Latency:          server.Latency,
			DownloadSpeedBps: downloadBps,
			ServerName:       server.Name,
			ISP:              user.Isp,
		})
	}

	return result, nil
}
