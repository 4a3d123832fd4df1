package congestion

import (
	"context"
	"time"

	"hyperfetch/internal/network"
)

// Benchmarks holds the normalization anchors the tracker's score formula
// uses in place of its fixed 10 MB/s / 1000ms defaults, once a real link
// measurement is available.
type Benchmarks struct {
	ExcellentSpeedBps float64
	PoorLatency       time.Duration
}

// Calibrate runs a one-shot link benchmark and derives Benchmarks from the
// measured download speed and ping. It never runs on the hot download
// path — callers invoke it once at startup when Config.SpeedTestOnBoot is
// set, then feed the result into tracker.Tracker.SetBenchmarks.
func Calibrate(ctx context.Context) (Benchmarks, error) {
	result, err := network.RunLinkBenchmark(ctx)
	if err != nil {
		return Benchmarks{}, err
	}
	return Benchmarks{
		ExcellentSpeedBps: result.DownloadSpeedBps,
		PoorLatency:       result.Latency,
	}, nil
}
