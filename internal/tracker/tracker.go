// Package tracker maintains per-endpoint running performance statistics
// (speed, latency, success rate) and scores them to rank download
// candidates.
package tracker

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// MaxServersTracked is the default capacity before eviction kicks in.
	MaxServersTracked = 100
	// evictDownTo is the target count after an eviction pass at the default
	// capacity, leaving a buffer so eviction doesn't thrash on every insert.
	// Other capacities are evicted down to the same 90% proportion.
	evictDownTo = 90

	sampleWindow = 10

	excellentSpeedBps   = 10 * 1024 * 1024 // 10 MB/s
	poorLatencyDuration = 1000 * time.Millisecond

	neutralScore = 0.5
)

// Stats is a point-in-time snapshot of one endpoint's tracked performance.
// Returned by copy; safe to read without further locking.
type Stats struct {
	URL                string
	AverageSpeed       float64 // bytes/sec, mean of the last sampleWindow successes
	SuccessRate        float64
	AverageResponse    time.Duration
	TotalAttempts      int64
	Successful         int64
	Failed             int64
	LastUpdated        time.Time
}

type endpointStats struct {
	mu sync.Mutex

	url         string
	speeds      ringBuffer
	latencies   ringBuffer
	avgSpeed    float64
	avgLatency  time.Duration
	successful  int64
	failed      int64
	lastUpdated time.Time
}

func newEndpointStats(url string) *endpointStats {
	return &endpointStats{
		url:         url,
		speeds:      newRingBuffer(sampleWindow),
		latencies:   newRingBuffer(sampleWindow),
		lastUpdated: time.Now(),
	}
}

func (e *endpointStats) recordSuccess(speedBps float64, responseTime time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.speeds.push(speedBps)
	e.latencies.push(float64(responseTime))
	e.avgSpeed = e.speeds.mean()
	e.avgLatency = time.Duration(e.latencies.mean())
	e.successful++
	e.lastUpdated = time.Now()
}

func (e *endpointStats) recordFailure(responseTime time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.latencies.push(float64(responseTime))
	e.avgLatency = time.Duration(e.latencies.mean())
	e.failed++
	e.lastUpdated = time.Now()
}

func (e *endpointStats) snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.successful + e.failed
	successRate := neutralScore
	if total > 0 {
		successRate = float64(e.successful) / float64(total)
	}
	return Stats{
		URL:             e.url,
		AverageSpeed:    e.avgSpeed,
		SuccessRate:     successRate,
		AverageResponse: e.avgLatency,
		TotalAttempts:   total,
		Successful:      e.successful,
		Failed:          e.failed,
		LastUpdated:     e.lastUpdated,
	}
}

func (e *endpointStats) score(excellentSpeedBps float64, poorLatency time.Duration) float64 {
	e.mu.Lock()
	total := e.successful + e.failed
	avgSpeed := e.avgSpeed
	avgLatency := e.avgLatency
	e.mu.Unlock()

	if total == 0 {
		return neutralScore
	}
	successRate := float64(e.successful) / float64(total)
	return computeScore(avgSpeed, successRate, avgLatency, excellentSpeedBps, poorLatency)
}

func computeScore(speedBps, successRate float64, latency time.Duration, excellentSpeedBps float64, poorLatency time.Duration) float64 {
	normSpeed := clamp01(speedBps / excellentSpeedBps)
	normLatency := clamp01(float64(latency) / float64(poorLatency))
	return 0.4*normSpeed + 0.4*successRate + 0.2*(1-normLatency)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Tracker holds per-endpoint Stats behind fine-grained, per-entry locks.
// Concurrent reads and writes on different endpoints never contend.
type Tracker struct {
	mu        sync.RWMutex
	endpoints map[string]*endpointStats
	maxTrack  int

	// excellentSpeedBps and poorLatency are the score formula's
	// normalization anchors. They default to the package constants but can
	// be replaced with a measured link benchmark via SetBenchmarks.
	excellentSpeedBps float64
	poorLatency       time.Duration
}

// New returns a Tracker with the default capacity (MaxServersTracked) and
// the package's default scoring benchmarks.
func New() *Tracker {
	return &Tracker{
		endpoints:         make(map[string]*endpointStats),
		maxTrack:          MaxServersTracked,
		excellentSpeedBps: excellentSpeedBps,
		poorLatency:       poorLatencyDuration,
	}
}

// SetBenchmarks replaces the score formula's normalization anchors, e.g.
// with the result of a startup link calibration. Zero values are ignored
// so a partial or failed calibration can't zero out scoring.
func (t *Tracker) SetBenchmarks(excellentSpeedBps float64, poorLatency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if excellentSpeedBps > 0 {
		t.excellentSpeedBps = excellentSpeedBps
	}
	if poorLatency > 0 {
		t.poorLatency = poorLatency
	}
}

// NewWithCapacity returns a Tracker that evicts once it holds more than max
// tracked endpoints.
func NewWithCapacity(max int) *Tracker {
	t := New()
	if max > 0 {
		t.maxTrack = max
	}
	return t
}

func (t *Tracker) getOrCreate(url string) *endpointStats {
	t.mu.RLock()
	e, ok := t.endpoints[url]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.endpoints[url]; ok {
		return e
	}
	e = newEndpointStats(url)
	t.endpoints[url] = e
	t.evictIfNeededLocked()
	return e
}

// evictIfNeededLocked must be called with t.mu held for writing.
func (t *Tracker) evictIfNeededLocked() {
	if len(t.endpoints) <= t.maxTrack {
		return
	}
	type kv struct {
		url  string
		last time.Time
	}
	entries := make([]kv, 0, len(t.endpoints))
	for url, e := range t.endpoints {
		e.mu.Lock()
		entries = append(entries, kv{url: url, last: e.lastUpdated})
		e.mu.Unlock()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].last.Before(entries[j].last) })

	toEvict := len(t.endpoints) - t.maxTrack*evictDownTo/MaxServersTracked
	for i := 0; i < toEvict && i < len(entries); i++ {
		delete(t.endpoints, entries[i].url)
	}
}

// RecordSuccess appends a successful observation for url.
func (t *Tracker) RecordSuccess(url string, speedBps float64, responseTime time.Duration) {
	t.getOrCreate(url).recordSuccess(speedBps, responseTime)
}

// RecordFailure appends a failed observation for url.
func (t *Tracker) RecordFailure(url string, responseTime time.Duration) {
	t.getOrCreate(url).recordFailure(responseTime)
}

// Score returns the current score for url, or the neutral 0.5 if url has
// never been observed. Never creates a tracked entry as a side effect.
func (t *Tracker) Score(url string) float64 {
	t.mu.RLock()
	e, ok := t.endpoints[url]
	excellentSpeedBps := t.excellentSpeedBps
	poorLatency := t.poorLatency
	t.mu.RUnlock()
	if !ok {
		return neutralScore
	}
	return e.score(excellentSpeedBps, poorLatency)
}

// Stats returns a snapshot for url, or the zero value with SuccessRate 0.5
// if unobserved.
func (t *Tracker) Stats(url string) Stats {
	t.mu.RLock()
	e, ok := t.endpoints[url]
	t.mu.RUnlock()
	if !ok {
		return Stats{URL: url, SuccessRate: neutralScore}
	}
	return e.snapshot()
}

// Rank returns the top-k urls by score, ties broken by lower average
// latency, then by lexicographic URL — deterministic regardless of
// observation order.
func (t *Tracker) Rank(urls []string, k int) []string {
	type scored struct {
		url     string
		score   float64
		latency time.Duration
	}
	items := make([]scored, 0, len(urls))
	for _, u := range urls {
		st := t.Stats(u)
		items = append(items, scored{url: u, score: t.Score(u), latency: st.AverageResponse})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		if items[i].latency != items[j].latency {
			return items[i].latency < items[j].latency
		}
		return items[i].url < items[j].url
	})

	if k < 0 {
		k = 0
	}
	if k > len(items) {
		k = len(items)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = items[i].url
	}
	return out
}

// Len reports the number of currently tracked endpoints.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.endpoints)
}
