// Package jobmanager tracks in-flight and completed download jobs,
// running each one asynchronously through a scheduler.Coordinator and
// persisting resumable state via storage.Storage.
package jobmanager

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"hyperfetch/internal/mapper"
	"hyperfetch/internal/scheduler"
	"hyperfetch/internal/storage"
)

// State is a job's coarse lifecycle stage, mirrored into storage.JobRecord.Status.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Job is the manager's in-memory view of one submitted download.
type Job struct {
	ID           string
	URL          string
	OutputPath   string
	State        State
	Error        string
	SizeBytes    int64
	ThroughputBps float64
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Manager runs submitted jobs one goroutine each, bounded by a
// scheduler.HostLimiter-backed queue so MaxConcurrentDownloads is
// respected across jobs in the same process.
type Manager struct {
	coordinator *scheduler.Coordinator
	store       *storage.Storage
	region      mapper.Region

	mu   sync.RWMutex
	jobs map[string]*Job

	limiter *scheduler.HostLimiter
	queue   *scheduler.JobQueue
}

// New builds a Manager that dispatches through coordinator, persists
// resume state via store, and admits up to maxConcurrent jobs at once.
func New(coordinator *scheduler.Coordinator, store *storage.Storage, region mapper.Region, maxConcurrent int) *Manager {
	q := scheduler.NewJobQueue()
	return &Manager{
		coordinator: coordinator,
		store:       store,
		region:      region,
		jobs:        make(map[string]*Job),
		queue:       q,
		limiter:     scheduler.NewHostLimiter(q, maxConcurrent),
	}
}

// Submit enqueues url for download to outputPath and returns its job ID
// immediately; the transfer itself runs in a background goroutine.
func (m *Manager) Submit(ctx context.Context, url, outputPath string, priority int) (string, error) {
	id := uuid.New().String()
	job := &Job{ID: id, URL: url, OutputPath: outputPath, State: StatePending, StartedAt: time.Now()}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	if m.store != nil {
		rec := &storage.JobRecord{
			ID:           id,
			CanonicalURL: url,
			OutputPath:   outputPath,
			Status:       string(StatePending),
			CreatedAt:    time.Now().Unix(),
			UpdatedAt:    time.Now().Unix(),
		}
		if err := m.store.SaveJob(rec); err != nil {
			return "", fmt.Errorf("jobmanager: persist job: %w", err)
		}
	}

	m.queue.Push(scheduler.QueuedJob{ID: id, URL: url, Priority: priority})
	go m.drain(ctx)

	return id, nil
}

// drain pulls eligible queued jobs and runs them until the queue and
// current concurrency window are both exhausted.
func (m *Manager) drain(ctx context.Context) {
	for {
		qj, ok := m.limiter.Next()
		if !ok {
			return
		}
		go m.run(ctx, qj)
	}
}

func (m *Manager) run(ctx context.Context, qj scheduler.QueuedJob) {
	defer func() {
		m.limiter.OnCompleted(qj)
		// The freed slot may admit a job that was queued behind this one.
		m.drain(ctx)
	}()

	m.mu.Lock()
	job := m.jobs[qj.ID]
	if job != nil {
		job.State = StateInProgress
	}
	m.mu.Unlock()
	m.persistState(qj.ID, StateInProgress, "")

	if m.tryCacheHit(ctx, qj, job) {
		return
	}

	result, err := m.coordinator.Download(ctx, qj.URL, m.region, scheduler.Options{OutputPath: job.OutputPath})

	m.mu.Lock()
	defer m.mu.Unlock()
	job = m.jobs[qj.ID]
	if job == nil {
		return
	}
	job.FinishedAt = time.Now()
	if err != nil {
		job.State = StateFailed
		job.Error = err.Error()
		m.persistState(qj.ID, StateFailed, err.Error())
		return
	}
	job.State = StateCompleted
	job.SizeBytes = result.SizeBytes
	job.ThroughputBps = result.ThroughputBps
	m.persistState(qj.ID, StateCompleted, "")
	if m.store != nil {
		_ = m.store.DeleteJob(qj.ID)
		if result.Fingerprint != "" {
			_ = m.store.CachePut(storage.CacheEntry{
				Fingerprint: result.Fingerprint,
				FilePath:    result.FinalPath,
				SizeBytes:   result.SizeBytes,
				CreatedAt:   time.Now().Unix(),
			})
		}
	}
}

// tryCacheHit short-circuits a download whose content fingerprint already
// has a cached copy on disk, by copying the cached file into place instead
// of re-fetching it from any mirror.
func (m *Manager) tryCacheHit(ctx context.Context, qj scheduler.QueuedJob, job *Job) bool {
	if m.store == nil {
		return false
	}
	fp := m.coordinator.ProbeFingerprint(ctx, qj.URL, m.region, scheduler.Options{})
	if fp == "" {
		return false
	}
	entry, ok, err := m.store.CacheGet(fp)
	if err != nil || !ok {
		return false
	}
	src, err := os.Open(entry.FilePath)
	if err != nil {
		_ = m.store.CacheEvict(fp)
		return false
	}
	defer src.Close()

	dst, err := os.Create(job.OutputPath)
	if err != nil {
		return false
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job = m.jobs[qj.ID]
	if job == nil {
		return true
	}
	job.State = StateCompleted
	job.SizeBytes = n
	job.FinishedAt = time.Now()
	m.persistState(qj.ID, StateCompleted, "")
	if m.store != nil {
		_ = m.store.DeleteJob(qj.ID)
	}
	return true
}

func (m *Manager) persistState(id string, state State, errMsg string) {
	if m.store == nil {
		return
	}
	rec, err := m.store.GetJob(id)
	if err != nil {
		return
	}
	rec.Status = string(state)
	rec.UpdatedAt = time.Now().Unix()
	_ = m.store.SaveJob(rec)
	_ = errMsg // surfaced via in-memory Job.Error only; resume state doesn't need the message
}

// Get returns the current view of a job, or ok=false if unknown.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns a snapshot of every tracked job.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	return out
}
