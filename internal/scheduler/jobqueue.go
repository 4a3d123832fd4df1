package scheduler

import (
	"net/url"
	"sort"
	"sync"
)

// QueuedJob is one caller-submitted job waiting for a dispatch slot.
type QueuedJob struct {
	ID          string
	URL         string
	QueueOrder  int
	Priority    int // higher runs first among otherwise-equal jobs
}

// JobQueue holds jobs waiting to start, ordered by descending Priority and
// then by QueueOrder, and lets a HostLimiter enforce a global
// MaxConcurrentDownloads bound plus
// per-host soft limits across simultaneous jobs in one process. This sits
// above Coordinator.Download, which remains single-job: it only decides
// *when* a queued job's Download call is allowed to start.
type JobQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	jobs     []QueuedJob
	nextOrder int
}

// NewJobQueue returns an empty, ready-to-use JobQueue.
func NewJobQueue() *JobQueue {
	q := &JobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues job, assigning it the next sequential QueueOrder if unset.
func (q *JobQueue) Push(job QueuedJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.QueueOrder == 0 {
		q.nextOrder++
		job.QueueOrder = q.nextOrder
	}
	q.jobs = append(q.jobs, job)
	sort.SliceStable(q.jobs, func(i, j int) bool {
		if q.jobs[i].Priority != q.jobs[j].Priority {
			return q.jobs[i].Priority > q.jobs[j].Priority
		}
		return q.jobs[i].QueueOrder < q.jobs[j].QueueOrder
	})
	q.cond.Signal()
}

// Len reports the number of queued (not yet dispatched) jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *JobQueue) remove(id string) (QueuedJob, bool) {
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return j, true
		}
	}
	return QueuedJob{}, false
}

// HostLimiter enforces a global concurrency cap and optional per-host caps
// over the JobQueue, grounded on the same smart-scheduling shape as a
// per-domain active-download tracker.
type HostLimiter struct {
	mu            sync.Mutex
	queue         *JobQueue
	maxConcurrent int
	hostLimits    map[string]int
	activePerHost map[string]int
	active        int
}

// NewHostLimiter wraps queue with a global concurrency bound.
func NewHostLimiter(queue *JobQueue, maxConcurrent int) *HostLimiter {
	return &HostLimiter{
		queue:         queue,
		maxConcurrent: maxConcurrent,
		hostLimits:    make(map[string]int),
		activePerHost: make(map[string]int),
	}
}

// SetHostLimit bounds concurrent active jobs for a given host; 0 means
// unlimited.
func (h *HostLimiter) SetHostLimit(host string, limit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hostLimits[host] = limit
}

// Next pops and returns the next job eligible to start given current global
// and per-host activity, or ok=false if none is currently eligible.
func (h *HostLimiter) Next() (QueuedJob, bool) {
	h.mu.Lock()
	if h.maxConcurrent > 0 && h.active >= h.maxConcurrent {
		h.mu.Unlock()
		return QueuedJob{}, false
	}
	h.mu.Unlock()

	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()

	for _, candidate := range h.queue.jobs {
		host := extractHost(candidate.URL)

		h.mu.Lock()
		limit := h.hostLimits[host]
		active := h.activePerHost[host]
		h.mu.Unlock()

		if limit > 0 && active >= limit {
			continue
		}

		if job, ok := h.queue.remove(candidate.ID); ok {
			h.onStarted(job)
			return job, true
		}
	}
	return QueuedJob{}, false
}

func (h *HostLimiter) onStarted(job QueuedJob) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active++
	h.activePerHost[extractHost(job.URL)]++
}

// OnCompleted must be called once a job started via Next finishes (success
// or failure), freeing its concurrency slot.
func (h *HostLimiter) OnCompleted(job QueuedJob) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active > 0 {
		h.active--
	}
	host := extractHost(job.URL)
	if h.activePerHost[host] > 0 {
		h.activePerHost[host]--
	}
}

func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
