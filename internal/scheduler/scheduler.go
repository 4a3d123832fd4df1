package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"hyperfetch/internal/congestion"
	"hyperfetch/internal/filesystem"
	"hyperfetch/internal/integrity"
	"hyperfetch/internal/mapper"
	"hyperfetch/internal/network"
	"hyperfetch/internal/tracker"

	"github.com/google/uuid"
)

const probeFanout = 3

// Coordinator is the chunk scheduler & assembler. It owns the end-to-end
// download protocol (probe, plan, dispatch, completion) and is the only
// component depending on all three other core subsystems.
type Coordinator struct {
	Mapper    *mapper.Mapper
	Tracker   *tracker.Tracker
	Transport network.Client
	Allocator *filesystem.Allocator
	Verifier  *integrity.FileVerifier

	CongestionConfig congestion.Config
	BandwidthManager *network.BandwidthManager
}

// New wires a Coordinator from the mapper, tracker and transport it is
// given, plus the default Allocator, Verifier, congestion config and an
// unlimited BandwidthManager. The transport is used as passed; a nil
// transport is not replaced.
func New(m *mapper.Mapper, t *tracker.Tracker, transport network.Client) *Coordinator {
	return &Coordinator{
		Mapper:           m,
		Tracker:          t,
		Transport:        transport,
		Allocator:        filesystem.NewAllocator(),
		Verifier:         integrity.NewFileVerifier(),
		CongestionConfig: congestion.DefaultConfig(),
		BandwidthManager: network.NewBandwidthManager(),
	}
}

// ProbeFingerprint maps and probes canonicalURL's top candidate and returns
// its strong content fingerprint (derived from ETag), for a cache-hook
// lookup before committing to a full download. Returns "" if no strong
// validator is available.
func (c *Coordinator) ProbeFingerprint(ctx context.Context, canonicalURL string, region mapper.Region, opts Options) string {
	candidates := c.Mapper.Map(canonicalURL, region)
	ranked := c.Tracker.Rank(candidates, len(candidates))
	if len(ranked) == 0 {
		return ""
	}
	res, err := c.Transport.Probe(ctx, ranked[0], headersFromOptions(opts))
	if err != nil {
		return ""
	}
	return integrity.FingerprintFromETag(res.ETag)
}

// Download runs the full mirror-selection and chunked-download protocol for
// one canonical URL, blocking until success or terminal failure.
func (c *Coordinator) Download(ctx context.Context, canonicalURL string, region mapper.Region, opts Options) (*DownloadResult, error) {
	opts = opts.withDefaults()
	if opts.OutputPath == "" {
		return nil, &IOError{Path: "", Cause: fmt.Errorf("output path required")}
	}

	if opts.JobDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.JobDeadline)
		defer cancel()
	}

	candidates := c.Mapper.Map(canonicalURL, region)
	ranked := c.Tracker.Rank(candidates, len(candidates))

	return c.downloadWithCandidates(ctx, canonicalURL, ranked, opts, false)
}

func (c *Coordinator) downloadWithCandidates(ctx context.Context, canonicalURL string, ranked []string, opts Options, isReplan bool) (*DownloadResult, error) {
	start := time.Now()

	probes := c.probeTop(ctx, ranked, opts)
	best, ok := bestProbe(probes)
	if !ok {
		return nil, ErrNoCandidates
	}

	jobID := uuid.New().String()
	partPath := opts.OutputPath + ".part"

	if !best.AcceptRanges || best.Size <= 0 {
		result, err := c.downloadSingleStream(ctx, jobID, best, opts)
		if err != nil {
			return nil, err
		}
		result.Elapsed = time.Since(start)
		return result, nil
	}

	job := newDownloadJob(jobID, canonicalURL, opts.OutputPath, best.Size, true, ranked)

	file, err := c.Allocator.AllocateFile(partPath, best.Size)
	if err != nil {
		return nil, &IOError{Path: partPath, Cause: err}
	}
	defer file.Close()

	controller := congestion.New(c.CongestionConfig)
	snap := controller.Snapshot()
	job.chunks = planChunks(best.Size, snap.S)

	err = c.dispatch(ctx, job, file, controller, opts)
	if err != nil {
		if opts.Resume {
			return nil, err
		}
		os.Remove(partPath)
		return nil, err
	}

	if err := file.Sync(); err != nil {
		return nil, &IOError{Path: partPath, Cause: err}
	}

	if fi, statErr := file.Stat(); statErr == nil && fi.Size() != best.Size {
		return nil, &IntegrityError{Path: partPath, Expected: fmt.Sprintf("%d bytes", best.Size), Actual: fmt.Sprintf("%d bytes", fi.Size())}
	}

	expected := expectedHash(opts, best)
	if expected != "" {
		file.Close()
		algo := opts.HashAlgorithm
		if err := c.Verifier.Verify(partPath, algo, expected); err != nil {
			if !isReplan {
				// One replan: penalize the URL that served most bytes and
				// retry once. If it's the only candidate, keep it in the
				// pool (penalized) rather than leaving no candidates at all.
				dominant := job.dominantURL()
				c.Tracker.RecordFailure(dominant, 0)
				retryRanked := ranked
				if len(ranked) > 1 {
					retryRanked = removeURL(ranked, dominant)
				}
				return c.downloadWithCandidates(ctx, canonicalURL, retryRanked, opts, true)
			}
			return nil, err
		}
	} else {
		file.Close()
	}

	if err := os.Rename(partPath, opts.OutputPath); err != nil {
		return nil, &IOError{Path: opts.OutputPath, Cause: err}
	}

	fingerprint := integrity.FingerprintFromETag(best.ETag)
	if fingerprint == "" {
		if sum, err := hashFile(opts.OutputPath); err == nil {
			fingerprint = sum
		}
	}

	elapsed := time.Since(start)
	throughput := float64(best.Size) / elapsed.Seconds()
	return &DownloadResult{
		FinalPath:     opts.OutputPath,
		SizeBytes:     best.Size,
		Elapsed:       elapsed,
		ThroughputBps: throughput,
		WasRemapped:   len(ranked) > 0 && ranked[0] != canonicalURL,
		DominantURL:   job.dominantURL(),
		Fingerprint:   fingerprint,
	}, nil
}

func expectedHash(opts Options, probe network.ProbeResult) string {
	if opts.ExpectedHash != "" {
		return opts.ExpectedHash
	}
	fp := integrity.FingerprintFromETag(probe.ETag)
	switch len(fp) {
	case 64:
		if opts.HashAlgorithm == "" {
			opts.HashAlgorithm = "sha256"
		}
		return fp
	case 32:
		return fp
	default:
		return ""
	}
}

func removeURL(urls []string, url string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != url {
			out = append(out, u)
		}
	}
	return out
}

// probeTop issues parallel probes against the top-K ranked candidates,
// disqualifying (recording a tracker failure for) any whose reported size
// conflicts with the first successful probe that reported a size. Probes
// that report no size are kept, so the caller can fall back to streaming.
func (c *Coordinator) probeTop(ctx context.Context, ranked []string, opts Options) []network.ProbeResult {
	k := probeFanout
	if k > len(ranked) {
		k = len(ranked)
	}

	results := make([]network.ProbeResult, k)
	errs := make([]error, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			headers := headersFromOptions(opts)
			start := time.Now()
			res, err := c.Transport.Probe(ctx, ranked[i], headers)
			latency := time.Since(start)
			if err != nil {
				errs[i] = err
				c.Tracker.RecordFailure(ranked[i], latency)
				return
			}
			results[i] = res
			c.Tracker.RecordSuccess(ranked[i], 0, latency)
		}(i)
	}
	wg.Wait()

	var agreedSize int64 = -1
	valid := make([]network.ProbeResult, 0, k)
	for i, res := range results {
		if errs[i] != nil {
			continue
		}
		if res.Size > 0 {
			if agreedSize == -1 {
				agreedSize = res.Size
			} else if res.Size != agreedSize {
				c.Tracker.RecordFailure(ranked[i], 0)
				continue
			}
		}
		valid = append(valid, res)
	}
	return valid
}

func bestProbe(probes []network.ProbeResult) (network.ProbeResult, bool) {
	if len(probes) == 0 {
		return network.ProbeResult{}, false
	}
	return probes[0], true
}

func planChunks(totalSize, chunkSize int64) []ChunkDescriptor {
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}
	numChunks := (totalSize + chunkSize - 1) / chunkSize
	chunks := make([]ChunkDescriptor, 0, numChunks)
	var offset int64
	id := 0
	for offset < totalSize {
		length := chunkSize
		if offset+length > totalSize {
			length = totalSize - offset
		}
		chunks = append(chunks, ChunkDescriptor{ID: id, Offset: offset, Length: length, State: ChunkPending})
		offset += length
		id++
	}
	return chunks
}

func headersFromOptions(opts Options) http.Header {
	h := make(http.Header)
	for k, v := range opts.Headers {
		h.Set(k, v)
	}
	return h
}

// dispatch runs the worker pool for job's chunk plan against file, scaling
// worker count from the congestion controller's periodic recommendations.
func (c *Coordinator) dispatch(ctx context.Context, job *DownloadJob, file *os.File, controller *congestion.Controller, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan ChunkDescriptor, len(job.chunks)*2)
	for _, ch := range job.chunks {
		workCh <- ch
	}

	var remaining int64 = int64(len(job.chunks))
	var firstErr atomic.Value // stores error
	var activeWorkers int32

	spawnWorker := func() {
		atomic.AddInt32(&activeWorkers, 1)
		go func() {
			defer atomic.AddInt32(&activeWorkers, -1)
			c.worker(ctx, job, file, workCh, controller, opts, &remaining, &firstErr, cancel)
		}()
	}

	snap := controller.Snapshot()
	for i := 0; i < snap.N; i++ {
		spawnWorker()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		for atomic.LoadInt64(&remaining) > 0 {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			if v := firstErr.Load(); v != nil {
				return v.(error)
			}
			if ctx.Err() != nil && atomic.LoadInt64(&remaining) > 0 {
				return ErrCancelled
			}
			return nil
		case <-ticker.C:
			target := controller.Snapshot().N
			current := int(atomic.LoadInt32(&activeWorkers))
			for i := current; i < target; i++ {
				spawnWorker()
			}
		case <-ctx.Done():
			if v := firstErr.Load(); v != nil {
				return v.(error)
			}
			if atomic.LoadInt64(&remaining) == 0 {
				return nil
			}
			return ErrCancelled
		}
	}
}

func (c *Coordinator) worker(ctx context.Context, job *DownloadJob, file *os.File, workCh chan ChunkDescriptor, controller *congestion.Controller, opts Options, remaining *int64, firstErr *atomic.Value, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-workCh:
			if !ok {
				return
			}
			c.processChunk(ctx, job, file, chunk, workCh, controller, opts, remaining, firstErr, cancel)
		}
	}
}

func (c *Coordinator) processChunk(ctx context.Context, job *DownloadJob, file *os.File, chunk ChunkDescriptor, workCh chan ChunkDescriptor, controller *congestion.Controller, opts Options, remaining *int64, firstErr *atomic.Value, cancel context.CancelFunc) {
	url := c.selectCandidate(job, opts)
	if url == "" {
		firstErr.CompareAndSwap(nil, ErrNoCandidates)
		cancel()
		return
	}

	start := time.Now()
	err := c.downloadChunkRange(ctx, job.ID, url, file, chunk, opts)
	latency := time.Since(start)

	if err != nil {
		job.recordFailure(url)
		c.Tracker.RecordFailure(url, latency)
		controller.OnChunkFailure(classifyFailure(err))

		if httpErr, ok := err.(*HTTPError); ok && !httpErr.Retriable() {
			// Permanent: disqualify this URL for the rest of the job, but
			// still retry the chunk against another candidate.
			for i := 0; i < opts.MaxCandidateFail; i++ {
				job.recordFailure(url)
			}
		}

		chunk.RetryCount++
		if chunk.RetryCount > opts.RetryAttempts {
			firstErr.CompareAndSwap(nil, ErrRetriesExhausted)
			cancel()
			return
		}
		select {
		case workCh <- chunk:
		default:
			firstErr.CompareAndSwap(nil, fmt.Errorf("scheduler: retry queue full for chunk %d", chunk.ID))
			cancel()
		}
		return
	}

	job.recordBytes(url, chunk.Length)
	speed := float64(chunk.Length) / latency.Seconds()
	c.Tracker.RecordSuccess(url, speed, latency)
	controller.OnChunkSuccess(chunk.Length, latency)

	if atomic.AddInt64(remaining, -1) == 0 {
		cancel()
	}
}

func classifyFailure(err error) congestion.FailureKind {
	if httpErr, ok := err.(*HTTPError); ok && !httpErr.Retriable() {
		return congestion.FailurePermanent
	}
	return congestion.FailureTransient
}

// selectCandidate picks the highest-score URL for job that hasn't produced
// ≥ MaxCandidateFail recent failures for this job.
func (c *Coordinator) selectCandidate(job *DownloadJob, opts Options) string {
	ranked := c.Tracker.Rank(job.Candidates, len(job.Candidates))
	for _, u := range ranked {
		if job.failureCount(u) < opts.MaxCandidateFail {
			return u
		}
	}
	return ""
}

func (c *Coordinator) downloadChunkRange(ctx context.Context, jobID, url string, file *os.File, chunk ChunkDescriptor, opts Options) error {
	headers := headersFromOptions(opts)
	resp, err := c.Transport.GetRange(ctx, url, chunk.Offset, chunk.End(), headers)
	if err != nil {
		if err == network.ErrLinkExpired {
			return &HTTPError{URL: url, Status: http.StatusForbidden}
		}
		if statusErr, ok := err.(*network.HTTPStatusError); ok {
			return &HTTPError{URL: url, Status: statusErr.Status}
		}
		return &NetworkError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	buf := make([]byte, 32*1024)
	var written int64
	offset := chunk.Offset
	for written < chunk.Length {
		if c.BandwidthManager != nil {
			if err := c.BandwidthManager.Wait(ctx, jobID, len(buf)); err != nil {
				return &NetworkError{URL: url, Cause: err}
			}
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := file.WriteAt(buf[:n], offset); werr != nil {
				return &IOError{Path: file.Name(), Cause: werr}
			}
			offset += int64(n)
			written += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return &NetworkError{URL: url, Cause: readErr}
		}
	}

	if written != chunk.Length {
		return &ProtocolError{URL: url, Detail: fmt.Sprintf("expected %d bytes, got %d", chunk.Length, written)}
	}
	return nil
}

// downloadSingleStream handles the unknown-size / ranges-unsupported
// fallback: a single connection streamed to a .part sidecar, renamed to the
// final output path only once the transfer completes successfully, so a
// cancellation or read error never leaves partial bytes at opts.OutputPath.
func (c *Coordinator) downloadSingleStream(ctx context.Context, jobID string, probe network.ProbeResult, opts Options) (*DownloadResult, error) {
	resp, err := c.Transport.GetRange(ctx, probe.URL, 0, -1, headersFromOptions(opts))
	if err != nil {
		return nil, &NetworkError{URL: probe.URL, Cause: err}
	}
	defer resp.Body.Close()

	partPath := opts.OutputPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return nil, &IOError{Path: partPath, Cause: err}
	}

	buf := make([]byte, 32*1024)
	var total int64
	for {
		if c.BandwidthManager != nil {
			if err := c.BandwidthManager.Wait(ctx, jobID, len(buf)); err != nil {
				out.Close()
				os.Remove(partPath)
				return nil, &NetworkError{URL: probe.URL, Cause: err}
			}
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(partPath)
				return nil, &IOError{Path: opts.OutputPath, Cause: werr}
			}
			total += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			out.Close()
			os.Remove(partPath)
			return nil, &NetworkError{URL: probe.URL, Cause: readErr}
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return nil, &IOError{Path: partPath, Cause: err}
	}

	expected := expectedHash(opts, probe)
	if expected != "" {
		if err := c.Verifier.Verify(partPath, opts.HashAlgorithm, expected); err != nil {
			os.Remove(partPath)
			return nil, err
		}
	}

	if err := os.Rename(partPath, opts.OutputPath); err != nil {
		return nil, &IOError{Path: opts.OutputPath, Cause: err}
	}

	fingerprint := integrity.FingerprintFromETag(probe.ETag)
	if fingerprint == "" {
		if sum, err := hashFile(opts.OutputPath); err == nil {
			fingerprint = sum
		}
	}

	c.Tracker.RecordSuccess(probe.URL, 0, 0)
	return &DownloadResult{
		FinalPath:   opts.OutputPath,
		SizeBytes:   total,
		DominantURL: probe.URL,
		Fingerprint: fingerprint,
	}, nil
}

// hashFile is a small helper kept for callers that want to pre-compute a
// fingerprint without going through the Verifier (e.g. the cache hook).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
