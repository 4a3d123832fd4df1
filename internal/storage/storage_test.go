package storage

import (
	"testing"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobRecordSaveAndGet(t *testing.T) {
	s := setupTestStorage(t)

	rec := &JobRecord{
		ID:           "job-1",
		CanonicalURL: "https://example.com/file.iso",
		OutputPath:   "/tmp/file.iso",
		TotalSize:    1024,
		Status:       "in_progress",
		NumChunks:    4,
		ChunkSize:    256,
		CreatedAt:    1000,
		UpdatedAt:    1000,
	}
	if err := s.SaveJob(rec); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.CanonicalURL != rec.CanonicalURL || got.TotalSize != rec.TotalSize {
		t.Fatalf("GetJob mismatch: got %+v", got)
	}
}

func TestJobRecordGetMissingReturnsErrNotFound(t *testing.T) {
	s := setupTestStorage(t)

	_, err := s.GetJob("does-not-exist")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobRecordUpdateViaSave(t *testing.T) {
	s := setupTestStorage(t)

	rec := &JobRecord{ID: "job-2", Status: "pending", CreatedAt: 1, UpdatedAt: 1}
	if err := s.SaveJob(rec); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	rec.Status = "completed"
	rec.UpdatedAt = 2
	if err := s.SaveJob(rec); err != nil {
		t.Fatalf("SaveJob update: %v", err)
	}

	got, err := s.GetJob("job-2")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "completed" {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
}

func TestGetResumableJobsExcludesTerminalStates(t *testing.T) {
	s := setupTestStorage(t)

	jobs := []*JobRecord{
		{ID: "a", Status: "pending", UpdatedAt: 1},
		{ID: "b", Status: "in_progress", UpdatedAt: 2},
		{ID: "c", Status: "completed", UpdatedAt: 3},
		{ID: "d", Status: "failed", UpdatedAt: 4},
	}
	for _, j := range jobs {
		if err := s.SaveJob(j); err != nil {
			t.Fatalf("SaveJob(%s): %v", j.ID, err)
		}
	}

	resumable, err := s.GetResumableJobs()
	if err != nil {
		t.Fatalf("GetResumableJobs: %v", err)
	}
	if len(resumable) != 2 {
		t.Fatalf("expected 2 resumable jobs, got %d", len(resumable))
	}
	// Most recently updated first.
	if resumable[0].ID != "b" {
		t.Fatalf("expected most recent job 'b' first, got %s", resumable[0].ID)
	}
}

func TestDeleteJob(t *testing.T) {
	s := setupTestStorage(t)

	if err := s.SaveJob(&JobRecord{ID: "job-3", Status: "completed"}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.DeleteJob("job-3"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob("job-3"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCachePutAndGet(t *testing.T) {
	s := setupTestStorage(t)

	entry := CacheEntry{
		Fingerprint: "sha256:abc123",
		FilePath:    "/cache/abc123.bin",
		SizeBytes:   2048,
		CreatedAt:   100,
	}
	if err := s.CachePut(entry); err != nil {
		t.Fatalf("CachePut: %v", err)
	}

	got, ok, err := s.CacheGet("sha256:abc123")
	if err != nil {
		t.Fatalf("CacheGet: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.FilePath != entry.FilePath {
		t.Fatalf("expected path %s, got %s", entry.FilePath, got.FilePath)
	}
}

func TestCacheGetMissReturnsFalseNotError(t *testing.T) {
	s := setupTestStorage(t)

	_, ok, err := s.CacheGet("sha256:missing")
	if err != nil {
		t.Fatalf("expected no error on cache miss, got %v", err)
	}
	if ok {
		t.Fatalf("expected cache miss")
	}
}

func TestCacheGetEmptyFingerprintIsMiss(t *testing.T) {
	s := setupTestStorage(t)

	_, ok, err := s.CacheGet("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected empty fingerprint to always miss")
	}
}

func TestCacheEvictOldestRespectsCreationOrder(t *testing.T) {
	s := setupTestStorage(t)

	for i, fp := range []string{"fp1", "fp2", "fp3"} {
		entry := CacheEntry{
			Fingerprint: fp,
			FilePath:    "/cache/" + fp,
			CreatedAt:   int64(i),
		}
		if err := s.CachePut(entry); err != nil {
			t.Fatalf("CachePut(%s): %v", fp, err)
		}
	}

	if err := s.CacheEvictOldest(2); err != nil {
		t.Fatalf("CacheEvictOldest: %v", err)
	}

	count, err := s.CacheLen()
	if err != nil {
		t.Fatalf("CacheLen: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining cache entry, got %d", count)
	}
	if _, ok, _ := s.CacheGet("fp3"); !ok {
		t.Fatalf("expected newest entry fp3 to survive eviction")
	}
}
