package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hyperfetch/internal/mapper"
	"hyperfetch/internal/network"
	"hyperfetch/internal/tracker"
)

func newTestCoordinator(t *testing.T) (*Coordinator, func()) {
	t.Helper()
	m, err := mapper.New(nil, mapper.DefaultConfig())
	if err != nil {
		t.Fatalf("mapper.New: %v", err)
	}
	tr := tracker.New()
	transport := network.NewHTTPClient("hyperfetch-test", 5*time.Second)
	c := New(m, tr, transport)
	return c, func() {}
}

func TestDownloadChunkRecoveryBoundaryScenario(t *testing.T) {
	content := make([]byte, 10*1024*1024) // 10 MiB
	for i := range content {
		content[i] = byte(i % 251)
	}

	var thirdChunkFirstAttempt int32
	chunkSize := int64(1 * 1024 * 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		var start, end int64
		if rangeHeader == "" {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
			w.WriteHeader(http.StatusOK)
			w.Write(content)
			return
		}
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)

		// Inject one failure on the 3rd chunk's first attempt.
		if start == 2*chunkSize && atomic.AddInt32(&thirdChunkFirstAttempt, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
	defer server.Close()

	c, cleanup := newTestCoordinator(t)
	defer cleanup()
	c.CongestionConfig.InitialChunkSize = chunkSize
	c.CongestionConfig.N0 = 4

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "out.bin")

	result, err := c.Download(context.Background(), server.URL+"/f.bin", mapper.RegionGlobal, Options{
		OutputPath: outPath,
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.SizeBytes != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), result.SizeBytes)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("output file length = %d, want %d", len(got), len(content))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("byte mismatch at offset %d", i)
		}
	}

	// Tracker must show one recorded failure on the affected URL.
	st := c.Tracker.Stats(server.URL + "/f.bin")
	if st.Failed < 1 {
		t.Fatalf("expected at least one tracked failure, got %+v", st)
	}
}

func TestDownloadPassThroughMapping(t *testing.T) {
	content := []byte("hello world, this is a small file")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" || rangeHeader == "bytes=0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(content)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[:1])
			return
		}
		var start, end int64
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
	defer server.Close()

	c, cleanup := newTestCoordinator(t)
	defer cleanup()

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "out.txt")

	result, err := c.Download(context.Background(), server.URL+"/f.txt", mapper.RegionGlobal, Options{OutputPath: outPath})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.SizeBytes != int64(len(content)) {
		t.Fatalf("expected %d bytes, got %d", len(content), result.SizeBytes)
	}
}

func TestDownloadIntegrityMismatchTriggersOneReplan(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog, repeated for size. 0123456789")
	correctHash := sha256.Sum256(content)
	correctHashHex := hex.EncodeToString(correctHash[:])

	var attempt int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		var start, end int64
		if rangeHeader == "" {
			start, end = 0, int64(len(content))-1
		} else {
			fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		}
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)

		body := append([]byte(nil), content[start:end+1]...)
		// Only the full-range chunk fetch (not the 1-byte probe) should be
		// corrupted, and only on its first occurrence.
		if end-start+1 == int64(len(content)) {
			if atomic.AddInt32(&attempt, 1) == 1 {
				body[0] ^= 0xFF
			}
		}
		w.Write(body)
	}))
	defer server.Close()

	c, cleanup := newTestCoordinator(t)
	defer cleanup()
	c.CongestionConfig.InitialChunkSize = int64(len(content)) // single chunk

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "out.bin")

	_, err := c.Download(context.Background(), server.URL+"/f.bin", mapper.RegionGlobal, Options{
		OutputPath:   outPath,
		ExpectedHash: correctHashHex,
	})
	if err != nil {
		t.Fatalf("expected replan to recover, got error: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	gotHash := sha256.Sum256(got)
	if hex.EncodeToString(gotHash[:]) != correctHashHex {
		t.Fatalf("final file does not match expected hash after replan")
	}
}
