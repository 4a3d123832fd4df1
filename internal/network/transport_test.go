package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeParsesContentRangeAndValidators(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-0" {
			t.Errorf("expected probe range header, got %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 0-0/12345")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer server.Close()

	c := NewHTTPClient("test-agent", 5*time.Second)
	result, err := c.Probe(context.Background(), server.URL+"/f.bin", http.Header{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if result.Size != 12345 {
		t.Fatalf("expected size 12345, got %d", result.Size)
	}
	if !result.AcceptRanges {
		t.Fatalf("expected AcceptRanges=true")
	}
	if result.ETag != `"abc123"` {
		t.Fatalf("expected ETag, got %q", result.ETag)
	}
}

func TestProbeReturnsErrLinkExpiredOn403(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewHTTPClient("test-agent", 5*time.Second)
	_, err := c.Probe(context.Background(), server.URL, http.Header{})
	if err != ErrLinkExpired {
		t.Fatalf("expected ErrLinkExpired, got %v", err)
	}
}

func TestGetRangeSetsRangeHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=10-19" {
			t.Errorf("expected bytes=10-19, got %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 10-19/100")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 10))
	}))
	defer server.Close()

	c := NewHTTPClient("test-agent", 5*time.Second)
	resp, err := c.GetRange(context.Background(), server.URL, 10, 19, http.Header{})
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(body))
	}
}

func TestGetRangeOmitsHeaderWhenEndNegative(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			t.Errorf("expected no Range header for whole-body fetch, got %q", r.Header.Get("Range"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("full body"))
	}))
	defer server.Close()

	c := NewHTTPClient("test-agent", 5*time.Second)
	resp, err := c.GetRange(context.Background(), server.URL, 0, -1, http.Header{})
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	defer resp.Body.Close()
}

func TestHTTPStatusErrorRetriable(t *testing.T) {
	tests := []struct {
		status    int
		retriable bool
	}{
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusNotFound, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		e := &HTTPStatusError{Status: tt.status}
		if e.Retriable() != tt.retriable {
			t.Errorf("status %d: expected retriable=%v, got %v", tt.status, tt.retriable, e.Retriable())
		}
	}
}
