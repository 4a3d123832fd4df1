package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hyperfetch.toml")
	if err := os.WriteFile(path, []byte("max_concurrent_downloads = 4\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	changes := make(chan Config, 4)
	stop, err := Watch(path, func(c Config) { changes <- c }, func(err error) { t.Logf("watch error: %v", err) })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("max_concurrent_downloads = 20\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.MaxConcurrentDownloads != 20 {
			t.Fatalf("expected reloaded max_concurrent_downloads=20, got %d", cfg.MaxConcurrentDownloads)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for config reload notification")
	}
}
