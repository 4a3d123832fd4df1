package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAllocateFileCreatesTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.part")

	a := NewAllocator()
	f, err := a.AllocateFile(path, 4096)
	if err != nil {
		t.Fatalf("AllocateFile: %v", err)
	}
	defer f.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 4096 {
		t.Fatalf("expected size 4096, got %d", info.Size())
	}
}

func TestAllocateFileCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c", "out.part")

	a := NewAllocator()
	f, err := a.AllocateFile(path, 1024)
	if err != nil {
		t.Fatalf("AllocateFile: %v", err)
	}
	f.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestAllocateFileIsReadWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.part")

	a := NewAllocator()
	f, err := a.AllocateFile(path, 16)
	if err != nil {
		t.Fatalf("AllocateFile: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected hello, got %q", buf)
	}
}
