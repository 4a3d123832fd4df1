// Package integrity provides file verification and hash calculation for
// the chunk scheduler's completion phase.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// FileVerifier checks a completed download's integrity against either an
// explicit expected hash or a server-supplied ETag/strong validator.
type FileVerifier struct{}

// NewFileVerifier returns a ready-to-use FileVerifier.
func NewFileVerifier() *FileVerifier {
	return &FileVerifier{}
}

// Verify checks whether the file at path's hash matches expected under the
// named algorithm ("sha256" or "md5").
func (v *FileVerifier) Verify(path string, algo string, expected string) error {
	actual, err := CalculateHash(path, algo)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("integrity: hash mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// CalculateHash computes the hash of a file. algorithm must be "sha256" or
// "md5".
func CalculateHash(filePath string, algorithm string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var hasher interface {
		io.Writer
		Sum([]byte) []byte
	}
	switch algorithm {
	case "sha256":
		hasher = sha256.New()
	case "md5":
		hasher = md5.New()
	default:
		return "", fmt.Errorf("integrity: unsupported algorithm: %s", algorithm)
	}

	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// IsStrongValidator reports whether an ETag value is a strong validator
// (not weak-prefixed with "W/") — only strong validators are suitable for
// byte-exact integrity comparison per HTTP semantics.
func IsStrongValidator(etag string) bool {
	return etag != "" && !strings.HasPrefix(etag, "W/")
}

// FingerprintFromETag normalizes an ETag into a cache/resume fingerprint,
// stripping surrounding quotes. Returns "" for weak or absent validators.
func FingerprintFromETag(etag string) string {
	if !IsStrongValidator(etag) {
		return ""
	}
	return strings.Trim(etag, `"`)
}
