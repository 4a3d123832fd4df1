// Package storage persists the two optional, non-core pieces of state the
// spec calls out as external collaborators: a job's resume state (so a
// chunked download can survive a process restart) and the cache-hook's
// fingerprint → file-path mapping.
package storage

import (
	"gorm.io/gorm"
)

// JobRecord is the on-disk representation of a DownloadJob needed to
// resume a single job's chunk plan after a process restart. It
// deliberately does not persist Server Tracker statistics — the core
// spec is explicit that the tracker keeps no persistent database.
type JobRecord struct {
	ID              string `gorm:"primaryKey" json:"id"`
	CanonicalURL    string `gorm:"index" json:"canonical_url"`
	OutputPath      string `json:"output_path"`
	TotalSize       int64  `json:"total_size"`
	ETag            string `json:"etag"`
	LastModified    string `json:"last_modified"`
	ExpectedHash    string `json:"expected_hash"`
	HashAlgorithm   string `json:"hash_algorithm"`
	Status          string `gorm:"index" json:"status"` // pending, in_progress, completed, failed
	CompletedBitmap []byte `json:"completed_bitmap"`     // packed bit-per-chunk
	NumChunks       int    `json:"num_chunks"`
	ChunkSize       int64  `json:"chunk_size"`
	CreatedAt       int64  `json:"created_at"` // unix seconds
	UpdatedAt       int64  `json:"updated_at"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName pins JobRecord to a stable table name independent of Go naming.
func (JobRecord) TableName() string { return "job_records" }

// CacheEntry backs a concrete implementation of the spec's optional
// cache-get/cache-put contract, keyed by content fingerprint (strong
// validator when available, else the SHA-256 of the downloaded file).
type CacheEntry struct {
	Fingerprint string `gorm:"primaryKey" json:"fingerprint"`
	FilePath    string `json:"file_path"`
	SizeBytes   int64  `json:"size_bytes"`
	CreatedAt   int64  `json:"created_at"`
}

// TableName pins CacheEntry to a stable table name.
func (CacheEntry) TableName() string { return "cache_entries" }
