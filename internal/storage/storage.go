package storage

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by the Get* methods when no matching row exists.
var ErrNotFound = errors.New("storage: record not found")

// Storage wraps a GORM/SQLite handle and exposes the narrow persistence
// contract the scheduler and cache hook need: job resume state, and the
// fingerprint-to-path cache.
type Storage struct {
	DB *gorm.DB
}

// Open opens (creating if absent) the SQLite database at path and migrates
// the schema. path may be ":memory:" for tests.
func Open(path string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.AutoMigrate(&JobRecord{}, &CacheEntry{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Storage{DB: db}, nil
}

// SaveJob upserts a JobRecord keyed by ID.
func (s *Storage) SaveJob(rec *JobRecord) error {
	return s.DB.Save(rec).Error
}

// GetJob returns the JobRecord with the given ID, or ErrNotFound.
func (s *Storage) GetJob(id string) (*JobRecord, error) {
	var rec JobRecord
	err := s.DB.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetResumableJobs returns all jobs not in a terminal state, ordered by
// most recently updated first.
func (s *Storage) GetResumableJobs() ([]JobRecord, error) {
	var recs []JobRecord
	err := s.DB.Where("status IN ?", []string{"pending", "in_progress"}).
		Order("updated_at DESC").Find(&recs).Error
	return recs, err
}

// DeleteJob removes a job's resume state once it has completed or been
// abandoned.
func (s *Storage) DeleteJob(id string) error {
	return s.DB.Unscoped().Delete(&JobRecord{}, "id = ?", id).Error
}

// CacheGet looks up a cached file path by content fingerprint. ok is false
// if no entry exists for fingerprint, or if the cached file is reported
// missing by the caller via CacheEvict.
func (s *Storage) CacheGet(fingerprint string) (entry CacheEntry, ok bool, err error) {
	if fingerprint == "" {
		return CacheEntry{}, false, nil
	}
	var e CacheEntry
	err = s.DB.First(&e, "fingerprint = ?", fingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	return e, true, nil
}

// CachePut records (or replaces) the cache entry for fingerprint.
func (s *Storage) CachePut(entry CacheEntry) error {
	return s.DB.Save(&entry).Error
}

// CacheEvict removes a stale cache entry, e.g. after the backing file was
// found missing on disk.
func (s *Storage) CacheEvict(fingerprint string) error {
	return s.DB.Unscoped().Delete(&CacheEntry{}, "fingerprint = ?", fingerprint).Error
}

// CacheLen reports the number of cache entries currently tracked.
func (s *Storage) CacheLen() (int64, error) {
	var count int64
	err := s.DB.Model(&CacheEntry{}).Count(&count).Error
	return count, err
}

// CacheEvictOldest removes the n least-recently-created cache entries.
func (s *Storage) CacheEvictOldest(n int) error {
	if n <= 0 {
		return nil
	}
	var victims []CacheEntry
	if err := s.DB.Order("created_at ASC").Limit(n).Find(&victims).Error; err != nil {
		return err
	}
	for _, v := range victims {
		if err := s.CacheEvict(v.Fingerprint); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
