package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Recording is one stored upload.
type Recording struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Filename   string    `gorm:"uniqueIndex;not null" json:"filename"`
	Size       int64     `json:"size"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	BitDepth   int       `json:"bit_depth"`
	DurationMS int64     `json:"duration_ms"`
	Peak       float64   `json:"peak"`
	RMS        float64   `json:"rms"`
	RemoteAddr string    `json:"remote_addr"`
	CreatedAt  time.Time `gorm:"index" json:"created"`
}

// Store indexes recordings in a sqlite database.
type Store struct {
	db *gorm.DB
}

// OpenStore opens or creates the database at path and migrates the schema.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Recording{}); err != nil {
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Add(rec *Recording) error {
	return s.db.Create(rec).Error
}

// List returns up to limit recordings, newest first. A non-positive limit
// returns all of them.
func (s *Store) List(limit int) ([]Recording, error) {
	var recs []Recording
	q := s.db.Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) Get(filename string) (*Recording, error) {
	var rec Recording
	err := s.db.Where("filename = ?", filename).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stats summarizes the index.
type Stats struct {
	Count      int64 `gorm:"column:count" json:"count"`
	TotalBytes int64 `gorm:"column:total_bytes" json:"total_bytes"`
	TotalMS    int64 `gorm:"column:total_ms" json:"total_duration_ms"`
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.Model(&Recording{}).
		Select("count(*) as count, coalesce(sum(size), 0) as total_bytes, coalesce(sum(duration_ms), 0) as total_ms").
		Scan(&st).Error
	return st, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
