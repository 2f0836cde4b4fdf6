// Package storage persists job history and application settings to a
// CGO-free SQLite database via gorm, and implements
// orchestrator.HistoryStore so the orchestrator never needs to know
// the database exists.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"project-tachyon/internal/orchestrator"
)

// Storage wraps a gorm DB handle over the job-history, settings, daily
// stat, and speed test tables.
type Storage struct {
	DB *gorm.DB
}

// Open creates (or migrates) the SQLite database at path. Pass
// ":memory:" for an ephemeral test database.
func Open(path string) (*Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")

	if err := db.AutoMigrate(&JobRecord{}, &AppSetting{}, &DailyStat{}, &SpeedTestRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{DB: db}, nil
}

// NewDefault opens the database under the user's config directory,
// matching the teacher's per-OS app-data convention.
func NewDefault() (*Storage, error) {
	appData, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(appData, "Tachyon", "data", "tachyon.db"))
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveJob upserts a job's history row (orchestrator.HistoryStore).
func (s *Storage) SaveJob(j orchestrator.JobSummary) error {
	rec := JobRecord{
		ID:            j.ID,
		URL:           j.URL,
		Filename:      j.Filename,
		DestPath:      j.DestPath,
		Status:        string(j.Status),
		Connections:   j.Connections,
		Priority:      j.Priority,
		Adaptive:      j.Adaptive,
		TotalBytes:    j.TotalBytes,
		ReceivedBytes: j.ReceivedBytes,
		SpeedBPS:      j.SpeedBPS,
		Checksum:      j.Checksum,
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
	}
	if !j.CompletedAt.IsZero() {
		rec.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return s.DB.Save(&rec).Error
}

// DeleteJob removes a job's history row (orchestrator.HistoryStore).
// Soft-deleted via gorm.DeletedAt.
func (s *Storage) DeleteJob(id string) error {
	return s.DB.Delete(&JobRecord{}, "id = ?", id).Error
}

// GetJob returns one job's history row.
func (s *Storage) GetJob(id string) (JobRecord, error) {
	var rec JobRecord
	err := s.DB.First(&rec, "id = ?", id).Error
	return rec, err
}

// ListJobs returns history rows newest-first.
func (s *Storage) ListJobs() ([]JobRecord, error) {
	var recs []JobRecord
	err := s.DB.Order("created_at desc").Find(&recs).Error
	return recs, err
}

// RecoverableJobs returns every history row left in a non-terminal
// status by a previous, now-dead process, for Orchestrator.Recover.
func (s *Storage) RecoverableJobs() ([]orchestrator.RecoveredJob, error) {
	var recs []JobRecord
	err := s.DB.Where("status IN ?", []string{"queued", "downloading", "paused"}).Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]orchestrator.RecoveredJob, 0, len(recs))
	for _, rec := range recs {
		r := orchestrator.RecoveredJob{
			ID:            rec.ID,
			URL:           rec.URL,
			Filename:      rec.Filename,
			DestPath:      rec.DestPath,
			Status:        orchestrator.Status(rec.Status),
			Connections:   rec.Connections,
			Priority:      rec.Priority,
			Adaptive:      rec.Adaptive,
			TotalBytes:    rec.TotalBytes,
			ReceivedBytes: rec.ReceivedBytes,
			Checksum:      rec.Checksum,
			ErrorMessage:  rec.ErrorMessage,
		}
		if t, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
			r.CreatedAt = t
		}
		if rec.CompletedAt != "" {
			if t, err := time.Parse(time.RFC3339, rec.CompletedAt); err == nil {
				r.CompletedAt = t
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// IncrementDailyBytes adds delta to today's byte counter.
func (s *Storage) IncrementDailyBytes(delta int64) error {
	return s.touchDailyStat(func(d *DailyStat) { d.Bytes += delta })
}

// IncrementDailyFiles increments today's completed-file counter.
func (s *Storage) IncrementDailyFiles() error {
	return s.touchDailyStat(func(d *DailyStat) { d.Files++ })
}

func (s *Storage) touchDailyStat(mutate func(*DailyStat)) error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var stat DailyStat
		err := tx.First(&stat, "date = ?", today).Error
		if err != nil {
			if err != gorm.ErrRecordNotFound {
				return err
			}
			stat = DailyStat{Date: today}
		}
		mutate(&stat)
		return tx.Save(&stat).Error
	})
}

// GetTotalLifetime sums bytes across every recorded day.
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(bytes), 0)").Row().Scan(&total)
	return total, err
}

// GetTotalFiles sums completed files across every recorded day.
func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(files), 0)").Row().Scan(&total)
	return total, err
}

// GetDailyHistory returns the most recent n days of stats, oldest
// first, for a sparkline-style analytics view.
func (s *Storage) GetDailyHistory(n int) ([]DailyStat, error) {
	var stats []DailyStat
	err := s.DB.Order("date desc").Limit(n).Find(&stats).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(stats)-1; i < j; i, j = i+1, j-1 {
		stats[i], stats[j] = stats[j], stats[i]
	}
	return stats, nil
}

// SaveSpeedTest records one speedcheck result.
func (s *Storage) SaveSpeedTest(rec SpeedTestRecord) error {
	return s.DB.Create(&rec).Error
}

// GetString retrieves a single string setting; "" if unset.
func (s *Storage) GetString(key string) (string, error) {
	var row AppSetting
	err := s.DB.First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	return row.Value, err
}

// SetString stores a single string setting.
func (s *Storage) SetString(key, val string) error {
	row := AppSetting{Key: key, Value: val}
	return s.DB.Save(&row).Error
}

// GetStringList retrieves a JSON-encoded string list setting (e.g. a
// host allowlist), empty if unset.
func (s *Storage) GetStringList(key string) ([]string, error) {
	raw, err := s.GetString(key)
	if err != nil || raw == "" {
		return []string{}, err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetStringList stores a string list setting as JSON.
func (s *Storage) SetStringList(key string, list []string) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.SetString(key, string(raw))
}
