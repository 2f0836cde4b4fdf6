package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"project-tachyon/internal/orchestrator"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	return s
}

func TestJobHistoryCRUD(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	job := orchestrator.JobSummary{
		ID:          "test-123",
		URL:         "https://example.com/test.mp4",
		Filename:    "test.mp4",
		DestPath:    "/downloads/test.mp4",
		Status:      orchestrator.StatusDownloading,
		Connections: 4,
		CreatedAt:   time.Now(),
	}

	require.NoError(t, s.SaveJob(job))

	rec, err := s.GetJob("test-123")
	require.NoError(t, err)
	require.Equal(t, job.ID, rec.ID)
	require.Equal(t, job.Filename, rec.Filename)

	job.Status = orchestrator.StatusCompleted
	job.ReceivedBytes = 1000
	require.NoError(t, s.SaveJob(job))

	rec, err = s.GetJob("test-123")
	require.NoError(t, err)
	require.Equal(t, string(orchestrator.StatusCompleted), rec.Status)
	require.Equal(t, int64(1000), rec.ReceivedBytes)

	recs, err := s.ListJobs()
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, s.DeleteJob("test-123"))
	recs, err = s.ListJobs()
	require.NoError(t, err)
	require.Len(t, recs, 0)
}

func TestDailyStatistics(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	require.NoError(t, s.IncrementDailyBytes(100))
	require.NoError(t, s.IncrementDailyBytes(100))

	total, err := s.GetTotalLifetime()
	require.NoError(t, err)
	require.Equal(t, int64(200), total)

	require.NoError(t, s.IncrementDailyFiles())
	require.NoError(t, s.IncrementDailyFiles())

	files, err := s.GetTotalFiles()
	require.NoError(t, err)
	require.Equal(t, int64(2), files)

	history, err := s.GetDailyHistory(7)
	require.NoError(t, err)

	today := time.Now().Format("2006-01-02")
	found := false
	for _, stat := range history {
		if stat.Date == today {
			found = true
			require.Equal(t, int64(200), stat.Bytes)
			require.Equal(t, int64(2), stat.Files)
		}
	}
	require.True(t, found, "today's stats should be present in history")
}

func TestAppSettings(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	require.NoError(t, s.SetString("api_token", "secret-123"))
	val, err := s.GetString("api_token")
	require.NoError(t, err)
	require.Equal(t, "secret-123", val)

	missing, err := s.GetString("does-not-exist")
	require.NoError(t, err)
	require.Equal(t, "", missing)

	require.NoError(t, s.SetStringList("allowed_hosts", []string{"example.com", "cdn.example.com"}))
	list, err := s.GetStringList("allowed_hosts")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestSaveSpeedTest(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	require.NoError(t, s.SaveSpeedTest(SpeedTestRecord{
		DownloadMbps: 93.4,
		UploadMbps:   12.1,
		PingMS:       14,
		ISP:          "Test ISP",
		Timestamp:    time.Now().Format(time.RFC3339),
	}))
}
