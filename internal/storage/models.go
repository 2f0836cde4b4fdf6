package storage

import "gorm.io/gorm"

// JobRecord is the persisted history row for one orchestrator job. The
// orchestrator's in-memory job is authoritative while it is live; this
// row mirrors it on admission and on every terminal transition so
// history survives a restart.
type JobRecord struct {
	ID            string         `gorm:"primaryKey" json:"id"`
	URL           string         `json:"url"`
	Filename      string         `json:"filename"`
	DestPath      string         `json:"dest_path"`
	Status        string         `gorm:"index" json:"status"`
	Connections   int            `json:"connections"`
	Priority      int            `gorm:"default:1" json:"priority"` // 0=Low, 1=Normal, 2=High
	Adaptive      bool           `json:"adaptive"`
	TotalBytes    int64          `json:"total_bytes"`
	ReceivedBytes int64          `json:"received_bytes"`
	SpeedBPS      float64        `json:"speed_bps"`
	Checksum      string         `json:"checksum,omitempty"`
	ErrorMessage  string         `json:"error_message"`
	CreatedAt     string         `json:"created_at"`
	CompletedAt   string         `json:"completed_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for JobRecord
func (JobRecord) TableName() string {
	return "job_history"
}

// AppSetting stores key-value application settings.
type AppSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName specifies the table name for AppSetting
func (AppSetting) TableName() string {
	return "app_settings"
}

// DailyStat tracks daily download statistics for analytics.
type DailyStat struct {
	Date  string `gorm:"primaryKey"` // Format: "YYYY-MM-DD"
	Bytes int64  `gorm:"default:0"`
	Files int64  `gorm:"default:0"`
}

// TableName specifies the table name for DailyStat
func (DailyStat) TableName() string {
	return "daily_stats"
}

// SpeedTestRecord stores one past speed test result.
type SpeedTestRecord struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	DownloadMbps   float64 `json:"download_mbps"`
	UploadMbps     float64 `json:"upload_mbps"`
	PingMS         int64   `json:"ping_ms"`
	ISP            string  `json:"isp"`
	ServerName     string  `json:"server_name"`
	ServerLocation string  `json:"server_location"`
	Timestamp      string  `json:"timestamp"`
}

// TableName specifies the table name for SpeedTestRecord
func (SpeedTestRecord) TableName() string {
	return "speed_test_history"
}
