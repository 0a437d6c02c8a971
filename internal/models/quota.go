package models

import "time"

// QuotaCounter counts consumption of one bounded resource for one subject in one calendar window.
// Rows are created lazily and never reset; a new window gets a new row.
type QuotaCounter struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SubjectKey  string    `gorm:"size:255;not null;uniqueIndex:idx_quota_subject_window,priority:1" json:"subject_key"`
	WindowKey   string    `gorm:"size:32;not null;uniqueIndex:idx_quota_subject_window,priority:2" json:"window_key"`
	Count       int64     `gorm:"not null;default:0" json:"count"`
	WindowStart time.Time `json:"window_start"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (QuotaCounter) TableName() string {
	return "quota_counters"
}

// RateLimitSample records one admitted request for a sliding-window limit.
type RateLimitSample struct {
	ID          uint      `gorm:"primaryKey"`
	Key         string    `gorm:"size:255;not null;index:idx_rate_sample_key_time,priority:1"`
	RequestedAt time.Time `gorm:"not null;index:idx_rate_sample_key_time,priority:2"`
}

func (RateLimitSample) TableName() string {
	return "rate_limit_samples"
}
