package models

import "time"

// Publisher is owned by the publisher dashboard; this service only reads it.
type Publisher struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255" json:"email"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	Balance   float64   `gorm:"default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func (Publisher) TableName() string {
	return "publishers"
}

// EarningRecord marks that a publisher earned once for a device, content object and day.
type EarningRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PublisherID   uint      `gorm:"not null;uniqueIndex:idx_earning_daily,priority:1" json:"publisher_id"`
	DeviceID      string    `gorm:"size:128;not null;uniqueIndex:idx_earning_daily,priority:2" json:"device_id"`
	ContentHandle string    `gorm:"size:64;not null;uniqueIndex:idx_earning_daily,priority:3" json:"content_handle"`
	EarningDate   string    `gorm:"size:10;not null;uniqueIndex:idx_earning_daily,priority:4" json:"earning_date"`
	PlanID        uint      `gorm:"index" json:"plan_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (EarningRecord) TableName() string {
	return "earning_records"
}
