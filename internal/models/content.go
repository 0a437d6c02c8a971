package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContentObject is a stored media file. Everything but IsActive is immutable after creation.
type ContentObject struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Handle          string    `gorm:"uniqueIndex;size:64;not null" json:"handle"`
	Locator         string    `gorm:"not null" json:"-"`
	FileName        string    `json:"file_name"`
	MimeType        string    `json:"mime_type"`
	Size            int64     `gorm:"not null" json:"size"`
	DurationSeconds int64     `json:"duration_seconds"`
	ObjectKey       string    `json:"-"`
	PublisherID     *uint     `gorm:"index" json:"publisher_id,omitempty"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (c *ContentObject) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (ContentObject) TableName() string {
	return "content_objects"
}

// Duration returns the nominal playback length, zero when unknown.
func (c *ContentObject) Duration() time.Duration {
	if c.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(c.DurationSeconds) * time.Second
}
