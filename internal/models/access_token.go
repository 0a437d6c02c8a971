package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessToken binds a stream/download secret pair to one device and one content object.
// Only hashes of the secrets are stored.
type AccessToken struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ContentID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_token_device_content,priority:2" json:"content_id"`
	DeviceID     string    `gorm:"size:128;not null;uniqueIndex:idx_token_device_content,priority:1" json:"device_id"`
	StreamHash   string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	DownloadHash string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	ExpiresAt    time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (AccessToken) TableName() string {
	return "access_tokens"
}

// Expired reports whether the token is past its expiry at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
