package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessLog records one delivery attempt, successful or not.
type AccessLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time  `gorm:"index" json:"timestamp"`
	ContentID  *uuid.UUID `gorm:"type:uuid;index" json:"content_id,omitempty"`
	Handle     string     `gorm:"size:64;index" json:"handle"`
	TokenKind  string     `gorm:"size:16" json:"token_kind"`
	ClientIP   string     `gorm:"size:64;index" json:"client_ip"`
	UserAgent  string     `json:"user_agent"`
	Success    bool       `gorm:"index" json:"success"`
	Reason     string     `gorm:"size:64" json:"reason,omitempty"`
	StatusCode int        `json:"status_code"`
	BytesSent  int64      `json:"bytes_sent"`
	Source     string     `gorm:"size:16" json:"source,omitempty"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}
