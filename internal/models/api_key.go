package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scopes an API key may be granted.
const (
	ScopeDelivery = "delivery"
	ScopeAds      = "ads"
	ScopeEarning  = "earning"
	ScopeAdmin    = "admin"
)

// APIKey authenticates an external caller (app backend, admin panel) against one endpoint family.
type APIKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	Name       string     `gorm:"not null" json:"name"`
	CreatedBy  string     `json:"created_by"`
	Scope      string     `gorm:"index;not null" json:"scope"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (APIKey) TableName() string {
	return "api_keys"
}
