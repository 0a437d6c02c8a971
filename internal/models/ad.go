package models

import (
	"time"

	"gorm.io/datatypes"
)

// Ad formats served by the dispatcher.
const (
	AdTypeBanner       = "banner"
	AdTypeInterstitial = "interstitial"
	AdTypeRewarded     = "rewarded"
)

// ValidAdType reports whether adType is a known format.
func ValidAdType(adType string) bool {
	switch adType {
	case AdTypeBanner, AdTypeInterstitial, AdTypeRewarded:
		return true
	}
	return false
}

// AdNetwork is a candidate ad source. A daily limit of 0 means unlimited.
type AdNetwork struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	Name                   string    `gorm:"size:100;not null" json:"name"`
	BannerUnitID           string    `json:"banner_unit_id,omitempty"`
	InterstitialUnitID     string    `json:"interstitial_unit_id,omitempty"`
	RewardedUnitID         string    `json:"rewarded_unit_id,omitempty"`
	BannerDailyLimit       int64     `gorm:"default:0" json:"banner_daily_limit"`
	InterstitialDailyLimit int64     `gorm:"default:0" json:"interstitial_daily_limit"`
	RewardedDailyLimit     int64     `gorm:"default:0" json:"rewarded_daily_limit"`
	IsActive               bool      `gorm:"default:true;index" json:"is_active"`
	Priority               int       `gorm:"default:1;index" json:"priority"`
	CreatedAt              time.Time `json:"created_at"`
}

func (AdNetwork) TableName() string {
	return "ad_networks"
}

// Unit returns the network's unit id and daily limit for adType.
func (n *AdNetwork) Unit(adType string) (string, int64) {
	switch adType {
	case AdTypeBanner:
		return n.BannerUnitID, n.BannerDailyLimit
	case AdTypeInterstitial:
		return n.InterstitialUnitID, n.InterstitialDailyLimit
	case AdTypeRewarded:
		return n.RewardedUnitID, n.RewardedDailyLimit
	}
	return "", 0
}

// PendingAdGrant reserves one ad impression until the client confirms it was played.
type PendingAdGrant struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Token       string         `gorm:"size:64;uniqueIndex;not null" json:"token"`
	NetworkID   uint           `gorm:"index;not null" json:"network_id"`
	NetworkName string         `json:"network_name"`
	AdType      string         `gorm:"size:20;not null" json:"ad_type"`
	AdUnitID    string         `json:"ad_unit_id"`
	DeviceID    string         `gorm:"size:128;index" json:"device_id,omitempty"`
	ClientIP    string         `gorm:"size:64" json:"client_ip,omitempty"`
	SubjectKey  string         `gorm:"size:255;not null" json:"-"`
	WindowKey   string         `gorm:"size:32;not null" json:"-"`
	IsPlayed    bool           `gorm:"default:false" json:"is_played"`
	PlayedAt    *time.Time     `json:"played_at,omitempty"`
	Result      datatypes.JSON `json:"-"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (PendingAdGrant) TableName() string {
	return "ad_grants"
}
