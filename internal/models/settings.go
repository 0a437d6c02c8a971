package models

// Settings holds the single row of operator-tunable globals.
type Settings struct {
	ID                   uint `gorm:"primaryKey" json:"id"`
	APIRateLimit         *int `json:"api_rate_limit,omitempty"`
	APIRateWindowSeconds *int `json:"api_rate_window_seconds,omitempty"`
}

func (Settings) TableName() string {
	return "settings"
}

// RouteLimit overrides the global rate limit for one route family.
type RouteLimit struct {
	Route         string `gorm:"primaryKey;size:64" json:"route"`
	Requests      int    `gorm:"not null" json:"requests"`
	WindowSeconds int    `gorm:"not null" json:"window_seconds"`
}

func (RouteLimit) TableName() string {
	return "route_limits"
}
