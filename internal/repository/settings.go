package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"gorm.io/gorm"
)

// SettingsRepository serves operator overrides stored in the database.
// It is the first layer of the rate-limit configuration chain.
type SettingsRepository struct {
	db *storage.Database
}

func NewSettingsRepository(db *storage.Database) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) RouteLimit(ctx context.Context, route string) (config.Limit, bool, error) {
	var row models.RouteLimit
	err := r.db.DB.WithContext(ctx).
		Where("route = ?", route).
		Take(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return config.Limit{}, false, nil
	}
	if err != nil {
		return config.Limit{}, false, err
	}

	return config.Limit{
		Requests: row.Requests,
		Window:   time.Duration(row.WindowSeconds) * time.Second,
	}, true, nil
}

func (r *SettingsRepository) GlobalLimit(ctx context.Context) (config.Limit, bool, error) {
	var row models.Settings
	err := r.db.DB.WithContext(ctx).Order("id").Take(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return config.Limit{}, false, nil
	}
	if err != nil {
		return config.Limit{}, false, err
	}
	if row.APIRateLimit == nil {
		return config.Limit{}, false, nil
	}

	limit := config.Limit{Requests: *row.APIRateLimit}
	if row.APIRateWindowSeconds != nil {
		limit.Window = time.Duration(*row.APIRateWindowSeconds) * time.Second
	}
	return limit, true, nil
}

// SetRouteLimit upserts an override for one route.
func (r *SettingsRepository) SetRouteLimit(ctx context.Context, route string, limit config.Limit) error {
	row := models.RouteLimit{
		Route:         route,
		Requests:      limit.Requests,
		WindowSeconds: int(limit.Window / time.Second),
	}
	return r.db.DB.WithContext(ctx).Save(&row).Error
}
