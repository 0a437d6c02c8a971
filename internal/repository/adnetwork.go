package repository

import (
	"context"

	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
)

type AdNetworkRepository struct {
	db *storage.Database
}

func NewAdNetworkRepository(db *storage.Database) *AdNetworkRepository {
	return &AdNetworkRepository{db: db}
}

func (r *AdNetworkRepository) Create(ctx context.Context, network *models.AdNetwork) error {
	return r.db.DB.WithContext(ctx).Create(network).Error
}

// ListActive returns active networks in priority order (lowest value first).
func (r *AdNetworkRepository) ListActive(ctx context.Context) ([]models.AdNetwork, error) {
	var networks []models.AdNetwork
	err := r.db.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority ASC, id ASC").
		Find(&networks).Error

	return networks, err
}
