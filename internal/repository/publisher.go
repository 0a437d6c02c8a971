package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"gorm.io/gorm"
)

type PublisherRepository struct {
	db *storage.Database
}

func NewPublisherRepository(db *storage.Database) *PublisherRepository {
	return &PublisherRepository{db: db}
}

func (r *PublisherRepository) FindByID(ctx context.Context, id uint) (*models.Publisher, error) {
	var publisher models.Publisher
	err := r.db.DB.WithContext(ctx).First(&publisher, id).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	return &publisher, err
}
