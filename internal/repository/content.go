package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"gorm.io/gorm"
)

type ContentRepository struct {
	db *storage.Database
}

func NewContentRepository(db *storage.Database) *ContentRepository {
	return &ContentRepository{db: db}
}

func (r *ContentRepository) Create(ctx context.Context, content *models.ContentObject) error {
	return r.db.DB.WithContext(ctx).Create(content).Error
}

// FindByHandle returns the object whether or not it is active, nil when absent.
func (r *ContentRepository) FindByHandle(ctx context.Context, handle string) (*models.ContentObject, error) {
	var content models.ContentObject
	err := r.db.DB.WithContext(ctx).
		Where("handle = ?", handle).
		First(&content).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	return &content, err
}

// Deactivate soft-deletes the object and drops its outstanding tokens in one transaction.
func (r *ContentRepository) Deactivate(ctx context.Context, handle string) (*models.ContentObject, error) {
	var content models.ContentObject

	err := r.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("handle = ?", handle).First(&content).Error; err != nil {
			return err
		}
		if err := tx.Model(&content).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Where("content_id = ?", content.ID).Delete(&models.AccessToken{}).Error
	})

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &content, nil
}
