package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/repository"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ContentService looks content up by handle through a short-lived shared cache.
// The database stays authoritative: revocation evicts the cache entry.
type ContentService struct {
	repository *repository.ContentRepository
	redis      *storage.RedisClient
	cacheTTL   time.Duration
	group      singleflight.Group
	logger     *zap.Logger
}

func NewContentService(repo *repository.ContentRepository, redis *storage.RedisClient, cacheTTL time.Duration, logger *zap.Logger) *ContentService {
	return &ContentService{
		repository: repo,
		redis:      redis,
		cacheTTL:   cacheTTL,
		logger:     logging.OrNop(logger),
	}
}

func contentCacheKey(handle string) string {
	return fmt.Sprintf("content:cache:%s", handle)
}

// cachedContent carries the fields the model hides from JSON responses.
type cachedContent struct {
	models.ContentObject
	Locator   string `json:"locator"`
	ObjectKey string `json:"object_key"`
}

// FindByHandle returns the object, or nil when no object has that handle. Inactive objects are returned too.
func (s *ContentService) FindByHandle(ctx context.Context, handle string) (*models.ContentObject, error) {
	cacheKey := contentCacheKey(handle)
	if cached, err := s.redis.Get(ctx, cacheKey); err == nil {
		var entry cachedContent
		if err := json.Unmarshal([]byte(cached), &entry); err == nil {
			content := entry.ContentObject
			content.Locator = entry.Locator
			content.ObjectKey = entry.ObjectKey
			return &content, nil
		}
	}

	v, err, _ := s.group.Do(handle, func() (interface{}, error) {
		content, err := s.repository.FindByHandle(ctx, handle)
		if err != nil || content == nil {
			return content, err
		}

		entry, err := json.Marshal(cachedContent{ContentObject: *content, Locator: content.Locator, ObjectKey: content.ObjectKey})
		if err == nil {
			if err := s.redis.Set(ctx, cacheKey, entry, s.cacheTTL); err != nil {
				s.logger.Warn("content cache write failed", zap.String("handle", handle), zap.Error(err))
			}
		}
		return content, nil
	})
	if err != nil {
		return nil, err
	}

	content, _ := v.(*models.ContentObject)
	if content == nil {
		return nil, nil
	}
	copied := *content
	return &copied, nil
}

// Register stores a new content object.
func (s *ContentService) Register(ctx context.Context, content *models.ContentObject) error {
	if content.Handle == "" || content.Locator == "" || content.Size < 0 {
		return fmt.Errorf("content needs a handle, a locator and a size: %w", apperr.ErrInvalidRequest)
	}
	content.IsActive = true
	return s.repository.Create(ctx, content)
}

// Revoke soft-deletes the object, drops its tokens and evicts the cache.
func (s *ContentService) Revoke(ctx context.Context, handle string) error {
	content, err := s.repository.Deactivate(ctx, handle)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("content %s: %w", handle, apperr.ErrNotFound)
	}

	if err := s.redis.Del(ctx, contentCacheKey(handle)); err != nil {
		s.logger.Warn("content cache eviction failed", zap.String("handle", handle), zap.Error(err))
	}

	s.logger.Info("content revoked", zap.String("handle", handle), zap.String("content_id", content.ID.String()))
	return nil
}
