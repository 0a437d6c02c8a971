package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/repository"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const apiKeyCacheTTL = 5 * time.Minute

type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient
	logger     *zap.Logger
}

func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		redis:      redis,
		logger:     logging.OrNop(logger),
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func apiKeyCacheKey(hash string) string {
	return fmt.Sprintf("apikey:cache:%s", hash)
}

// Create stores a new key and returns the plain value. It is never retrievable again.
func (s *APIKeyService) Create(ctx context.Context, name, createdBy, scope string) (string, *models.APIKey, error) {
	switch scope {
	case models.ScopeDelivery, models.ScopeAds, models.ScopeEarning, models.ScopeAdmin:
	default:
		return "", nil, fmt.Errorf("unknown scope %q: %w", scope, apperr.ErrInvalidRequest)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	key := "mg_" + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := models.APIKey{
		KeyHash:   hashKey(key),
		Name:      name,
		CreatedBy: createdBy,
		Scope:     scope,
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, &apiKey, nil
}

// Validate resolves a plain key to its active record, nil when unknown or revoked.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)
	cacheKey := apiKeyCacheKey(keyHash)

	if cached, err := s.redis.Get(ctx, cacheKey); err == nil && cached != "" {
		var apiKey models.APIKey
		if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
			return &apiKey, nil
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil || apiKey == nil {
		return nil, err
	}

	if apiKeyJSON, err := json.Marshal(apiKey); err == nil {
		if err := s.redis.Set(ctx, cacheKey, apiKeyJSON, apiKeyCacheTTL); err != nil {
			s.logger.Warn("api key cache write failed", zap.Error(err))
		}
	}

	return apiKey, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

// Revoke deactivates a key and evicts it from the shared cache.
func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return fmt.Errorf("api key %s: %w", id, apperr.ErrNotFound)
	}

	if err := s.repository.SetActive(ctx, id, false); err != nil {
		return err
	}

	return s.redis.Del(ctx, apiKeyCacheKey(apiKey.KeyHash))
}

// TouchLastUsed records usage without blocking the request.
func (s *APIKeyService) TouchLastUsed(ctx context.Context, id uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.repository.UpdateLastUsed(ctx, id, time.Now().UTC()); err != nil {
			s.logger.Debug("api key last-used update failed", zap.Error(err))
		}
	}()
}
