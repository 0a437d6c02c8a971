// Package token mints and validates the stream/download secrets that gate delivery.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	secretBytes    = 32
	maxDeviceIDLen = 128
)

// Kind selects which secret of a pair is presented.
type Kind string

const (
	KindStream   Kind = "stream"
	KindDownload Kind = "download"
)

// ContentLookup resolves content by its opaque handle, nil when absent.
type ContentLookup interface {
	FindByHandle(ctx context.Context, handle string) (*models.ContentObject, error)
}

// Pair is a freshly minted token pair. The secrets are only available here.
type Pair struct {
	Handle        string    `json:"handle"`
	StreamToken   string    `json:"stream_token"`
	DownloadToken string    `json:"download_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Validated is the result of a successful token check.
type Validated struct {
	Token   *models.AccessToken
	Content *models.ContentObject
}

type Config struct {
	Database *storage.Database
	Locks    *lock.Coordinator
	Content  ContentLookup
	Clock    func() time.Time
	Logger   *zap.Logger

	Grace       time.Duration // added to the content duration
	DefaultTTL  time.Duration // used when the duration is unknown or implausible
	MaxDuration time.Duration // durations above this are treated as unknown
	MinDuration time.Duration // floor applied to short content
}

type Issuer struct {
	db      *gorm.DB
	locks   *lock.Coordinator
	content ContentLookup
	clock   func() time.Time
	logger  *zap.Logger

	grace       time.Duration
	defaultTTL  time.Duration
	maxDuration time.Duration
	minDuration time.Duration
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Database == nil {
		return nil, errors.New("token issuer requires a database")
	}
	if cfg.Locks == nil {
		return nil, errors.New("token issuer requires a lock coordinator")
	}
	if cfg.Content == nil {
		return nil, errors.New("token issuer requires a content lookup")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Hour
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 2 * time.Hour
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 24 * time.Hour
	}

	return &Issuer{
		db:          cfg.Database.DB,
		locks:       cfg.Locks,
		content:     cfg.Content,
		clock:       clock,
		logger:      logging.OrNop(cfg.Logger),
		grace:       cfg.Grace,
		defaultTTL:  cfg.DefaultTTL,
		maxDuration: cfg.MaxDuration,
		minDuration: cfg.MinDuration,
	}, nil
}

// Expiry computes when a pair minted at now for content stops being valid.
func (i *Issuer) Expiry(content *models.ContentObject, now time.Time) time.Time {
	d := content.Duration()
	if d <= 0 || d > i.maxDuration {
		return now.Add(i.defaultTTL)
	}
	return now.Add(max(d, i.minDuration) + i.grace)
}

// Issue mints a new pair for (handle, deviceID), superseding any earlier pair for the same device and content.
func (i *Issuer) Issue(ctx context.Context, handle, deviceID string) (*Pair, error) {
	if deviceID == "" || len(deviceID) > maxDeviceIDLen {
		return nil, fmt.Errorf("device id: %w", apperr.ErrInvalidRequest)
	}

	content, err := i.activeContent(ctx, handle)
	if err != nil {
		return nil, err
	}

	stream, err := newSecret()
	if err != nil {
		return nil, err
	}
	download, err := newSecret()
	if err != nil {
		return nil, err
	}

	now := i.clock().UTC()
	row := models.AccessToken{
		ContentID:    content.ID,
		DeviceID:     deviceID,
		StreamHash:   HashSecret(stream),
		DownloadHash: HashSecret(download),
		ExpiresAt:    i.Expiry(content, now),
		CreatedAt:    now,
	}

	key := lock.NewKey("token", deviceID, content.ID.String())
	err = i.locks.WithExclusiveSection(ctx, key, func(tx *gorm.DB) error {
		// The lookup above may be served from cache. Holding a share lock on the row
		// orders this insert against a concurrent revoke, which deletes tokens after
		// flipping is_active.
		if err := i.lockActive(tx, content.ID, handle); err != nil {
			return err
		}
		if err := tx.Where("device_id = ? AND content_id = ?", deviceID, content.ID).
			Delete(&models.AccessToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("issue token for %s: %w", handle, err)
	}

	i.logger.Debug("token issued",
		zap.String("handle", handle),
		zap.String("device_id", deviceID),
		zap.Time("expires_at", row.ExpiresAt),
	)

	return &Pair{
		Handle:        content.Handle,
		StreamToken:   stream,
		DownloadToken: download,
		ExpiresAt:     row.ExpiresAt,
	}, nil
}

// Validate checks a presented secret of the given kind against the content behind handle.
func (i *Issuer) Validate(ctx context.Context, handle, secret string, kind Kind) (*Validated, error) {
	if secret == "" {
		return nil, apperr.ErrMissingCredential
	}

	column := "download_hash"
	if kind == KindStream {
		column = "stream_hash"
	}

	var row models.AccessToken
	err := i.db.WithContext(ctx).
		Where(column+" = ?", HashSecret(secret)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s token: %w", kind, apperr.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s token: %w", kind, err)
	}

	var content models.ContentObject
	err = i.db.WithContext(ctx).Where("id = ?", row.ContentID).Take(&content).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("content %s: %w", handle, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup content %s: %w", handle, err)
	}
	if content.Handle != handle {
		return nil, fmt.Errorf("%s token bound to other content: %w", kind, apperr.ErrUnauthorized)
	}
	if !content.IsActive {
		return nil, fmt.Errorf("content %s: %w", handle, apperr.ErrNotFound)
	}
	if row.Expired(i.clock()) {
		return nil, fmt.Errorf("%s token: %w", kind, apperr.ErrExpired)
	}

	return &Validated{Token: &row, Content: &content}, nil
}

// PruneExpired deletes tokens that expired before cutoff.
func (i *Issuer) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := i.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.AccessToken{})
	return result.RowsAffected, result.Error
}

func (i *Issuer) activeContent(ctx context.Context, handle string) (*models.ContentObject, error) {
	content, err := i.content.FindByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("lookup content %s: %w", handle, err)
	}
	if content == nil || !content.IsActive {
		return nil, fmt.Errorf("content %s: %w", handle, apperr.ErrNotFound)
	}
	return content, nil
}

// lockActive re-reads is_active inside tx. Postgres takes FOR SHARE on the row; sqlite
// already serializes writers.
func (i *Issuer) lockActive(tx *gorm.DB, contentID uuid.UUID, handle string) error {
	query := tx.Model(&models.ContentObject{}).Where("id = ?", contentID)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthShare})
	}

	var active []bool
	if err := query.Pluck("is_active", &active).Error; err != nil {
		return fmt.Errorf("lock content %s: %w", handle, err)
	}
	if len(active) == 0 || !active[0] {
		return fmt.Errorf("content %s: %w", handle, apperr.ErrNotFound)
	}
	return nil
}

// HashSecret is the stored form of a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
