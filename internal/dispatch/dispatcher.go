// Package dispatch hands out ad impressions across networks under per-subject daily caps.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/quota"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NetworkLister returns active networks in priority order.
type NetworkLister interface {
	ListActive(ctx context.Context) ([]models.AdNetwork, error)
}

// Subject is who an impression is counted against: the device when known, the client IP otherwise.
type Subject struct {
	DeviceID string
	ClientIP string
}

func (s Subject) Key() string {
	if s.DeviceID != "" {
		return "device:" + s.DeviceID
	}
	if s.ClientIP != "" {
		return "ip:" + s.ClientIP
	}
	return ""
}

// Grant is one reserved impression. Token is presented back to MarkPlayed.
type Grant struct {
	Token       string `json:"unique_id"`
	NetworkID   uint   `json:"network_id"`
	NetworkName string `json:"network_name"`
	AdType      string `json:"ad_type"`
	AdUnitID    string `json:"ad_unit_id"`
	DailyLimit  int64  `json:"daily_limit"`
	Count       int64  `json:"current_count"`
	Remaining   int64  `json:"remaining"`
	Unlimited   bool   `json:"unlimited"`
}

// PlayResult is the confirmation payload; replays return the stored copy unchanged.
type PlayResult struct {
	Token       string    `json:"unique_id"`
	NetworkID   uint      `json:"network_id"`
	NetworkName string    `json:"network_name"`
	AdType      string    `json:"ad_type"`
	AdUnitID    string    `json:"ad_unit_id"`
	PlayCount   int64     `json:"play_count"`
	PlayedAt    time.Time `json:"played_at"`
}

// NetworkLimit is the reporting view of one network's counters for a subject.
type NetworkLimit struct {
	NetworkID    uint   `json:"network_id"`
	NetworkName  string `json:"network_name"`
	AdType       string `json:"ad_type"`
	AdUnitID     string `json:"ad_unit_id"`
	Priority     int    `json:"priority"`
	DailyLimit   int64  `json:"daily_limit"`
	Granted      int64  `json:"granted"`
	Played       int64  `json:"played"`
	Remaining    int64  `json:"remaining"`
	LimitReached bool   `json:"limit_reached"`
	Unlimited    bool   `json:"unlimited"`
}

type Config struct {
	Database *storage.Database
	Locks    *lock.Coordinator
	Quotas   *quota.Store
	Networks NetworkLister
	Clock    func() time.Time
	Logger   *zap.Logger
}

type Dispatcher struct {
	db       *gorm.DB
	locks    *lock.Coordinator
	quotas   *quota.Store
	networks NetworkLister
	clock    func() time.Time
	logger   *zap.Logger
}

func New(cfg Config) *Dispatcher {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Dispatcher{
		db:       cfg.Database.DB,
		locks:    cfg.Locks,
		quotas:   cfg.Quotas,
		networks: cfg.Networks,
		clock:    clock,
		logger:   logging.OrNop(cfg.Logger),
	}
}

func grantCounter(networkID uint, adType, subject string) string {
	return "ad|" + strconv.FormatUint(uint64(networkID), 10) + "|" + adType + "|" + subject
}

func playCounter(networkID uint, adType, subject string) string {
	return "play|" + strconv.FormatUint(uint64(networkID), 10) + "|" + adType + "|" + subject
}

// RequestGrant reserves an impression of adType from the first network, in priority order,
// whose daily cap for subject is not reached. It returns nil without error when every
// network is exhausted.
func (d *Dispatcher) RequestGrant(ctx context.Context, adType string, subject Subject) (*Grant, error) {
	if !models.ValidAdType(adType) {
		return nil, fmt.Errorf("ad type %q: %w", adType, apperr.ErrInvalidRequest)
	}
	subjectKey := subject.Key()
	if subjectKey == "" {
		return nil, fmt.Errorf("device id or client ip required: %w", apperr.ErrInvalidRequest)
	}

	networks, err := d.networks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ad networks: %w", err)
	}

	candidates := make([]models.AdNetwork, 0, len(networks))
	for _, n := range networks {
		if unit, _ := n.Unit(adType); unit != "" {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	token, err := newGrantToken()
	if err != nil {
		return nil, err
	}
	window := quota.DayWindow(d.clock())

	var grant *Grant
	key := lock.NewKey("ad", adType, subjectKey)
	err = d.locks.WithExclusiveSection(ctx, key, func(tx *gorm.DB) error {
		for _, n := range candidates {
			unit, limit := n.Unit(adType)
			counter := quota.Key{Subject: grantCounter(n.ID, adType, subjectKey), Window: window}

			res, err := d.quotas.TryIncrementTx(tx, counter, limit)
			if err != nil {
				return err
			}
			if !res.Granted {
				continue
			}

			row := models.PendingAdGrant{
				Token:       token,
				NetworkID:   n.ID,
				NetworkName: n.Name,
				AdType:      adType,
				AdUnitID:    unit,
				DeviceID:    subject.DeviceID,
				ClientIP:    subject.ClientIP,
				SubjectKey:  subjectKey,
				WindowKey:   window,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("record grant: %w", err)
			}

			grant = &Grant{
				Token:       token,
				NetworkID:   n.ID,
				NetworkName: n.Name,
				AdType:      adType,
				AdUnitID:    unit,
				DailyLimit:  limit,
				Count:       res.Count,
				Remaining:   res.Remaining,
				Unlimited:   limit <= 0,
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request %s grant: %w", adType, err)
	}

	if grant == nil {
		d.logger.Debug("ad supply exhausted", zap.String("ad_type", adType), zap.String("subject", subjectKey))
	}
	return grant, nil
}

// MarkPlayed confirms a grant. The first call records the play; later calls return the same payload
// and change nothing.
func (d *Dispatcher) MarkPlayed(ctx context.Context, grantToken, deviceID string) (*PlayResult, error) {
	if grantToken == "" {
		return nil, fmt.Errorf("grant token required: %w", apperr.ErrInvalidRequest)
	}

	var result PlayResult
	err := d.locks.WithExclusiveSection(ctx, lock.NewKey("grant", grantToken), func(tx *gorm.DB) error {
		var grant models.PendingAdGrant
		err := tx.Where("token = ?", grantToken).Take(&grant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("grant: %w", apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load grant: %w", err)
		}

		if grant.DeviceID != "" && grant.DeviceID != deviceID {
			return fmt.Errorf("grant bound to another device: %w", apperr.ErrForbidden)
		}

		if grant.IsPlayed {
			return json.Unmarshal(grant.Result, &result)
		}

		counter := quota.Key{Subject: playCounter(grant.NetworkID, grant.AdType, grant.SubjectKey), Window: grant.WindowKey}
		res, err := d.quotas.TryIncrementTx(tx, counter, 0)
		if err != nil {
			return err
		}

		now := d.clock().UTC()
		result = PlayResult{
			Token:       grant.Token,
			NetworkID:   grant.NetworkID,
			NetworkName: grant.NetworkName,
			AdType:      grant.AdType,
			AdUnitID:    grant.AdUnitID,
			PlayCount:   res.Count,
			PlayedAt:    now,
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}

		return tx.Model(&grant).Updates(map[string]any{
			"is_played": true,
			"played_at": now,
			"result":    datatypes.JSON(payload),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// Limits reports today's counters for subject on every active network carrying adType,
// or every type when adType is empty. Reads are unlocked and may be slightly stale.
func (d *Dispatcher) Limits(ctx context.Context, adType string, subject Subject) ([]NetworkLimit, error) {
	types := []string{models.AdTypeBanner, models.AdTypeInterstitial, models.AdTypeRewarded}
	if adType != "" {
		if !models.ValidAdType(adType) {
			return nil, fmt.Errorf("ad type %q: %w", adType, apperr.ErrInvalidRequest)
		}
		types = []string{adType}
	}
	subjectKey := subject.Key()
	if subjectKey == "" {
		return nil, fmt.Errorf("device id or client ip required: %w", apperr.ErrInvalidRequest)
	}

	networks, err := d.networks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ad networks: %w", err)
	}

	window := quota.DayWindow(d.clock())
	limits := make([]NetworkLimit, 0, len(networks)*len(types))
	for _, n := range networks {
		for _, t := range types {
			unit, limit := n.Unit(t)
			if unit == "" {
				continue
			}

			granted, err := d.quotas.Peek(ctx, quota.Key{Subject: grantCounter(n.ID, t, subjectKey), Window: window})
			if err != nil {
				return nil, err
			}
			played, err := d.quotas.Peek(ctx, quota.Key{Subject: playCounter(n.ID, t, subjectKey), Window: window})
			if err != nil {
				return nil, err
			}

			limits = append(limits, NetworkLimit{
				NetworkID:    n.ID,
				NetworkName:  n.Name,
				AdType:       t,
				AdUnitID:     unit,
				Priority:     n.Priority,
				DailyLimit:   limit,
				Granted:      granted,
				Played:       played,
				Remaining:    quota.Remaining(granted, limit),
				LimitReached: limit > 0 && granted >= limit,
				Unlimited:    limit <= 0,
			})
		}
	}

	return limits, nil
}

// PruneGrants deletes grants created before cutoff. Their counters are unaffected.
func (d *Dispatcher) PruneGrants(ctx context.Context, cutoff time.Time) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.PendingAdGrant{})
	return result.RowsAffected, result.Error
}

func newGrantToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate grant token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
