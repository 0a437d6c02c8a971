// Package earning decides whether a premium delivery earns its publisher a credit.
package earning

import (
	"context"
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
	"gorm.io/gorm"
)

// Reasons reported with a Decision.
const (
	ReasonEarned        = "earned"
	ReasonNoMonthlyCap  = "plan_without_monthly_limit"
	ReasonInactive      = "publisher_inactive"
	ReasonAlreadyEarned = "already_earned_today"
	ReasonMonthlyCap    = "monthly_limit_reached"
)

type PublisherLookup interface {
	FindByID(ctx context.Context, id uint) (*models.Publisher, error)
}

// Claim asks whether a device fetching a publisher's content under a plan earns.
type Claim struct {
	PublisherID   uint   `json:"publisher_id"`
	DeviceID      string `json:"device_id"`
	ContentHandle string `json:"content_handle"`
	PlanID        uint   `json:"plan_id"`
	MonthlyLimit  int64  `json:"monthly_limit"`
}

type Decision struct {
	Eligible     bool   `json:"eligible"`
	Reason       string `json:"reason"`
	MonthlyCount int64  `json:"monthly_count"`
	MonthlyLimit int64  `json:"monthly_limit"`
	Remaining    int64  `json:"remaining"`
}

type Config struct {
	Database   *storage.Database
	Locks      *lock.Coordinator
	Quotas     *quota.Store
	Publishers PublisherLookup
	Clock      func() time.Time
	Logger     *zap.Logger
}

type Service struct {
	locks      *lock.Coordinator
	quotas     *quota.Store
	publishers PublisherLookup
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		locks:      cfg.Locks,
		quotas:     cfg.Quotas,
		publishers: cfg.Publishers,
		clock:      clock,
		logger:     logging.OrNop(cfg.Logger),
	}
}

// Evaluate records an earning when the claim is the first for (publisher, device, content) today
// and the device is under the plan's monthly cap. Crediting the balance is left to the caller.
func (s *Service) Evaluate(ctx context.Context, claim Claim) (Decision, error) {
	if claim.PublisherID == 0 || claim.PlanID == 0 || claim.DeviceID == "" || claim.ContentHandle == "" {
		return Decision{}, fmt.Errorf("incomplete earning claim: %w", apperr.ErrInvalidRequest)
	}
	if claim.MonthlyLimit <= 0 {
		return Decision{Reason: ReasonNoMonthlyCap}, nil
	}

	publisher, err := s.publishers.FindByID(ctx, claim.PublisherID)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup publisher: %w", err)
	}
	if publisher == nil {
		return Decision{}, fmt.Errorf("publisher %d: %w", claim.PublisherID, apperr.ErrNotFound)
	}
	if !publisher.IsActive {
		return Decision{Reason: ReasonInactive, MonthlyLimit: claim.MonthlyLimit}, nil
	}

	now := s.clock()
	plan := strconv.FormatUint(uint64(claim.PlanID), 10)
	counter := quota.Key{Subject: "earn|" + claim.DeviceID + "|" + plan, Window: quota.MonthWindow(now)}
	day := quota.DayWindow(now)

	decision := Decision{MonthlyLimit: claim.MonthlyLimit}
	err = s.locks.WithExclusiveSection(ctx, lock.NewKey("earn", claim.DeviceID, plan), func(tx *gorm.DB) error {
		// Claims under other plans share the daily tuple.
		daily := lock.NewKey("earn-daily", strconv.FormatUint(uint64(claim.PublisherID), 10), claim.DeviceID, claim.ContentHandle, day)
		if err := s.locks.Acquire(tx, daily); err != nil {
			return err
		}

		var earned int64
		err := tx.Model(&models.EarningRecord{}).
			Where("publisher_id = ? AND device_id = ? AND content_handle = ? AND earning_date = ?",
				claim.PublisherID, claim.DeviceID, claim.ContentHandle, day).
			Count(&earned).Error
		if err != nil {
			return fmt.Errorf("check daily earning: %w", err)
		}
		if earned > 0 {
			decision.Reason = ReasonAlreadyEarned
			return nil
		}

		res, err := s.quotas.TryIncrementTx(tx, counter, claim.MonthlyLimit)
		if err != nil {
			return err
		}
		decision.MonthlyCount = res.Count
		decision.Remaining = res.Remaining
		if !res.Granted {
			decision.Reason = ReasonMonthlyCap
			return nil
		}

		record := models.EarningRecord{
			PublisherID:   claim.PublisherID,
			DeviceID:      claim.DeviceID,
			ContentHandle: claim.ContentHandle,
			EarningDate:   day,
			PlanID:        claim.PlanID,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("record earning: %w", err)
		}

		decision.Eligible = true
		decision.Reason = ReasonEarned
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	s.logger.Debug("earning evaluated",
		zap.Uint("publisher_id", claim.PublisherID),
		zap.String("device_id", claim.DeviceID),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}
