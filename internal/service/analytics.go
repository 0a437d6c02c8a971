package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/repository"
)

type AnalyticsService struct {
	repository *repository.AccessLogRepository
}

func NewAnalyticsService(repo *repository.AccessLogRepository) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

// Holds delivery analytics for a time range
type AccessSummary struct {
	TotalAttempts     int64              `json:"total_attempts"`
	Succeeded         int64              `json:"succeeded"`
	Failed            int64              `json:"failed"`
	SuccessRate       float64            `json:"success_rate"`
	BytesSent         int64              `json:"bytes_sent"`
	TopContent        []repository.Count `json:"top_content"`
	TopFailingClients []repository.Count `json:"top_failing_clients"`
}

// Retrieves the access summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AccessSummary, error) {
	summary := &AccessSummary{}

	succeeded, failed, err := s.repository.CountByOutcome(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.Succeeded = succeeded
	summary.Failed = failed
	summary.TotalAttempts = succeeded + failed

	if summary.TotalAttempts == 0 {
		return summary, nil
	}
	summary.SuccessRate = float64(succeeded) / float64(summary.TotalAttempts) * 100

	if summary.BytesSent, err = s.repository.SumBytes(ctx, from, to); err != nil {
		return nil, err
	}
	if summary.TopContent, err = s.repository.TopContent(ctx, from, to, 10); err != nil {
		return nil, err
	}
	if summary.TopFailingClients, err = s.repository.TopFailingClients(ctx, from, to, 10); err != nil {
		return nil, err
	}

	return summary, nil
}

// Retrieves access logs with pagination
func (s *AnalyticsService) GetLogs(ctx context.Context, from, to time.Time, onlyFailures bool, limit, offset int) ([]models.AccessLog, error) {
	return s.repository.FindByTimeRange(ctx, from, to, onlyFailures, limit, offset)
}

// Deletes logs older than the retention period
func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repository.DeleteOlderThan(ctx, time.Now().Add(-retention))
}
