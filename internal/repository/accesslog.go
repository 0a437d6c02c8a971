package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/storage"
)

type AccessLogRepository struct {
	db *storage.Database
}

func NewAccessLogRepository(db *storage.Database) *AccessLogRepository {
	return &AccessLogRepository{db: db}
}

// Inserts multiple access logs (for batch insertion)
func (r *AccessLogRepository) CreateBatch(ctx context.Context, logs []models.AccessLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Retrieves logs within a time range, newest first
func (r *AccessLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, onlyFailures bool, limit, offset int) ([]models.AccessLog, error) {
	var logs []models.AccessLog

	query := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if onlyFailures {
		query = query.Where("success = ?", false)
	}

	err := query.
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

// Counts attempts in a time range, split by outcome
func (r *AccessLogRepository) CountByOutcome(ctx context.Context, from, to time.Time) (succeeded, failed int64, err error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.AccessLog{}).
		Select("success, COUNT(*)").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("success").
		Rows()
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var success bool
		var count int64
		if err := rows.Scan(&success, &count); err != nil {
			return 0, 0, err
		}
		if success {
			succeeded = count
		} else {
			failed = count
		}
	}

	return succeeded, failed, rows.Err()
}

// Sums bytes delivered in a time range
func (r *AccessLogRepository) SumBytes(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AccessLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(SUM(bytes_sent), 0)").
		Scan(&total).Error

	return total, err
}

// Count is one row of a grouped count.
type Count struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Returns the most accessed content handles
func (r *AccessLogRepository) TopContent(ctx context.Context, from, to time.Time, limit int) ([]Count, error) {
	var results []Count

	err := r.db.DB.WithContext(ctx).
		Model(&models.AccessLog{}).
		Select("handle AS value, COUNT(*) AS count").
		Where("timestamp BETWEEN ? AND ? AND success = ?", from, to, true).
		Group("handle").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Returns client IPs with the most failed attempts, the usual sign of token guessing
func (r *AccessLogRepository) TopFailingClients(ctx context.Context, from, to time.Time, limit int) ([]Count, error) {
	var results []Count

	err := r.db.DB.WithContext(ctx).
		Model(&models.AccessLog{}).
		Select("client_ip AS value, COUNT(*) AS count").
		Where("timestamp BETWEEN ? AND ? AND success = ?", from, to, false).
		Group("client_ip").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *AccessLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AccessLog{})

	return result.RowsAffected, result.Error
}
