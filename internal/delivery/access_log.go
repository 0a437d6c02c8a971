package delivery

import (
	"context"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/metrics"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"go.uber.org/zap"
)

// AccessLogWriter persists a batch of access log entries.
type AccessLogWriter interface {
	CreateBatch(ctx context.Context, logs []models.AccessLog) error
}

type AccessLogConfig struct {
	Writer        AccessLogWriter
	BufferSize    int           // default 1000
	BatchSize     int           // default 100
	FlushInterval time.Duration // default 5s
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// AccessLogger queues access log entries and inserts them in batches from a single worker.
// Recording never blocks a delivery: when the queue is full the entry is dropped.
type AccessLogger struct {
	entries       chan models.AccessLog
	writer        AccessLogWriter
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

func NewAccessLogger(cfg AccessLogConfig) *AccessLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	return &AccessLogger{
		entries:       make(chan models.AccessLog, cfg.BufferSize),
		writer:        cfg.Writer,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logging.OrNop(cfg.Logger),
		metrics:       cfg.Metrics,
	}
}

// Record queues entry. Safe on a nil *AccessLogger.
func (l *AccessLogger) Record(entry models.AccessLog) {
	if l == nil {
		return
	}

	select {
	case l.entries <- entry:
	default:
		l.metrics.AccessLogDropped(1)
		l.logger.Warn("access log buffer full, dropping entry", zap.String("handle", entry.Handle))
	}
}

// Run inserts queued entries until ctx is done, then flushes what is left.
func (l *AccessLogger) Run(ctx context.Context) error {
	batch := make([]models.AccessLog, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := l.writer.CreateBatch(ctx, batch); err != nil {
			l.metrics.AccessLogDropped(len(batch))
			l.logger.Error("failed to insert access logs", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = make([]models.AccessLog, 0, l.batchSize)
	}

	for {
		select {
		case entry := <-l.entries:
			batch = append(batch, entry)
			if len(batch) >= l.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for {
				select {
				case entry := <-l.entries:
					batch = append(batch, entry)
					if len(batch) >= l.batchSize {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return nil
				}
			}
		}
	}
}
