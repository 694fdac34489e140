package gaplog

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/metrics"
	"github.com/learncoach/backend/internal/storage/models"
	"github.com/learncoach/backend/pkg/logger"
)

// Store is the durable sink for gap records. The sqlite client
// satisfies this.
type Store interface {
	InsertGapRecord(gap *models.GapRecord) error
}

// Log appends knowledge-gap records. A write failure never propagates
// to the caller; losing a single record is tolerable, so it is logged
// and counted instead of failing the user's answer.
type Log struct {
	store Store
}

func New(store Store) *Log {
	return &Log{store: store}
}

// Record assigns the identifier and timestamps, appends the record, and
// returns it. The returned record is valid even when the append failed.
func (l *Log) Record(gap *models.GapRecord) *models.GapRecord {
	now := time.Now()
	gap.ID = uuid.New().String()
	gap.Status = models.GapStatusPending
	gap.CreatedAt = now
	gap.UpdatedAt = now

	if err := l.store.InsertGapRecord(gap); err != nil {
		metrics.GapWriteFailures.Inc()
		logger.Error("Failed to persist gap record",
			zap.Error(err),
			zap.String("subject", gap.Subject),
			zap.Int("confidence", gap.Confidence),
		)
		return gap
	}

	metrics.GapRecordsTotal.Inc()
	return gap
}
