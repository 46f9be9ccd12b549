// Package idempotency is the durable dedup barrier in front of every
// queue-delivered message. The queue guarantees at-least-once delivery; this
// ledger turns effect application into at-most-once.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ReasonNew               = "new"
	ReasonAlreadyCompleted  = "already_completed"
	ReasonAlreadyProcessing = "already_processing"
	ReasonRetryingFailed    = "retrying_failed"
	ReasonLedgerUnavailable = "ledger_unavailable"
)

type Decision struct {
	ShouldProcess bool   `json:"should_process"`
	Reason        string `json:"reason"`
}

type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewLedger(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}
}

// Check records the first sighting of an event id and decides whether the
// caller should process it. The insert-if-absent is a single atomic statement;
// when two deliveries race, exactly one insert wins and the loser re-queries.
//
// Storage errors fail open: duplicate processing is an acceptable cost, event
// loss is not.
func (l *Ledger) Check(ctx context.Context, eventID, source, eventType string, payload []byte) Decision {
	ev := Event{
		EventID:    eventID,
		Source:     source,
		EventType:  eventType,
		Status:     StatusProcessing,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&ev)
	if res.Error != nil {
		l.logger.Error("idempotency ledger unreachable, failing open",
			"event_id", eventID, "source", source, "error", res.Error)
		return Decision{ShouldProcess: true, Reason: ReasonLedgerUnavailable}
	}
	if res.RowsAffected == 1 {
		return Decision{ShouldProcess: true, Reason: ReasonNew}
	}

	// Insert lost to an existing row; read it to find out why.
	var existing Event
	err := l.db.WithContext(ctx).First(&existing, "event_id = ?", eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row vanished between insert and read (cleanup race). Treat as new.
			return Decision{ShouldProcess: true, Reason: ReasonNew}
		}
		l.logger.Error("idempotency ledger unreachable, failing open",
			"event_id", eventID, "source", source, "error", err)
		return Decision{ShouldProcess: true, Reason: ReasonLedgerUnavailable}
	}

	switch existing.Status {
	case StatusCompleted:
		return Decision{ShouldProcess: false, Reason: ReasonAlreadyCompleted}
	case StatusFailed:
		// Caller re-delivered a failed event: bump retry count and reclaim the
		// row. Guarded on status so only one concurrent retry wins.
		upd := l.db.WithContext(ctx).Model(&Event{}).
			Where("event_id = ? AND status = ?", eventID, StatusFailed).
			Updates(map[string]any{
				"status":      StatusProcessing,
				"retry_count": gorm.Expr("retry_count + 1"),
				"error":       nil,
			})
		if upd.Error != nil {
			l.logger.Error("idempotency ledger unreachable, failing open",
				"event_id", eventID, "source", source, "error", upd.Error)
			return Decision{ShouldProcess: true, Reason: ReasonLedgerUnavailable}
		}
		if upd.RowsAffected == 1 {
			return Decision{ShouldProcess: true, Reason: ReasonRetryingFailed}
		}
		return Decision{ShouldProcess: false, Reason: ReasonAlreadyProcessing}
	default:
		return Decision{ShouldProcess: false, Reason: ReasonAlreadyProcessing}
	}
}

func (l *Ledger) MarkCompleted(ctx context.Context, eventID string) error {
	now := time.Now()
	return l.db.WithContext(ctx).Model(&Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"processed_at": now,
			"error":        nil,
		}).Error
}

func (l *Ledger) MarkFailed(ctx context.Context, eventID string, msg string) error {
	now := time.Now()
	return l.db.WithContext(ctx).Model(&Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       StatusFailed,
			"processed_at": now,
			"error":        msg,
		}).Error
}

// Cleanup deletes completed rows older than the retention window. Failed rows
// are kept indefinitely for operator triage.
func (l *Ledger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := l.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", StatusCompleted, cutoff).
		Delete(&Event{})
	return res.RowsAffected, res.Error
}
