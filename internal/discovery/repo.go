package discovery

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateJob(ctx context.Context, j *Job) error {
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkProcessing moves pending -> processing. Returns false when the job was
// not in pending (someone else already advanced it, or it is terminal).
func (r *Repo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusProcessing)
	return res.RowsAffected == 1, res.Error
}

// AddProgress adds to the job's counters. Additive on the storage side so
// concurrent workers and reordered deliveries can never overwrite a later
// count with an earlier snapshot. Only processing jobs accept progress.
func (r *Repo) AddProgress(ctx context.Context, id string, results int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"processed_results": gorm.Expr("processed_results + ?", results),
			"processed_runs":    gorm.Expr("processed_runs + ?", 1),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) SetCursor(ctx context.Context, id, cursor string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Update("cursor", cursor).Error
}

// CompleteJob moves processing -> completed. Guarded so a terminal job is
// never re-entered.
func (r *Repo) CompleteJob(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"completed_at": now,
			"error":        nil,
		})
	return res.RowsAffected == 1, res.Error
}

// FailJob moves processing -> error with a user-visible message.
func (r *Repo) FailJob(ctx context.Context, id string, msg string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":       StatusError,
			"error":        msg,
			"completed_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// TimeoutJob forces a non-terminal job whose deadline passed into timeout.
// Takes priority over every other transition, including completion.
func (r *Repo) TimeoutJob(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ? AND timeout_at <= ?",
			id, []Status{StatusPending, StatusProcessing}, now).
		Updates(map[string]any{
			"status":       StatusTimeout,
			"completed_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// ExistingIdentityKeys returns the identity keys already persisted for a job,
// for cross-batch dedup before insert.
func (r *Repo) ExistingIdentityKeys(ctx context.Context, jobID string) (map[string]struct{}, error) {
	var keys []string
	if err := r.db.WithContext(ctx).Model(&JobCreator{}).
		Where("job_id = ?", jobID).
		Pluck("identity_key", &keys).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

// InsertCreators persists net-new creators. The (job_id, identity_key)
// unique index plus ON CONFLICT DO NOTHING makes the insert safe under
// concurrent workers racing on the same creator; the returned count is the
// number of rows actually written.
func (r *Repo) InsertCreators(ctx context.Context, creators []JobCreator) (int, error) {
	if len(creators) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "identity_key"}},
			DoNothing: true,
		}).
		Create(&creators)
	return int(res.RowsAffected), res.Error
}

func (r *Repo) AppendResultBatch(ctx context.Context, b *ResultBatch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

// ApplyEnrichment merges enrichment fields into the creator row matched by
// identity key. A targeted update: discovery fields are never touched.
func (r *Repo) ApplyEnrichment(ctx context.Context, jobID, identityKey string, email *string, bioLinks []string, bio string, fetchedAt time.Time) error {
	updates := map[string]any{
		"email":        email,
		"enriched_at":  fetchedAt,
		"enrich_error": nil,
	}
	if len(bioLinks) > 0 {
		// Column is JSON-serialized; map-style updates bypass the serializer.
		if b, err := json.Marshal(bioLinks); err == nil {
			updates["bio_links"] = string(b)
		}
	}
	if bio != "" {
		updates["bio"] = bio
	}
	return r.db.WithContext(ctx).Model(&JobCreator{}).
		Where("job_id = ? AND identity_key = ?", jobID, identityKey).
		Updates(updates).Error
}

// RecordEnrichError captures a per-creator enrichment failure without
// touching anything else on the row.
func (r *Repo) RecordEnrichError(ctx context.Context, jobID, identityKey, msg string) error {
	return r.db.WithContext(ctx).Model(&JobCreator{}).
		Where("job_id = ? AND identity_key = ?", jobID, identityKey).
		Update("enrich_error", msg).Error
}

// ListCreators returns creators in DESC id order (newest -> oldest).
func (r *Repo) ListCreators(ctx context.Context, jobID string, limit int, beforeID uint64) ([]JobCreator, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var creators []JobCreator
	if err := q.Find(&creators).Error; err != nil {
		return nil, err
	}
	return creators, nil
}

// DeleteJob removes a job and everything it owns.
func (r *Repo) DeleteJob(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&JobCreator{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id = ?", id).Delete(&ResultBatch{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Job{}, "id = ?", id).Error
	})
}
