package discovery

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether s is a final state. Terminal jobs are never
// reopened; every message arriving for one is a no-op.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Job is one discovery run covering a keyword set for one owner/platform.
type Job struct {
	ID       string `gorm:"primaryKey;size:36"` // UUID
	OwnerID  uint64 `gorm:"index;not null"`
	Platform string `gorm:"type:varchar(16);not null"`

	Keywords []string `gorm:"serializer:json;type:text;not null"`

	TargetResults    int `gorm:"not null"`
	ProcessedResults int `gorm:"not null;default:0"`
	ProcessedRuns    int `gorm:"not null;default:0"`

	// Opaque continuation token from the discovery provider.
	Cursor string `gorm:"type:varchar(512)"`

	Status Status  `gorm:"type:varchar(16);index;not null"`
	Error  *string `gorm:"type:text"`

	TimeoutAt   time.Time `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (Job) TableName() string { return "scraping_jobs" }

// ResultBatch is the raw normalized output of one search-worker invocation:
// the keyword that produced it plus the creators it found, as delivered.
type ResultBatch struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	JobID     string `gorm:"size:36;index;not null"`
	Keyword   string `gorm:"type:varchar(255);not null"`
	Creators  []byte `gorm:"type:mediumblob"` // JSON array of normalized creators
	Found     int    `gorm:"not null"`
	CreatedAt time.Time
}

func (ResultBatch) TableName() string { return "scraping_results" }

// JobCreator is one deduplicated creator for a job. The identity key is
// derived on write, never stored upstream; the per-job unique index is the
// durable cross-batch dedup barrier.
type JobCreator struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	JobID       string `gorm:"size:36;not null;index:uniq_job_creator,unique,priority:1"`
	IdentityKey string `gorm:"type:varchar(255);not null;index:uniq_job_creator,unique,priority:2"`

	Platform    string `gorm:"type:varchar(16);not null"`
	Handle      string `gorm:"type:varchar(255)"`
	DisplayName string `gorm:"type:varchar(255)"`
	Followers   int64  `gorm:"not null;default:0"`
	Bio         string `gorm:"type:text"`
	Raw         []byte `gorm:"type:mediumblob"`

	// Enrichment fields, merged later by identity key. Never part of the
	// initial write.
	Email       *string    `gorm:"type:varchar(255)"`
	BioLinks    []string   `gorm:"serializer:json;type:text"`
	EnrichedAt  *time.Time
	EnrichError *string `gorm:"type:text"`

	CreatedAt time.Time
}

func (JobCreator) TableName() string { return "job_creators" }
