package idempotency

import "time"

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Event is one row per external message/event id. A row in "completed" is a
// permanent barrier against reprocessing that id.
type Event struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	EventID   string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Source    string `gorm:"type:varchar(64);index;not null"`
	EventType string `gorm:"type:varchar(64);not null"`

	Status     Status  `gorm:"type:varchar(16);index;not null"`
	RetryCount int     `gorm:"not null;default:0"`
	Error      *string `gorm:"type:text"`

	// Raw payload kept for replay/debugging.
	Payload []byte `gorm:"type:mediumblob"`

	ReceivedAt  time.Time  `gorm:"not null"`
	ProcessedAt *time.Time `gorm:"index"`
}

func (Event) TableName() string { return "webhook_events" }
