package queue

import (
	"errors"
	"fmt"
)

type Type string

const (
	TypeSearch  Type = "search"
	TypeEnrich  Type = "enrich"
	TypeMonitor Type = "monitor"
)

// Worker callback paths the pipeline publishes to.
const (
	PathSearch  = "/internal/workers/search"
	PathEnrich  = "/internal/workers/enrich"
	PathMonitor = "/internal/workers/monitor"
)

// Delivery headers set by the push queue on every callback.
const (
	HeaderSignature = "X-Queue-Signature"
	HeaderMessageID = "X-Queue-Message-Id"
	HeaderRetried   = "X-Queue-Retried"
	HeaderDelay     = "X-Queue-Delay"
)

// CreatorRef is the slice of a discovered creator that travels inside an
// enrichment message: enough to find the row again, nothing more.
type CreatorRef struct {
	IdentityKey string `json:"identity_key"`
	Handle      string `json:"handle"`
}

// Message is the JSON body of every queue-delivered worker callback.
type Message struct {
	Type          Type         `json:"type"`
	JobID         string       `json:"job_id"`
	Platform      string       `json:"platform,omitempty"`
	Keyword       string       `json:"keyword,omitempty"`
	BatchIndex    int          `json:"batch_index"`
	TotalKeywords int          `json:"total_keywords,omitempty"`
	OwnerID       uint64       `json:"owner_id,omitempty"`
	Creators      []CreatorRef `json:"creators,omitempty"`
}

// Validate performs the structural check that must pass before any job state
// is touched.
func (m *Message) Validate() error {
	if m.JobID == "" {
		return errors.New("job_id required")
	}
	switch m.Type {
	case TypeSearch:
		if m.Platform == "" {
			return errors.New("platform required")
		}
		if m.Keyword == "" {
			return errors.New("keyword required")
		}
		if m.BatchIndex < 0 {
			return errors.New("batch_index must be >= 0")
		}
		if m.TotalKeywords <= 0 {
			return errors.New("total_keywords must be > 0")
		}
		if m.BatchIndex >= m.TotalKeywords {
			return fmt.Errorf("batch_index %d out of range (total %d)", m.BatchIndex, m.TotalKeywords)
		}
	case TypeEnrich:
		if m.Platform == "" {
			return errors.New("platform required")
		}
		if len(m.Creators) == 0 {
			return errors.New("creators required")
		}
		for i, c := range m.Creators {
			if c.IdentityKey == "" {
				return fmt.Errorf("creators[%d].identity_key required", i)
			}
		}
	case TypeMonitor:
		// job_id is enough
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}
