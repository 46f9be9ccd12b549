package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scoutkit/creator-pipeline/internal/enrich"
	"github.com/scoutkit/creator-pipeline/internal/identity"
	"github.com/scoutkit/creator-pipeline/internal/providers"
	"github.com/scoutkit/creator-pipeline/internal/queue"
)

// ErrJobNotFound is returned for messages referencing a deleted or unknown job.
var ErrJobNotFound = errors.New("job not found")

type ServiceConfig struct {
	ProviderName    string
	BatchSize       int
	Concurrency     int
	MonitorInterval time.Duration
	JobTimeout      time.Duration
}

type Service struct {
	repo      *Repo
	registry  *providers.Registry
	enricher  providers.Enrichment
	publisher queue.Publisher
	logger    *slog.Logger
	cfg       ServiceConfig
}

func NewService(repo *Repo, registry *providers.Registry, enricher providers.Enrichment, publisher queue.Publisher, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "scout"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = enrich.DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		// A full batch runs fully parallel unless an operator tightens it.
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		registry:  registry,
		enricher:  enricher,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateJob creates the pending job row.
func (s *Service) CreateJob(ctx context.Context, ownerID uint64, platform string, keywords []string, target int) (*Job, error) {
	j := &Job{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Platform:      platform,
		Keywords:      keywords,
		TargetResults: target,
		Status:        StatusPending,
		TimeoutAt:     time.Now().Add(s.cfg.JobTimeout),
	}
	if err := s.repo.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// StartJob enqueues the first search message and the first monitor tick.
func (s *Service) StartJob(ctx context.Context, j *Job) error {
	search := &queue.Message{
		Type:          queue.TypeSearch,
		JobID:         j.ID,
		Platform:      j.Platform,
		Keyword:       j.Keywords[0],
		BatchIndex:    0,
		TotalKeywords: len(j.Keywords),
		OwnerID:       j.OwnerID,
	}
	if _, err := s.publisher.Publish(ctx, queue.PathSearch, search, 0); err != nil {
		return err
	}

	monitor := &queue.Message{Type: queue.TypeMonitor, JobID: j.ID}
	if _, err := s.publisher.Publish(ctx, queue.PathMonitor, monitor, s.cfg.MonitorInterval); err != nil {
		return err
	}
	return nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

func (s *Service) ListCreators(ctx context.Context, jobID string, limit int, beforeID uint64) ([]JobCreator, error) {
	return s.repo.ListCreators(ctx, jobID, limit, beforeID)
}

func (s *Service) DeleteJob(ctx context.Context, id string) error {
	return s.repo.DeleteJob(ctx, id)
}

// SearchOutcome is the structured result of one search-worker invocation,
// returned in the worker's 200 response body.
type SearchOutcome struct {
	JobID       string `json:"job_id"`
	Status      Status `json:"status"`
	Action      string `json:"action"`
	Found       int    `json:"found"`
	NewCreators int    `json:"new_creators"`
	Duplicates  int    `json:"duplicates"`
	NextKeyword string `json:"next_keyword,omitempty"`
	Batches     int    `json:"enrich_batches"`
}

// HandleSearch runs one keyword search for a job: provider call, dedup,
// persistence, progress and the decision about what to dispatch next.
// Returned errors are business failures the caller reports with a 200 so the
// queue does not blindly retry them.
func (s *Service) HandleSearch(ctx context.Context, msg *queue.Message) (*SearchOutcome, error) {
	job, err := s.GetJob(ctx, msg.JobID)
	if err != nil {
		return nil, err
	}

	// Terminal jobs ignore every further message. This single guard is what
	// keeps duplicate messages from multiplying under queue retries.
	if job.Status.Terminal() {
		return &SearchOutcome{JobID: job.ID, Status: job.Status, Action: "terminal_noop"}, nil
	}

	now := time.Now()
	if now.After(job.TimeoutAt) {
		_, _ = s.repo.TimeoutJob(ctx, job.ID, now)
		return &SearchOutcome{JobID: job.ID, Status: StatusTimeout, Action: "timeout"}, nil
	}

	if job.Status == StatusPending {
		if _, err := s.repo.MarkProcessing(ctx, job.ID); err != nil {
			return nil, err
		}
	}

	provider, err := s.registry.Get(ctx, s.cfg.ProviderName)
	if err != nil {
		return nil, s.failJob(ctx, job.ID, err)
	}

	page, err := provider.Search(ctx, msg.Platform, msg.Keyword, job.Cursor)
	if err != nil {
		return nil, s.failJob(ctx, job.ID, fmt.Errorf("discovery provider: %w", err))
	}

	deduped := identity.Dedupe(page.Creators, msg.Platform)
	existing, err := s.repo.ExistingIdentityKeys(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	rows := make([]JobCreator, 0, len(deduped))
	for _, raw := range deduped {
		key := identity.Key(raw, msg.Platform)
		if _, seen := existing[key]; seen {
			continue
		}
		rows = append(rows, normalizeCreator(raw, job.ID, msg.Platform, key))
	}

	inserted, err := s.repo.InsertCreators(ctx, rows)
	if err != nil {
		return nil, err
	}

	batchJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendResultBatch(ctx, &ResultBatch{
		JobID:    job.ID,
		Keyword:  msg.Keyword,
		Creators: batchJSON,
		Found:    len(page.Creators),
	}); err != nil {
		return nil, err
	}

	// Additive increment; refused when the job reached a terminal state while
	// this worker was in flight.
	advanced, err := s.repo.AddProgress(ctx, job.ID, inserted)
	if err != nil {
		return nil, err
	}
	if !advanced {
		current, err := s.GetJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		return &SearchOutcome{JobID: job.ID, Status: current.Status, Action: "terminal_noop",
			Found: len(page.Creators)}, nil
	}

	if page.Cursor != "" {
		if err := s.repo.SetCursor(ctx, job.ID, page.Cursor); err != nil {
			return nil, err
		}
	}

	outcome := &SearchOutcome{
		JobID:       job.ID,
		Status:      StatusProcessing,
		Found:       len(page.Creators),
		NewCreators: inserted,
		Duplicates:  len(page.Creators) - inserted,
	}

	if inserted > 0 {
		refs := make([]queue.CreatorRef, 0, len(rows))
		for _, r := range rows {
			refs = append(refs, queue.CreatorRef{IdentityKey: r.IdentityKey, Handle: r.Handle})
		}
		for _, batch := range enrich.Split(refs, s.cfg.BatchSize) {
			enrichMsg := &queue.Message{
				Type:     queue.TypeEnrich,
				JobID:    job.ID,
				Platform: msg.Platform,
				OwnerID:  job.OwnerID,
				Creators: batch,
			}
			if _, err := s.publisher.Publish(ctx, queue.PathEnrich, enrichMsg, 0); err != nil {
				return nil, err
			}
			outcome.Batches++
		}
	}

	processed := job.ProcessedResults + inserted
	nextIndex := msg.BatchIndex + 1

	switch {
	case processed >= job.TargetResults:
		if err := s.completeOrReport(ctx, job.ID, outcome); err != nil {
			return nil, err
		}

	case page.HasMore:
		// Same keyword, next page via the stored cursor.
		again := &queue.Message{
			Type:          queue.TypeSearch,
			JobID:         job.ID,
			Platform:      msg.Platform,
			Keyword:       msg.Keyword,
			BatchIndex:    msg.BatchIndex,
			TotalKeywords: msg.TotalKeywords,
			OwnerID:       job.OwnerID,
		}
		if _, err := s.publisher.Publish(ctx, queue.PathSearch, again, 0); err != nil {
			return nil, err
		}
		outcome.Action = "continue_keyword"
		outcome.NextKeyword = msg.Keyword

	case nextIndex < len(job.Keywords):
		next := &queue.Message{
			Type:          queue.TypeSearch,
			JobID:         job.ID,
			Platform:      msg.Platform,
			Keyword:       job.Keywords[nextIndex],
			BatchIndex:    nextIndex,
			TotalKeywords: len(job.Keywords),
			OwnerID:       job.OwnerID,
		}
		if _, err := s.publisher.Publish(ctx, queue.PathSearch, next, 0); err != nil {
			return nil, err
		}
		outcome.Action = "next_keyword"
		outcome.NextKeyword = job.Keywords[nextIndex]

	default:
		// Keyword list exhausted, nothing left to continue.
		if err := s.completeOrReport(ctx, job.ID, outcome); err != nil {
			return nil, err
		}
	}

	return outcome, nil
}

// completeOrReport moves the job to completed. When the guarded transition
// loses a race against another terminal transition (a monitor timing the job
// out mid-flight), the outcome reports the state that actually won, never a
// completion the row does not show.
func (s *Service) completeOrReport(ctx context.Context, jobID string, outcome *SearchOutcome) error {
	done, err := s.repo.CompleteJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !done {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		outcome.Status = current.Status
		outcome.Action = "terminal_noop"
		return nil
	}
	outcome.Status = StatusCompleted
	outcome.Action = "completed"
	return nil
}

// failJob records an unrecoverable business failure on the job, then returns
// the original error for the worker response body.
func (s *Service) failJob(ctx context.Context, jobID string, cause error) error {
	if _, err := s.repo.FailJob(ctx, jobID, cause.Error()); err != nil {
		s.logger.Error("failed to record job error", "job_id", jobID, "error", err)
	}
	return cause
}

// EnrichOutcome is the structured result of one enrichment-batch invocation.
type EnrichOutcome struct {
	JobID    string            `json:"job_id"`
	Enriched int               `json:"enriched"`
	Failed   int               `json:"failed"`
	Errors   map[string]string `json:"errors,omitempty"` // identity key -> error
}

// HandleEnrich enriches one batch of creators. Lookups run in parallel
// within the batch; the bound defaults to the batch size and only exists as a
// knob for operators who need to throttle the provider. A per-creator failure is recorded on its row
// and does not fail the batch. Enrichment is not gated on job status: a batch
// dispatched just before the job completed must still land, and the merge
// never touches job state.
func (s *Service) HandleEnrich(ctx context.Context, msg *queue.Message) (*EnrichOutcome, error) {
	if _, err := s.GetJob(ctx, msg.JobID); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, s.cfg.Concurrency)
		outcome = &EnrichOutcome{JobID: msg.JobID, Errors: make(map[string]string)}
	)

	wg.Add(len(msg.Creators))
	for _, ref := range msg.Creators {
		go func(ref queue.CreatorRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			profile, err := s.enricher.Lookup(ctx, msg.Platform, ref.Handle)
			if err != nil {
				_ = s.repo.RecordEnrichError(ctx, msg.JobID, ref.IdentityKey, err.Error())
				mu.Lock()
				outcome.Failed++
				outcome.Errors[ref.IdentityKey] = err.Error()
				mu.Unlock()
				return
			}

			email := profile.Email
			if email == "" {
				email = enrich.ExtractEmail(profile.Bio)
			}
			var emailPtr *string
			if email != "" {
				emailPtr = &email
			}

			if err := s.repo.ApplyEnrichment(ctx, msg.JobID, ref.IdentityKey, emailPtr, profile.BioLinks, profile.Bio, profile.FetchedAt); err != nil {
				mu.Lock()
				outcome.Failed++
				outcome.Errors[ref.IdentityKey] = err.Error()
				mu.Unlock()
				return
			}

			mu.Lock()
			outcome.Enriched++
			mu.Unlock()
		}(ref)
	}
	wg.Wait()

	if len(outcome.Errors) == 0 {
		outcome.Errors = nil
	}
	return outcome, nil
}

// MonitorOutcome is the continuation monitor's response.
type MonitorOutcome struct {
	JobID            string `json:"job_id"`
	Status           Status `json:"status"`
	ProcessedResults int    `json:"processed_results"`
	TargetResults    int    `json:"target_results"`
	Monitoring       bool   `json:"monitoring"`
}

// HandleMonitor is the self-rescheduling status check. It schedules exactly
// one follow-up, and only when the job status is exactly processing: a
// looser "not yet done" check would reschedule forever under any unexpected
// status, including after the job already failed.
func (s *Service) HandleMonitor(ctx context.Context, msg *queue.Message) (*MonitorOutcome, error) {
	job, err := s.GetJob(ctx, msg.JobID)
	if err != nil {
		return nil, err
	}

	outcome := &MonitorOutcome{
		JobID:            job.ID,
		Status:           job.Status,
		ProcessedResults: job.ProcessedResults,
		TargetResults:    job.TargetResults,
	}

	if job.Status.Terminal() {
		return outcome, nil
	}

	now := time.Now()
	if now.After(job.TimeoutAt) {
		if _, err := s.repo.TimeoutJob(ctx, job.ID, now); err != nil {
			return nil, err
		}
		outcome.Status = StatusTimeout
		return outcome, nil
	}

	if job.Status == StatusProcessing {
		next := &queue.Message{Type: queue.TypeMonitor, JobID: job.ID}
		if _, err := s.publisher.Publish(ctx, queue.PathMonitor, next, s.cfg.MonitorInterval); err != nil {
			return nil, err
		}
		outcome.Monitoring = true
	}
	return outcome, nil
}

// normalizeCreator maps a raw provider record into the platform-agnostic row.
func normalizeCreator(raw map[string]any, jobID, platform, identityKey string) JobCreator {
	rawJSON, _ := json.Marshal(raw)
	return JobCreator{
		JobID:       jobID,
		IdentityKey: identityKey,
		Platform:    platform,
		Handle:      stringField(raw, "uniqueId", "unique_id", "username", "userName", "handle", "screenName", "screen_name", "channelId", "channel_id"),
		DisplayName: stringField(raw, "nickname", "displayName", "display_name", "fullName", "full_name", "title", "name"),
		Followers:   numberField(raw, "followerCount", "follower_count", "followers", "fans", "subscriberCount", "subscriber_count"),
		Bio:         stringField(raw, "signature", "biography", "bio", "description"),
		Raw:         rawJSON,
	}
}

var displayContainers = []string{"profile", "account", "author", "owner", "user", "creator", "channel", "stats"}

func stringField(raw map[string]any, names ...string) string {
	for _, name := range names {
		if s, ok := raw[name].(string); ok && s != "" {
			return s
		}
		for _, container := range displayContainers {
			if sub, ok := raw[container].(map[string]any); ok {
				if s, ok := sub[name].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func numberField(raw map[string]any, names ...string) int64 {
	for _, name := range names {
		if n, ok := asInt64(raw[name]); ok {
			return n
		}
		for _, container := range displayContainers {
			if sub, ok := raw[container].(map[string]any); ok {
				if n, ok := asInt64(sub[name]); ok {
					return n
				}
			}
		}
	}
	return 0
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
