package idempotency

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Named per-test memory DB: shared across this test's connections,
	// invisible to other tests.
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps concurrent tests off sqlite's cross-connection locks.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(openTestDB(t), slog.Default())
}

func TestCheck_NewEvent(t *testing.T) {
	l := newTestLedger(t)

	d := l.Check(context.Background(), "evt-1", "pushqueue", "search", []byte(`{"k":"v"}`))
	if !d.ShouldProcess || d.Reason != ReasonNew {
		t.Fatalf("expected new/true, got %+v", d)
	}

	var ev Event
	if err := l.db.First(&ev, "event_id = ?", "evt-1").Error; err != nil {
		t.Fatalf("row not inserted: %v", err)
	}
	if ev.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", ev.Status)
	}
	if string(ev.Payload) != `{"k":"v"}` {
		t.Fatalf("payload not kept: %q", ev.Payload)
	}
}

func TestCheck_DuplicateInFlight(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first := l.Check(ctx, "evt-2", "pushqueue", "search", nil)
	second := l.Check(ctx, "evt-2", "pushqueue", "search", nil)

	if !first.ShouldProcess {
		t.Fatalf("first delivery should process: %+v", first)
	}
	if second.ShouldProcess || second.Reason != ReasonAlreadyProcessing {
		t.Fatalf("duplicate in-flight delivery must no-op, got %+v", second)
	}
}

func TestCheck_ConcurrentDeliveriesHaveOneWinner(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const deliveries = 8
	decisions := make([]Decision, deliveries)

	var wg sync.WaitGroup
	wg.Add(deliveries)
	for i := 0; i < deliveries; i++ {
		go func(i int) {
			defer wg.Done()
			decisions[i] = l.Check(ctx, "evt-race", "pushqueue", "search", nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, d := range decisions {
		if d.ShouldProcess {
			if d.Reason != ReasonNew {
				t.Fatalf("delivery %d: winner must see reason new, got %+v", i, d)
			}
			winners++
			continue
		}
		if d.Reason != ReasonAlreadyProcessing {
			t.Fatalf("delivery %d: loser must see already_processing, got %+v", i, d)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	var count int64
	l.db.Model(&Event{}).Where("event_id = ?", "evt-race").Count(&count)
	if count != 1 {
		t.Fatalf("expected a single ledger row, got %d", count)
	}
}

func TestCheck_StorageErrorFailsOpen(t *testing.T) {
	db := openTestDB(t)
	l := NewLedger(db, slog.Default())

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	// An unreachable ledger must never drop the event.
	d := l.Check(context.Background(), "evt-down", "pushqueue", "search", nil)
	if !d.ShouldProcess || d.Reason != ReasonLedgerUnavailable {
		t.Fatalf("storage outage must fail open, got %+v", d)
	}
}

func TestCheck_CompletedIsPermanentBarrier(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	l.Check(ctx, "evt-3", "pushqueue", "enrich", nil)
	if err := l.MarkCompleted(ctx, "evt-3"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	for i := 0; i < 3; i++ {
		d := l.Check(ctx, "evt-3", "pushqueue", "enrich", nil)
		if d.ShouldProcess || d.Reason != ReasonAlreadyCompleted {
			t.Fatalf("redelivery %d of completed event must no-op, got %+v", i, d)
		}
	}
}

func TestCheck_FailedEventRetries(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	l.Check(ctx, "evt-4", "pushqueue", "search", nil)
	if err := l.MarkFailed(ctx, "evt-4", "provider exploded"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	d := l.Check(ctx, "evt-4", "pushqueue", "search", nil)
	if !d.ShouldProcess || d.Reason != ReasonRetryingFailed {
		t.Fatalf("failed event should be retryable, got %+v", d)
	}

	var ev Event
	if err := l.db.First(&ev, "event_id = ?", "evt-4").Error; err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Status != StatusProcessing {
		t.Fatalf("retry should reclaim row as processing, got %s", ev.Status)
	}
	if ev.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", ev.RetryCount)
	}
	if ev.Error != nil {
		t.Fatalf("error should be cleared on retry, got %v", *ev.Error)
	}

	// A second concurrent redelivery after the retry was claimed no-ops.
	d2 := l.Check(ctx, "evt-4", "pushqueue", "search", nil)
	if d2.ShouldProcess {
		t.Fatalf("only one retry claim may win, got %+v", d2)
	}
}

func TestCleanup_RetainsFailedRows(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	l.Check(ctx, "evt-old-done", "pushqueue", "search", nil)
	l.Check(ctx, "evt-old-failed", "pushqueue", "search", nil)
	l.Check(ctx, "evt-fresh-done", "pushqueue", "search", nil)

	_ = l.MarkCompleted(ctx, "evt-old-done")
	_ = l.MarkFailed(ctx, "evt-old-failed", "boom")
	_ = l.MarkCompleted(ctx, "evt-fresh-done")

	// Age the two "old" rows past the retention window.
	old := time.Now().Add(-31 * 24 * time.Hour)
	for _, id := range []string{"evt-old-done", "evt-old-failed"} {
		if err := l.db.Model(&Event{}).Where("event_id = ?", id).
			Update("processed_at", old).Error; err != nil {
			t.Fatalf("age row: %v", err)
		}
	}

	deleted, err := l.Cleanup(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row deleted, got %d", deleted)
	}

	var count int64
	l.db.Model(&Event{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected failed + fresh rows retained, got %d rows", count)
	}
	var failed Event
	if err := l.db.First(&failed, "event_id = ?", "evt-old-failed").Error; err != nil {
		t.Fatalf("failed row must be retained: %v", err)
	}
}

func TestIsEventStale(t *testing.T) {
	now := time.Now()

	if IsEventStale(now.Add(-time.Minute), now) != true {
		t.Fatalf("older event must be stale")
	}
	if IsEventStale(now.Add(time.Minute), now) != false {
		t.Fatalf("newer event must not be stale")
	}
	if IsEventStale(now, now) != false {
		t.Fatalf("equal timestamps are not stale")
	}
	if IsEventStale(time.Time{}, now) != false {
		t.Fatalf("events without a timestamp are never stale")
	}
	if IsEventStale(now, time.Time{}) != false {
		t.Fatalf("nothing applied yet means nothing is stale")
	}
}
