package idempotency

import "time"

// IsEventStale reports whether an event predates the last applied change and
// must not be applied. The ledger blocks duplicate application; this blocks
// out-of-order application (an "updated" event arriving after a newer
// "deleted" event was already applied). Both checks are needed together.
//
// Events without a timestamp, or consumers that never applied anything, are
// never stale. An event timestamp equal to the last applied one is not stale
// either: equal-timestamp replays are already caught by the event-id ledger.
func IsEventStale(eventTimestamp, lastProcessedTimestamp time.Time) bool {
	if eventTimestamp.IsZero() || lastProcessedTimestamp.IsZero() {
		return false
	}
	return eventTimestamp.Before(lastProcessedTimestamp)
}
