package identity

import (
	"math"
	"strings"
	"testing"
)

func TestKey_Deterministic(t *testing.T) {
	record := map[string]any{
		"uniqueId":  "FitnessGuru",
		"followers": float64(12000),
		"profile":   map[string]any{"username": "other"},
	}

	first := Key(record, "tiktok")
	for i := 0; i < 10; i++ {
		if got := Key(record, "tiktok"); got != first {
			t.Fatalf("key not stable: %q vs %q", got, first)
		}
	}
	if first != "tiktok|fitnessguru" {
		t.Fatalf("unexpected key: %q", first)
	}
}

func TestKey_FieldPriorityOverContainerDepth(t *testing.T) {
	// uniqueId is higher priority than username even when uniqueId only
	// exists in a nested container and username sits at the root.
	record := map[string]any{
		"username": "rootname",
		"author":   map[string]any{"uniqueId": "nestedid"},
	}
	if got := Key(record, "tiktok"); got != "tiktok|nestedid" {
		t.Fatalf("expected nested uniqueId to win, got %q", got)
	}
}

func TestKey_PlatformScoping(t *testing.T) {
	record := map[string]any{"username": "samehandle"}
	if Key(record, "tiktok") == Key(record, "instagram") {
		t.Fatalf("same handle on two platforms must not share a key")
	}
}

func TestKey_AbsentCandidates(t *testing.T) {
	cases := []map[string]any{
		{"username": ""},
		{"username": "   "},
		{"userId": math.NaN()},
		{"userId": float64(-5)},
	}
	for i, record := range cases {
		got := Key(record, "youtube")
		if !strings.HasPrefix(got, "youtube|hash:") {
			t.Fatalf("case %d: expected hash fallback, got %q", i, got)
		}
	}
}

func TestKey_NumericCoercion(t *testing.T) {
	record := map[string]any{"userId": float64(7434512000)}
	if got := Key(record, "instagram"); got != "instagram|7434512000" {
		t.Fatalf("unexpected numeric key: %q", got)
	}
}

func TestKey_HashFallbackStable(t *testing.T) {
	record := map[string]any{"bio": "no identifiers here", "followers": float64(3)}
	a := Key(record, "tiktok")
	b := Key(record, "tiktok")
	if a != b {
		t.Fatalf("hash fallback not stable: %q vs %q", a, b)
	}

	other := map[string]any{"bio": "different record", "followers": float64(3)}
	if Key(other, "tiktok") == a {
		t.Fatalf("different records should not share a hash key")
	}
}

func TestDedupe_FirstSeenWins(t *testing.T) {
	records := []map[string]any{
		{"username": "Alice", "rank": float64(1)},
		{"username": "bob"},
		{"username": " alice ", "rank": float64(2)},
		{"username": "ALICE", "rank": float64(3)},
	}

	out := Dedupe(records, "tiktok")
	if len(out) != 2 {
		t.Fatalf("expected 2 records after dedupe, got %d", len(out))
	}
	if out[0]["rank"] != float64(1) {
		t.Fatalf("first-seen record should survive, got rank=%v", out[0]["rank"])
	}
	if out[1]["username"] != "bob" {
		t.Fatalf("order not preserved: %v", out[1])
	}
}

func TestDedupe_NeverMergesAcrossPlatforms(t *testing.T) {
	records := []map[string]any{
		{"username": "same"},
		{"username": "same"},
	}
	// Same platform collapses...
	if got := Dedupe(records, "tiktok"); len(got) != 1 {
		t.Fatalf("expected collapse on same platform, got %d", len(got))
	}
	// ...but keys differ across platforms, so a cross-platform store keyed by
	// identity would keep both.
	if Key(records[0], "tiktok") == Key(records[1], "youtube") {
		t.Fatalf("cross-platform keys must differ")
	}
}

func TestDedupe_MalformedRecordsKept(t *testing.T) {
	records := []map[string]any{
		{"garbage": true},
		{"garbage": true},
		{"other": "thing"},
	}
	out := Dedupe(records, "instagram")
	// Identical malformed records share a content hash and collapse; distinct
	// ones survive. Nothing is silently dropped.
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
}
