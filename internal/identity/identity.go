// Package identity derives a stable identity key for raw creator records and
// collapses duplicate sightings across pages, retries and batches. Everything
// here is pure: same input, same key.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// identifierFields is the ordered extraction rule list. Earlier entries win.
// Covers the platform-specific spellings seen in provider payloads (TikTok
// uniqueId/secUid, YouTube channelId, Instagram username/pk) without
// per-platform branching.
var identifierFields = []string{
	"uniqueId", "unique_id",
	"secUid", "sec_uid",
	"channelId", "channel_id",
	"username", "userName",
	"handle",
	"screenName", "screen_name",
	"userId", "user_id",
	"authorId", "author_id",
	"id",
	"pk",
	"profileUrl", "profile_url",
	"url",
	"shortId", "short_id",
}

// nestedContainers are the sub-objects a candidate may hide in. Checked in
// order for each field, after the record root.
var nestedContainers = []string{
	"profile", "account", "author", "owner", "user", "creator", "channel", "video", "post",
}

// Key computes the identity key for a raw provider record. The key is scoped
// by platform so the same handle on two platforms never merges. Records with
// no usable identifier fall back to a content hash: imperfect dedup, but the
// record is never dropped.
func Key(record map[string]any, platform string) string {
	platform = strings.ToLower(strings.TrimSpace(platform))

	for _, field := range identifierFields {
		if v, ok := candidate(record[field]); ok {
			return platform + "|" + v
		}
		for _, container := range nestedContainers {
			sub, ok := record[container].(map[string]any)
			if !ok {
				continue
			}
			if v, ok := candidate(sub[field]); ok {
				return platform + "|" + v
			}
		}
	}

	return platform + "|hash:" + contentHash(record)
}

// Dedupe removes records whose identity key was already seen, preserving
// input order. First sighting wins.
func Dedupe(records []map[string]any, platform string) []map[string]any {
	seen := make(map[string]struct{}, len(records))
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		k := Key(r, platform)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// candidate normalizes one raw value into an identity candidate.
// Empty/whitespace strings are absent; NaN and negative numbers are absent,
// not zero.
func candidate(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		if math.IsNaN(t) || t < 0 {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		if t < 0 {
			return "", false
		}
		return strconv.Itoa(t), true
	case int64:
		if t < 0 {
			return "", false
		}
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case json.Number:
		s := strings.TrimSpace(t.String())
		if s == "" || strings.HasPrefix(s, "-") {
			return "", false
		}
		return s, true
	default:
		return "", false
	}
}

// contentHash hashes the whole record. encoding/json sorts map keys, so the
// hash is stable regardless of map iteration order.
func contentHash(record map[string]any) string {
	b, err := json.Marshal(record)
	if err != nil {
		// Unmarshalable values can't come from JSON payloads; hash the
		// formatted fallback rather than failing.
		b = []byte(fmt.Sprintf("%v", record))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
