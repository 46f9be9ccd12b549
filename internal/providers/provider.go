// Package providers holds the clients for the external discovery and
// contact-enrichment APIs. Raw search results stay as loosely typed maps on
// purpose: upstream payload shapes vary per platform and the identity engine
// knows how to dig identifiers out of whatever arrives.
package providers

import (
	"context"
	"time"
)

// SearchPage is one page of raw creator search results for a keyword.
type SearchPage struct {
	Creators []map[string]any `json:"creators"`
	Cursor   string           `json:"cursor"`
	HasMore  bool             `json:"has_more"`
}

// Discovery searches a platform for creators matching a keyword. Cursor is an
// opaque continuation token from a previous page ("" for the first page).
type Discovery interface {
	Search(ctx context.Context, platform, keyword, cursor string) (*SearchPage, error)
}

// ContactProfile is the enrichment payload for one creator.
type ContactProfile struct {
	Bio       string    `json:"bio"`
	Email     string    `json:"email"`
	BioLinks  []string  `json:"bio_links"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Enrichment looks up biography/contact fields for one creator handle.
type Enrichment interface {
	Lookup(ctx context.Context, platform, handle string) (*ContactProfile, error)
}
