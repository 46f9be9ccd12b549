package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ScoutClient talks to the creator-discovery API. One GET per keyword page;
// the response carries raw creator objects plus an opaque cursor.
type ScoutClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewScoutClient(baseURL, apiKey string) *ScoutClient {
	if baseURL == "" {
		baseURL = "https://api.scrapecreators.dev/v1"
	}
	return &ScoutClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type scoutSearchResp struct {
	Creators []map[string]any `json:"creators"`
	Cursor   string           `json:"cursor"`
	HasMore  bool             `json:"has_more"`
	Error    string           `json:"error,omitempty"`
}

func (c *ScoutClient) Search(ctx context.Context, platform, keyword, cursor string) (*SearchPage, error) {
	if c.Client == nil {
		return nil, errors.New("scout: http client is nil")
	}

	q := url.Values{}
	q.Set("query", keyword)
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	endpoint := fmt.Sprintf("%s/%s/search?%s", c.BaseURL, url.PathEscape(platform), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scout: status %d", resp.StatusCode)
	}

	var decoded scoutSearchResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != "" {
		return nil, errors.New(decoded.Error)
	}

	return &SearchPage{
		Creators: decoded.Creators,
		Cursor:   decoded.Cursor,
		HasMore:  decoded.HasMore,
	}, nil
}
