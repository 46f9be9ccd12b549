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

// ContactClient talks to the contact-enrichment API: one creator handle in,
// biography and contact fields out.
type ContactClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewContactClient(baseURL, apiKey string) *ContactClient {
	if baseURL == "" {
		baseURL = "https://api.scrapecreators.dev/v1"
	}
	return &ContactClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type contactResp struct {
	Bio      string   `json:"bio"`
	Email    string   `json:"email"`
	BioLinks []string `json:"bio_links"`
	Error    string   `json:"error,omitempty"`
}

func (c *ContactClient) Lookup(ctx context.Context, platform, handle string) (*ContactProfile, error) {
	if c.Client == nil {
		return nil, errors.New("contact: http client is nil")
	}

	q := url.Values{}
	q.Set("handle", handle)

	endpoint := fmt.Sprintf("%s/%s/profile?%s", c.BaseURL, url.PathEscape(platform), q.Encode())
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
		return nil, fmt.Errorf("contact: status %d", resp.StatusCode)
	}

	var decoded contactResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != "" {
		return nil, errors.New(decoded.Error)
	}

	return &ContactProfile{
		Bio:       decoded.Bio,
		Email:     decoded.Email,
		BioLinks:  decoded.BioLinks,
		FetchedAt: time.Now(),
	}, nil
}
