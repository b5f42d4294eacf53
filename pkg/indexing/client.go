// Package indexing provides a client for the Google Indexing API v3.
package indexing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Notification types accepted by the publish endpoint.
const (
	TypeUpdated = "URL_UPDATED"
	TypeDeleted = "URL_DELETED"
)

// DefaultBaseURL is the production Indexing API endpoint.
const DefaultBaseURL = "https://indexing.googleapis.com"

// Client defines the indexing operations.
type Client interface {
	// Publish sends one URL notification under the given bearer token. It
	// makes exactly one HTTP attempt; retry policy and credential rotation
	// are the caller's concern.
	Publish(ctx context.Context, token string, n Notification) (*PublishResponse, error)
}

// Notification is the publish request payload.
type Notification struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// NotificationEntry is one notification the API has on record for a URL.
type NotificationEntry struct {
	URL        string `json:"url"`
	Type       string `json:"type"`
	NotifyTime string `json:"notifyTime"`
}

// NotificationMetadata is the per-URL notification history in a publish
// response.
type NotificationMetadata struct {
	URL          string             `json:"url"`
	LatestUpdate *NotificationEntry `json:"latestUpdate,omitempty"`
	LatestRemove *NotificationEntry `json:"latestRemove,omitempty"`
}

// PublishResponse is the parsed publish response.
type PublishResponse struct {
	Metadata NotificationMetadata `json:"urlNotificationMetadata"`
}

// NotifyTime returns the API-recorded notification time matching the
// submitted type: latestRemove for deletions, latestUpdate otherwise.
// The second return is false when the response carries none.
func (r *PublishResponse) NotifyTime(notificationType string) (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}
	entry := r.Metadata.LatestUpdate
	if notificationType == TypeDeleted {
		entry = r.Metadata.LatestRemove
	}
	if entry == nil || entry.NotifyTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, entry.NotifyTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Option configures the indexing client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new Indexing API client. Tokens are passed per call
// rather than bound at construction because callers rotate through multiple
// service accounts over one client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Publish(ctx context.Context, token string, n Notification) (*PublishResponse, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, eris.Wrap(err, "indexing: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v3/urlNotifications:publish", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "indexing: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "indexing: publish request")
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, eris.Wrap(readErr, "indexing: read response body")
	}

	if IsCredentialStatus(resp.StatusCode) {
		return nil, &CredentialError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("indexing: status %d: %s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("indexing: status %d: %s", resp.StatusCode, string(body))
	}

	var result PublishResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "indexing: unmarshal response")
	}
	return &result, nil
}
