// Package pagerduty posts triage notes to PagerDuty incidents and decodes
// and verifies the incident webhooks PagerDuty sends.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseURL is the PagerDuty REST API endpoint.
const DefaultBaseURL = "https://api.pagerduty.com"

// ErrNotFound is returned when PagerDuty does not know the incident.
var ErrNotFound = errors.New("pagerduty: incident not found")

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	// Token is a REST API token, sent as "Token token=<Token>".
	Token string
	// From is the email of the PagerDuty user the note is attributed to.
	From string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// MaxRetries bounds retries on 429 and 5xx responses.
	MaxRetries int
}

// Client posts incident notes. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	from       string
	client     *http.Client
	maxRetries int
	// newBackOff returns the retry schedule for one PostNote call.
	newBackOff func() backoff.BackOff
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("pagerduty: PAGERDUTY_API_TOKEN is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("pagerduty: PAGERDUTY_EMAIL is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		from:       cfg.From,
		client:     hc,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

// noteRequest is the JSON body of POST /incidents/{id}/notes.
type noteRequest struct {
	Note struct {
		Content string `json:"content"`
	} `json:"note"`
}

// APIError is a non-success response from the PagerDuty API.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Body is the start of the response body.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pagerduty: status %d: %s", e.Status, e.Body)
}

// PostNote adds content as a note on incidentID. Rate limiting and server
// errors are retried with exponential backoff; other failures are not.
func (c *Client) PostNote(ctx context.Context, incidentID, content string) error {
	if incidentID == "" {
		return fmt.Errorf("pagerduty: incident id is required")
	}
	var body noteRequest
	body.Note.Content = content
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal note: %w", err)
	}
	endpoint := c.baseURL + "/incidents/" + url.PathEscape(incidentID) + "/notes"

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("pagerduty: build request: %w", err))
		}
		req.Header.Set("Accept", "application/vnd.pagerduty+json;version=2")
		req.Header.Set("Authorization", "Token token="+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("From", c.from)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("pagerduty: post note: %w", err)
		}
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, incidentID))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		default:
			return backoff.Permanent(&APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	return backoff.Retry(attempt, policy)
}
