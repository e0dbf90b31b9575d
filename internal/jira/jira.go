// Package jira fetches issue metadata from a Jira-compatible tracker.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"
)

// Directory resolves ticket titles from the issue tracker.
type Directory interface {
	// FetchTitle returns the issue summary for a browse URL. A disabled
	// directory returns "" without error.
	FetchTitle(ctx context.Context, sourceURL string) (string, error)
}

var browseRe = regexp.MustCompile(`/browse/([A-Z]+-\d+)`)

// Client is a Jira REST client using basic auth.
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Jira client. With any credential missing the client is
// disabled: FetchTitle always returns "" without error.
func NewClient(baseURL, username, apiToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		username:   username,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Enabled reports whether the client has credentials to call the tracker.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.username != "" && c.apiToken != ""
}

// FetchTitle extracts the ticket ID from a browse URL and fetches the issue
// summary from the tracker API.
func (c *Client) FetchTitle(ctx context.Context, sourceURL string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	m := browseRe.FindStringSubmatch(sourceURL)
	if m == nil {
		return "", fmt.Errorf("jira: no ticket id in url %q", sourceURL)
	}
	issue, err := c.getIssue(ctx, m[1])
	if err != nil {
		return "", err
	}
	return issue.Fields.Summary, nil
}

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

func (c *Client) getIssue(ctx context.Context, ticketID string) (*issueResponse, error) {
	url := fmt.Sprintf("%s/rest/api/2/issue/%s?fields=summary", c.baseURL, ticketID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("jira: create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira: fetch issue %s: %w", ticketID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("jira: fetch issue %s: status %d: %s", ticketID, resp.StatusCode, body)
	}

	var issue issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("jira: decode issue %s: %w", ticketID, err)
	}
	return &issue, nil
}

var _ Directory = (*Client)(nil)
