package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Submission is one Reddit post mapped to the fields the harvester cares
// about.
type Submission struct {
	ID       string
	Title    string
	SelfText string
}

// ConceptText returns the text used for deduplication: the post title, with
// the self-text appended when the title alone is too short to carry the idea.
func (s Submission) ConceptText() string {
	title := strings.TrimSpace(s.Title)
	body := strings.TrimSpace(s.SelfText)
	if len(title) >= 20 || body == "" {
		return title
	}
	return title + " " + body
}

// Client fetches new submissions from a subreddit's public JSON listing.
// Single-page fetches only; pagination and rate limiting are the caller's
// problem if they ever need more than one page.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *zap.Logger
}

// Config holds Reddit client settings.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// NewClient creates a new Reddit listing client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://www.reddit.com"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  cfg.UserAgent,
		logger:     logger.Named("reddit"),
	}
}

// listing mirrors the subset of Reddit's listing JSON we read.
type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				SelfText string `json:"selftext"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchNewSubmissions returns up to limit posts from the subreddit's "new"
// listing, newest first.
func (c *Client) FetchNewSubmissions(ctx context.Context, subreddit string, limit int) ([]Submission, error) {
	endpoint := fmt.Sprintf("%s/r/%s/new.json?%s", c.baseURL, url.PathEscape(subreddit),
		url.Values{"limit": {strconv.Itoa(limit)}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build listing request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing request returned status %d", resp.StatusCode)
	}

	var parsed listing
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}

	submissions := make([]Submission, 0, len(parsed.Data.Children))
	for _, child := range parsed.Data.Children {
		if child.Data.ID == "" {
			continue
		}
		submissions = append(submissions, Submission{
			ID:       child.Data.ID,
			Title:    child.Data.Title,
			SelfText: child.Data.SelfText,
		})
	}

	c.logger.Debug("fetched subreddit listing",
		zap.String("subreddit", subreddit),
		zap.Int("count", len(submissions)))

	return submissions, nil
}
