package exa

import (
	"context"
	"time"
	"unicode/utf8"

	"Rewind/internal/domain/models"
	"Rewind/internal/domain/service"
	"Rewind/internal/services/gateway"
)

// Config holds the Exa endpoint and credentials.
type Config struct {
	BaseURL string        `yaml:"base_url" default:"https://api.exa.ai"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"20s"`
	// MaxTextChars truncates result text.
	MaxTextChars int `yaml:"max_text_chars" default:"1000"`
	// KeepUndated keeps results without a publication date.
	KeepUndated bool `yaml:"keep_undated"`
}

// Client searches Exa for evidence published no later than a bound.
type Client struct {
	base        *gateway.Base
	maxText     int
	keepUndated bool
}

var _ service.EvidenceSearch = (*Client)(nil)

// New creates an Exa search client.
func New(cfg Config) *Client {
	maxText := cfg.MaxTextChars
	if maxText <= 0 {
		maxText = 1000
	}
	return &Client{
		base: gateway.NewBase(gateway.Config{
			Name:    "exa",
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Headers: map[string]string{"x-api-key": cfg.APIKey},
		}),
		maxText:     maxText,
		keepUndated: cfg.KeepUndated,
	}
}

type searchRequest struct {
	Query            string   `json:"query"`
	NumResults       int      `json:"numResults"`
	EndPublishedDate string   `json:"endPublishedDate"`
	UseAutoprompt    bool     `json:"useAutoprompt"`
	Contents         contents `json:"contents"`
}

type contents struct {
	Text textOptions `json:"text"`
}

type textOptions struct {
	MaxCharacters int `json:"maxCharacters"`
}

type searchResponse struct {
	Results []result `json:"results"`
}

type result struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Text          string  `json:"text"`
	PublishedDate string  `json:"publishedDate"`
	Score         float64 `json:"score"`
}

// Search returns up to limit results. Results the remote returns with a date
// after upperBound are dropped, as are undated ones unless configured.
func (c *Client) Search(ctx context.Context, query string, upperBound time.Time, limit int) ([]models.Evidence, error) {
	if limit <= 0 {
		limit = 5
	}
	req := searchRequest{
		Query:            query,
		NumResults:       limit,
		EndPublishedDate: upperBound.UTC().Format(time.RFC3339),
		UseAutoprompt:    true,
		Contents:         contents{Text: textOptions{MaxCharacters: c.maxText}},
	}
	var resp searchResponse
	if err := c.base.PostJSON(ctx, "search", "/search", req, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Evidence, 0, len(resp.Results))
	for _, r := range resp.Results {
		ev := models.Evidence{
			ID:          r.ID,
			Title:       r.Title,
			URL:         r.URL,
			Text:        truncate(r.Text, c.maxText),
			PublishedAt: parseDate(r.PublishedDate),
			Score:       r.Score,
		}
		if ev.ID == "" {
			ev.ID = r.URL
		}
		if ev.Title == "" {
			ev.Title = "No Title"
		}
		if !ev.VisibleAt(upperBound, c.keepUndated) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
