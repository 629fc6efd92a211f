package models

import "time"

// MarketInfo is the static metadata of the traded event.
type MarketInfo struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Question    string   `json:"question,omitempty"`
	TokenID     string   `json:"token_id,omitempty"`
	Outcomes    []string `json:"outcomes,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
}

// MarketState is the price observed at or before a timestamp.
type MarketState struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    *float64  `json:"volume,omitempty"`
	// Estimated is set when no observation existed at or before Timestamp.
	Estimated bool `json:"estimated,omitempty"`
}

// PricePoint is one sample of the price history.
type PricePoint struct {
	Time  time.Time `json:"t"`
	Price float64   `json:"p"`
}

// Evidence is one search result visible to an interval.
type Evidence struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url,omitempty"`
	Text        string     `json:"text"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Score       float64    `json:"score"`
}

// VisibleAt reports whether the item may be shown to a context bounded by t.
func (e Evidence) VisibleAt(t time.Time, keepUndated bool) bool {
	if e.PublishedAt == nil {
		return keepUndated
	}
	return !e.PublishedAt.After(t)
}
