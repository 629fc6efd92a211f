package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"Rewind/internal/domain/models"
	"Rewind/internal/domain/service"
	"Rewind/internal/services/gateway"
)

const neutralPrice = 0.5

// Config holds the Gamma and CLOB endpoints.
type Config struct {
	GammaURL string        `yaml:"gamma_url" default:"https://gamma-api.polymarket.com"`
	ClobURL  string        `yaml:"clob_url" default:"https://clob.polymarket.com"`
	Timeout  time.Duration `yaml:"timeout" default:"15s"`
	// Lookback is how far before the requested time history is read.
	Lookback time.Duration `yaml:"lookback" default:"1h"`
	// Fidelity is the history resolution in minutes.
	Fidelity int `yaml:"fidelity" default:"1"`
}

// Client reads market metadata from Gamma and price history from CLOB.
type Client struct {
	gamma    *gateway.Base
	clob     *gateway.Base
	lookback time.Duration
	fidelity int
}

var _ service.MarketService = (*Client)(nil)

// New creates a Polymarket client.
func New(cfg Config) *Client {
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = time.Hour
	}
	fidelity := cfg.Fidelity
	if fidelity <= 0 {
		fidelity = 1
	}
	return &Client{
		gamma:    gateway.NewBase(gateway.Config{Name: "polymarket_gamma", BaseURL: cfg.GammaURL, Timeout: cfg.Timeout}),
		clob:     gateway.NewBase(gateway.Config{Name: "polymarket_clob", BaseURL: cfg.ClobURL, Timeout: cfg.Timeout}),
		lookback: lookback,
		fidelity: fidelity,
	}
}

type gammaEvent struct {
	Slug        string        `json:"slug"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	EndDate     string        `json:"endDate"`
	Markets     []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	Question     string          `json:"question"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Outcomes     json.RawMessage `json:"outcomes"`
}

type historyResponse struct {
	History []historyPoint `json:"history"`
}

type historyPoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// Metadata returns the event for slug with the first market's YES token.
func (c *Client) Metadata(ctx context.Context, slug string) (*models.MarketInfo, error) {
	var events []gammaEvent
	if err := c.gamma.GetJSON(ctx, "events", "/events", map[string][]string{"slug": {slug}}, &events); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("polymarket events: %w: no event for slug %q", models.ErrNotFound, slug)
	}
	ev := events[0]
	if len(ev.Markets) == 0 {
		return nil, fmt.Errorf("polymarket events: %w: event %q has no markets", models.ErrValidationFailure, slug)
	}
	m := ev.Markets[0]
	tokens := stringList(m.ClobTokenIDs)
	info := &models.MarketInfo{
		Slug:        orDefault(ev.Slug, slug),
		Title:       ev.Title,
		Description: ev.Description,
		Question:    m.Question,
		Outcomes:    stringList(m.Outcomes),
		EndDate:     ev.EndDate,
	}
	if len(tokens) > 0 {
		info.TokenID = tokens[0]
	}
	return info, nil
}

// StateAt returns the latest price observed at or before at. When the
// lookback window holds no such point the state is a neutral estimate.
func (c *Client) StateAt(ctx context.Context, tokenID string, at time.Time) (*models.MarketState, error) {
	points, err := c.History(ctx, tokenID, at.Add(-c.lookback), at)
	if err != nil {
		return nil, err
	}
	return LatestAtOrBefore(points, at), nil
}

// History returns the price series of tokenID within [from, to], oldest first.
func (c *Client) History(ctx context.Context, tokenID string, from, to time.Time) ([]models.PricePoint, error) {
	var resp historyResponse
	query := map[string][]string{
		"market":   {tokenID},
		"startTs":  {strconv.FormatInt(from.Unix(), 10)},
		"endTs":    {strconv.FormatInt(to.Unix(), 10)},
		"fidelity": {strconv.Itoa(c.fidelity)},
	}
	if err := c.clob.GetJSON(ctx, "prices_history", "/prices-history", query, &resp); err != nil {
		return nil, err
	}
	points := make([]models.PricePoint, 0, len(resp.History))
	for _, p := range resp.History {
		points = append(points, models.PricePoint{Time: time.Unix(p.T, 0).UTC(), Price: p.P})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

// LatestAtOrBefore picks the newest point not after at. Points later than at
// are never used.
func LatestAtOrBefore(points []models.PricePoint, at time.Time) *models.MarketState {
	var best *models.PricePoint
	for i := range points {
		p := &points[i]
		if p.Time.After(at) {
			continue
		}
		if best == nil || p.Time.After(best.Time) {
			best = p
		}
	}
	if best == nil {
		return &models.MarketState{Timestamp: at, Price: neutralPrice, Estimated: true}
	}
	return &models.MarketState{Timestamp: best.Time, Price: best.Price}
}

// stringList accepts both a JSON array and a JSON-encoded string holding one.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		if s := strings.TrimSpace(encoded); s != "" {
			return []string{s}
		}
		return nil
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
