package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how replicas reach a decision.
type Mode string

const (
	ModeAgentic Mode = "agentic"
	ModeDirect  Mode = "direct"
)

// ParseMode accepts the canonical names and the legacy aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "agentic", "daytona_agent":
		return ModeAgentic, nil
	case "direct", "direct_llm":
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, s)
	}
}

// ExperimentStatus is the lifecycle state reported by progress and results.
type ExperimentStatus string

const (
	StatusRunning   ExperimentStatus = "running"
	StatusCompleted ExperimentStatus = "completed"
	StatusFailed    ExperimentStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s ExperimentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExperimentConfig is immutable once an experiment starts.
type ExperimentConfig struct {
	MarketSlug      string    `json:"market_slug"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	IntervalMinutes int       `json:"interval_minutes"`
	NumSimulations  int       `json:"num_simulations"`
	Models          []string  `json:"models"`
	Mode            Mode      `json:"mode"`
}

// IntervalLength returns the configured interval as a duration.
func (c ExperimentConfig) IntervalLength() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Validate fails fast with ErrInvalidConfiguration before any work starts.
func (c ExperimentConfig) Validate() error {
	if strings.TrimSpace(c.MarketSlug) == "" {
		return fmt.Errorf("%w: market_slug is required", ErrInvalidConfiguration)
	}
	if c.StartTime.IsZero() || c.EndTime.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", ErrInvalidConfiguration)
	}
	if !c.EndTime.After(c.StartTime) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidConfiguration)
	}
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: interval_minutes must be positive, got %d", ErrInvalidConfiguration, c.IntervalMinutes)
	}
	if c.NumSimulations < 1 {
		return fmt.Errorf("%w: num_simulations must be at least 1, got %d", ErrInvalidConfiguration, c.NumSimulations)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: at least one model is required", ErrInvalidConfiguration)
	}
	for _, m := range c.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: model identifier cannot be empty", ErrInvalidConfiguration)
		}
	}
	if c.Mode != ModeAgentic && c.Mode != ModeDirect {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, c.Mode)
	}
	return nil
}

// Interval is one slice [Start, End) of the experiment range. End equals the
// next interval's Start, or the experiment end for the last one.
type Interval struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Bound is the point-in-time cutoff for everything the interval may see.
func (i Interval) Bound() time.Time { return i.End }

// Duration returns the interval length.
func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }
