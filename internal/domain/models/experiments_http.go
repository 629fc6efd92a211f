package models

import (
	"strings"
	"time"
)

// Requests for experiment HTTP endpoints. Defined in domain for reuse by the CLI.

type RunExperimentRequest struct {
	MarketSlug      string    `json:"market_slug" validate:"required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	IntervalMinutes int       `json:"interval_minutes" default:"60" validate:"gt=0,lte=10080"`
	NumSimulations  int       `json:"num_simulations" default:"1" validate:"gte=1,lte=50"`
	Models          []string  `json:"models" validate:"omitempty,max=8,dive,required"`
	ModelProvider   string    `json:"model_provider"`
	Mode            string    `json:"mode" default:"agentic" validate:"oneof=agentic direct daytona_agent direct_llm"`
}

// ToConfig converts the request; defaultModel is used when no model was given.
func (r *RunExperimentRequest) ToConfig(defaultModel string) (ExperimentConfig, error) {
	mode, err := ParseMode(r.Mode)
	if err != nil {
		return ExperimentConfig{}, err
	}
	models := make([]string, 0, len(r.Models)+1)
	for _, m := range r.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		if p := strings.TrimSpace(r.ModelProvider); p != "" {
			models = append(models, p)
		} else if defaultModel != "" {
			models = append(models, defaultModel)
		}
	}
	cfg := ExperimentConfig{
		MarketSlug:      strings.TrimSpace(r.MarketSlug),
		StartTime:       r.StartTime.UTC(),
		EndTime:         r.EndTime.UTC(),
		IntervalMinutes: r.IntervalMinutes,
		NumSimulations:  r.NumSimulations,
		Models:          models,
		Mode:            mode,
	}
	return cfg, cfg.Validate()
}

type ExperimentIDRequest struct {
	ID string `param:"id" validate:"required"`
}

type MarketMetadataRequest struct {
	Slug string `param:"slug" validate:"required"`
}

type PlanRequest struct {
	Start           string `query:"start" validate:"required"`
	End             string `query:"end" validate:"required"`
	IntervalMinutes int    `query:"interval_minutes" default:"60" validate:"gt=0"`
}

type ListExperimentsRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

// RunExperimentResponse is returned once a run has been accepted.
type RunExperimentResponse struct {
	ExperimentID   string           `json:"experiment_id"`
	Status         ExperimentStatus `json:"status"`
	TotalIntervals int              `json:"total_intervals"`
}
