package usecase

import (
	"context"

	"Rewind/internal/domain/models"
	domrepo "Rewind/internal/domain/repository"
)

type nopMetrics struct{}

var _ domrepo.Metrics = nopMetrics{}

func (nopMetrics) RecordInterval(string) {}
func (nopMetrics) RecordReplica(string, string) {}
func (nopMetrics) RecordFallback(string) {}
func (nopMetrics) RecordExperiment(string) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLatency(string, float64) {}

type nopEvents struct{}

var _ domrepo.EventPublisher = nopEvents{}

func (nopEvents) PublishInterval(context.Context, string, *models.IntervalResult) error {
	return nil
}

func (nopEvents) PublishIntervalFailure(context.Context, string, *models.IntervalFailure) error {
	return nil
}

func (nopEvents) PublishExperiment(context.Context, models.ExperimentSummary) error {
	return nil
}

func (nopEvents) Close() error { return nil }
