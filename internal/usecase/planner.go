package usecase

import (
	"fmt"
	"time"

	"Rewind/internal/domain/models"
)

// Plan partitions [start, end] into ceil((end-start)/length) contiguous
// intervals. Boundaries sit on exact multiples of length from start; the last
// interval ends at end and may be shorter.
func Plan(start, end time.Time, length time.Duration) ([]models.Interval, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: interval length must be positive, got %s", models.ErrInvalidConfiguration, length)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s must be after start %s", models.ErrInvalidConfiguration,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	span := end.Sub(start)
	count := int(span / length)
	if span%length != 0 {
		count++
	}

	intervals := make([]models.Interval, count)
	for i := 0; i < count; i++ {
		lo := start.Add(time.Duration(i) * length)
		hi := start.Add(time.Duration(i+1) * length)
		if i == count-1 {
			hi = end
		}
		intervals[i] = models.Interval{Index: i, Start: lo, End: hi}
	}
	return intervals, nil
}

// PlanExperiment validates cfg and plans its intervals.
func PlanExperiment(cfg models.ExperimentConfig) ([]models.Interval, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return Plan(cfg.StartTime, cfg.EndTime, cfg.IntervalLength())
}
