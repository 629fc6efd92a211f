package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Rewind/internal/domain/models"
	"Rewind/pkg/queue"
)

// JobTypeExperimentRun is the queue message type for accepted experiments.
const JobTypeExperimentRun = "experiment.run"

// ExperimentJob is an accepted run waiting to be executed.
type ExperimentJob struct {
	ID        string                  `json:"id"`
	Config    models.ExperimentConfig `json:"config"`
	CreatedAt time.Time               `json:"created_at"`
}

// Dispatcher hands accepted experiments to whatever executes them.
type Dispatcher interface {
	Dispatch(ctx context.Context, job ExperimentJob) error
}

// QueueDispatcher publishes jobs onto the work queue.
type QueueDispatcher struct {
	queue queue.QueueService
}

func NewQueueDispatcher(q queue.QueueService) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job ExperimentJob) error {
	return d.queue.PublishMessage(ctx, JobTypeExperimentRun, job)
}

// ExperimentRunJob executes queued experiments on a worker.
type ExperimentRunJob struct {
	orch *Orchestrator
}

var _ queue.Job = (*ExperimentRunJob)(nil)

func NewExperimentRunJob(orch *Orchestrator) *ExperimentRunJob {
	return &ExperimentRunJob{orch: orch}
}

func (j *ExperimentRunJob) Name() string { return "experiment_runner" }

func (j *ExperimentRunJob) Type() string { return JobTypeExperimentRun }

// Handle runs the experiment. Failed experiments are sealed results, not
// job errors, so the queue does not retry them.
func (j *ExperimentRunJob) Handle(ctx context.Context, payload json.RawMessage) error {
	job, err := queue.Decode[ExperimentJob](payload)
	if err != nil {
		return fmt.Errorf("experiment job payload: %w", err)
	}
	if job.ID == "" {
		return fmt.Errorf("experiment job payload: missing id")
	}
	if !j.orch.track() {
		return errShuttingDown
	}
	defer j.orch.wg.Done()
	_, err = j.orch.Execute(ctx, *job)
	if err != nil && !errors.Is(err, models.ErrExperimentFailed) {
		return err
	}
	return nil
}
