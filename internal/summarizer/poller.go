package summarizer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"spaces-summarizer/internal/models"
)

// StatusClient is the part of the job service the poller needs.
type StatusClient interface {
	Status(ctx context.Context, jobID string) (models.Job, error)
}

// Poller tracks a submitted job to a terminal state. Cancellation is
// cooperative: cancelling the context stops polling but cannot retract
// work already dispatched to the external service.
type Poller struct {
	client     StatusClient
	interval   time.Duration
	ceiling    time.Duration
	retries    int
	retryDelay time.Duration
	logger     *zap.SugaredLogger
}

func NewPoller(client StatusClient, interval, ceiling time.Duration, retries int, logger *zap.SugaredLogger) *Poller {
	if interval == 0 {
		interval = 30 * time.Second
	}
	if ceiling == 0 {
		ceiling = 45 * time.Minute
	}
	if retries <= 0 {
		retries = 3
	}
	return &Poller{
		client:     client,
		interval:   interval,
		ceiling:    ceiling,
		retries:    retries,
		retryDelay: time.Second,
		logger:     logger,
	}
}

// Poll drives the job to a terminal state. It returns the job with
// ErrJobFailed on external failure, ErrJobTimedOut once the wall-clock
// ceiling is exceeded, and ErrCancelled on context cancellation. A job
// that completes out-of-band after the ceiling is discarded by policy.
// The progress callback, when non-nil, fires once per poll cycle with
// the elapsed polling time.
func (p *Poller) Poll(ctx context.Context, jobID string, progress func(elapsed time.Duration)) (models.Job, error) {
	start := time.Now()
	deadline := start.Add(p.ceiling)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		job, err := p.pollOnce(ctx, jobID)
		if err != nil && !models.Transient(err) {
			if ctx.Err() != nil {
				return models.Job{ID: jobID}, models.ErrCancelled
			}
			return models.Job{ID: jobID}, err
		}
		if err == nil {
			now := time.Now()
			job.LastPollAt = &now
			switch job.State {
			case models.JobStateSucceeded:
				return job, nil
			case models.JobStateFailed:
				return job, fmt.Errorf("%w: %s", models.ErrJobFailed, job.FailReason)
			}
		} else {
			// Exhausting per-cycle retries is not fatal; polling resumes
			// on the next cycle unless the ceiling has passed.
			p.logger.Warnw("poll cycle exhausted retries", "job_id", jobID, "error", err)
		}

		if time.Now().After(deadline) {
			p.logger.Warnw("job exceeded polling ceiling", "job_id", jobID, "ceiling", p.ceiling)
			return models.Job{ID: jobID, State: models.JobStateTimedOut}, models.ErrJobTimedOut
		}
		if progress != nil {
			progress(time.Since(start))
		}

		select {
		case <-ctx.Done():
			return models.Job{ID: jobID}, models.ErrCancelled
		case <-ticker.C:
		}
	}
}

// pollOnce performs a single status check, retrying transient failures
// up to the per-cycle bound.
func (p *Poller) pollOnce(ctx context.Context, jobID string) (models.Job, error) {
	var lastErr error
	for attempt := 0; attempt < p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.Job{}, &models.TransientError{Err: ctx.Err()}
			case <-time.After(p.retryDelay):
			}
		}
		job, err := p.client.Status(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !models.Transient(err) {
			return models.Job{}, err
		}
		lastErr = err
	}
	return models.Job{}, lastErr
}
