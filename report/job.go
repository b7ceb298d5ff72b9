package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/solarquote/cotizador/internal/jobs"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/jobs"
)

// Job processes quotation render requests coming from the queue.
type Job struct {
	generator *Generator
	metrics   *jobmetrics.Metrics
}

// NewJob constructs a Job handler.
func NewJob(generator *Generator, metrics *jobmetrics.Metrics) *Job {
	return &Job{generator: generator, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.generator == nil {
		return fmt.Errorf("quotation pdf job not configured")
	}
	var payload jobs.QuotationPDFPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.QuotationID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track(jobs.TaskQuotationRenderPDF)
	defer func() {
		err = tracker.End(err)
	}()

	if _, err := j.generator.Store(ctx, payload.QuotationID); err != nil {
		if errors.Is(err, quotations.ErrNotFound) {
			return fmt.Errorf("quotation %d: %w", payload.QuotationID, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
