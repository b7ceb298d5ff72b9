// Package jobs defines the background tasks processed by the worker and the
// client used to enqueue them.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationRenderPDF renders a quotation PDF and stores it.
	TaskQuotationRenderPDF = "quotation:render_pdf"
	// TaskIdempotencyCleanup purges old idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

const (
	pdfMaxRetry   = 5
	pdfTimeout    = 2 * time.Minute
	pdfUniqueness = 10 * time.Minute
)

// QuotationPDFPayload identifies the quotation to render.
type QuotationPDFPayload struct {
	QuotationID int64 `json:"quotation_id"`
}

// NewQuotationPDFTask builds a render task. Identical pending tasks are
// coalesced for a few minutes.
func NewQuotationPDFTask(quotationID int64) (*asynq.Task, error) {
	body, err := json.Marshal(QuotationPDFPayload{QuotationID: quotationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationRenderPDF, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(pdfMaxRetry),
		asynq.Timeout(pdfTimeout),
		asynq.Unique(pdfUniqueness),
	), nil
}

// IdempotencyCleanupPayload configures the retention of idempotency keys.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewIdempotencyCleanupTask builds the periodic cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThanHours: int(olderThan.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
