package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	gatewaywebhook "github.com/angelmondragon/escrow-ledger/internal/webhooks/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
)

const (
	defaultWebhookMaxAttempts = 8
	defaultWebhookRetryDelay  = time.Minute
	defaultBatchLimit         = 100
)

type WebhookRetryJobParams struct {
	Logger      *logger.Logger
	Events      retryableWebhookLister
	Reconciler  webhookReprocessor
	MaxAttempts int
	RetryDelay  time.Duration
	BatchLimit  int
}

type retryableWebhookLister interface {
	ListRetryableWebhookEvents(ctx context.Context, maxAttempts int, updatedBefore time.Time, limit int) ([]models.WebhookEvent, error)
}

type webhookReprocessor interface {
	Reprocess(ctx context.Context, row *models.WebhookEvent) (*gatewaywebhook.Result, error)
}

// NewWebhookRetryJob builds the job that replays stored deliveries left
// pending or failed, such as a payment that arrived before its account row
// was committed.
func NewWebhookRetryJob(params WebhookRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("webhook event lister required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("webhook reconciler required")
	}
	job := &webhookRetryJob{
		logg:        params.Logger,
		events:      params.Events,
		reconciler:  params.Reconciler,
		maxAttempts: params.MaxAttempts,
		delay:       params.RetryDelay,
		limit:       params.BatchLimit,
		now:         time.Now,
	}
	if job.maxAttempts <= 0 {
		job.maxAttempts = defaultWebhookMaxAttempts
	}
	if job.delay <= 0 {
		job.delay = defaultWebhookRetryDelay
	}
	if job.limit <= 0 {
		job.limit = defaultBatchLimit
	}
	return job, nil
}

type webhookRetryJob struct {
	logg        *logger.Logger
	events      retryableWebhookLister
	reconciler  webhookReprocessor
	maxAttempts int
	delay       time.Duration
	limit       int
	now         func() time.Time
}

func (j *webhookRetryJob) Name() string { return "webhook-retry" }

func (j *webhookRetryJob) Run(ctx context.Context) error {
	rows, err := j.events.ListRetryableWebhookEvents(ctx, j.maxAttempts, j.now().UTC().Add(-j.delay), j.limit)
	if err != nil {
		return fmt.Errorf("list retryable webhook events: %w", err)
	}

	var errs error
	processed, failed := 0, 0
	for i := range rows {
		row := &rows[i]
		result, err := j.reconciler.Reprocess(ctx, row)
		if err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("reprocess %s: %w", row.ExternalEventID, err))
			continue
		}
		if result.Status == enums.WebhookStatusProcessed {
			processed++
		} else {
			failed++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"processed":  processed,
		"failed":     failed,
	}), "webhook retry pass complete")
	return errs
}
