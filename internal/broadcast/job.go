// Package broadcast sends the daily report to every subscribed number. It
// only reads the store.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"smsalert/internal/logging"
	"smsalert/internal/models"
	"smsalert/internal/repository"
	"smsalert/internal/sms"
)

type Result struct {
	Recipients int
	Sent       int
	Failed     int
}

type Job struct {
	repo        repository.SubscriptionRepository
	source      ReportSource
	sender      sms.Sender
	concurrency int
	logger      *logging.ContextLogger
	tracer      trace.Tracer
}

func NewJob(repo repository.SubscriptionRepository, source ReportSource, sender sms.Sender, concurrency int, logger *logging.ContextLogger) *Job {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Job{
		repo:        repo,
		source:      source,
		sender:      sender,
		concurrency: concurrency,
		logger:      logger,
		tracer:      otel.Tracer("broadcast-job"),
	}
}

// Run fetches the report once and sends it to every subscribed number.
// A failed send is logged and counted; it does not stop the run.
func (j *Job) Run(ctx context.Context) (Result, error) {
	ctx, span := j.tracer.Start(ctx, "broadcast.run")
	defer span.End()

	records, err := j.repo.ListByStatus(ctx, models.StatusSubscribed)
	if err != nil {
		j.logger.ErrorWithTracing(ctx, "Failed to list subscribers", err, nil)
		span.RecordError(err)
		return Result{}, err
	}

	result := Result{Recipients: len(records)}
	if len(records) == 0 {
		j.logger.InfoWithTracing(ctx, "No subscribers, skipping broadcast", nil)
		return result, nil
	}

	report, err := j.source.Fetch(ctx)
	if err != nil {
		j.logger.ErrorWithTracing(ctx, "Failed to fetch report", err, nil)
		span.RecordError(err)
		return result, fmt.Errorf("failed to fetch report: %w", err)
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("failed to render report: %w", err)
	}

	var sent, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)

	for _, record := range records {
		to := record.E164Format
		g.Go(func() error {
			if err := j.sender.Send(ctx, to, string(body)); err != nil {
				failed.Add(1)
				j.logger.ErrorWithTracing(ctx, "Failed to send report", &models.DeliveryError{To: to, Err: err}, logrus.Fields{
					"to": to,
				})
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result.Sent = int(sent.Load())
	result.Failed = int(failed.Load())

	j.logger.InfoWithTracing(ctx, "Broadcast finished", logrus.Fields{
		"recipients": result.Recipients,
		"sent":       result.Sent,
		"failed":     result.Failed,
	})

	span.SetAttributes(
		attribute.Int("broadcast.recipients", result.Recipients),
		attribute.Int("broadcast.sent", result.Sent),
		attribute.Int("broadcast.failed", result.Failed),
	)

	return result, nil
}
