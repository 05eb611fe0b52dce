package sms

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/logging"
	"smsalert/internal/models"
)

// Dispatcher sends messages in the background. Callers never wait on the
// result; failures are logged as DeliveryErrors.
type Dispatcher struct {
	sender  Sender
	logger  *logging.ContextLogger
	timeout time.Duration
	tracer  trace.Tracer
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, logger *logging.ContextLogger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: timeout,
		tracer:  otel.Tracer("sms-dispatcher"),
	}
}

// Dispatch detaches from ctx cancellation so a finished HTTP request does
// not abort the send, but keeps its trace.
func (d *Dispatcher) Dispatch(ctx context.Context, to, body string) {
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		ctx, span := d.tracer.Start(ctx, "sms.dispatch",
			trace.WithAttributes(attribute.String("sms.to", to)))
		defer span.End()

		if err := d.sender.Send(ctx, to, body); err != nil {
			derr := &models.DeliveryError{To: to, Err: err}
			span.RecordError(derr)
			d.logger.ErrorWithTracing(ctx, "Failed to deliver SMS", derr, logrus.Fields{
				"to": to,
			})
			return
		}

		d.logger.DebugWithTracing(ctx, "Delivered SMS", logrus.Fields{"to": to})
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
