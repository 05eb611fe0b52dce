package sms

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/logging"
)

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// MessageClient is the part of the Twilio REST API we call.
type MessageClient interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioSender struct {
	client MessageClient
	from   string
	tracer trace.Tracer
}

func NewTwilioSender(client MessageClient, from string) *TwilioSender {
	return &TwilioSender{
		client: client,
		from:   from,
		tracer: otel.Tracer("sms-sender"),
	}
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	_, span := s.tracer.Start(ctx, "sms.send",
		trace.WithAttributes(
			attribute.String("sms.to", to),
			attribute.String("operation", "sms.send"),
		))
	defer span.End()

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	msg, err := s.client.CreateMessage(params)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create twilio message: %w", err)
	}

	if msg != nil && msg.Sid != nil {
		span.SetAttributes(attribute.String("sms.sid", *msg.Sid))
	}
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	Logger *logging.ContextLogger
}

func (s LogSender) Send(ctx context.Context, to, body string) error {
	s.Logger.InfoWithTracing(ctx, "Outbound SMS (not sent)", logrus.Fields{
		"to":   to,
		"body": body,
	})
	return nil
}
