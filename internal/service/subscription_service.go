package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/captcha"
	"smsalert/internal/carrier"
	"smsalert/internal/logging"
	"smsalert/internal/messages"
	"smsalert/internal/models"
	"smsalert/internal/repository"
	"smsalert/internal/subscription"
)

// maxDecideAttempts bounds how often an inbound event is re-decided when a
// concurrent writer changes the record between the read and the mutation.
const maxDecideAttempts = 3

var errConcurrentUpdate = errors.New("record kept changing under concurrent updates")

// Dispatcher sends a message without the caller waiting for the result.
type Dispatcher interface {
	Dispatch(ctx context.Context, to, body string)
}

type FormSubmission struct {
	PhoneNumber  string
	PhoneRecord  *models.SubscriptionRecord
	CaptchaToken string
}

type Outcome struct {
	Record  *models.SubscriptionRecord
	Created bool
	Message subscription.MessageKind
}

// Reply is what goes back to the inbound transport. Text is always set,
// also when an error is returned alongside it.
type Reply struct {
	Message subscription.MessageKind
	Text    string
}

type Options struct {
	Carrier    carrier.Verifier
	Captcha    captcha.Verifier // nil disables the CAPTCHA check
	Dispatcher Dispatcher
	Renderer   *messages.Renderer
	Keywords   subscription.Keywords
}

type SubscriptionService struct {
	repo       repository.SubscriptionRepository
	carrier    carrier.Verifier
	captcha    captcha.Verifier
	dispatcher Dispatcher
	renderer   *messages.Renderer
	keywords   subscription.Keywords
	logger     *logging.ContextLogger
	tracer     trace.Tracer
}

func NewSubscriptionService(repo repository.SubscriptionRepository, opts Options, logger *logging.ContextLogger) *SubscriptionService {
	if opts.Carrier == nil {
		opts.Carrier = carrier.AllowAll{}
	}
	if len(opts.Keywords.Enter)+len(opts.Keywords.Confirm)+len(opts.Keywords.Exit) == 0 {
		opts.Keywords = subscription.DefaultKeywords()
	}
	if opts.Renderer == nil {
		opts.Renderer = messages.NewRenderer("", opts.Keywords)
	}
	return &SubscriptionService{
		repo:       repo,
		carrier:    opts.Carrier,
		captcha:    opts.Captcha,
		dispatcher: opts.Dispatcher,
		renderer:   opts.Renderer,
		keywords:   opts.Keywords,
		logger:     logger,
		tracer:     otel.Tracer("subscription-service"),
	}
}

func (s *SubscriptionService) Renderer() *messages.Renderer {
	return s.renderer
}

// Submit runs a web form submission through verification and the state
// machine. Verification and validation failures never touch the store.
func (s *SubscriptionService) Submit(ctx context.Context, sub FormSubmission) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.service.submit")
	defer span.End()

	if err := s.verifyCaptcha(ctx, sub.CaptchaToken); err != nil {
		s.logger.WarnWithTracing(ctx, "Rejected form submission", logrus.Fields{
			"check": models.CheckCaptcha,
			"error": err.Error(),
		})
		span.RecordError(err)
		return Outcome{}, err
	}

	parts, err := submittedParts(sub)
	if err != nil {
		s.logger.WarnWithTracing(ctx, "Invalid phone number submitted", logrus.Fields{
			"phone_number": sub.PhoneNumber,
			"error":        err.Error(),
		})
		span.RecordError(err)
		return Outcome{}, err
	}

	e164 := parts.E164()
	span.SetAttributes(attribute.String("subscription.e164", e164))

	if err := s.verifyCarrier(ctx, e164); err != nil {
		s.logger.WarnWithTracing(ctx, "Rejected form submission", logrus.Fields{
			"check": models.CheckCarrier,
			"e164":  e164,
			"error": err.Error(),
		})
		span.RecordError(err)
		return Outcome{}, err
	}

	record, created, err := s.repo.CreateIfAbsent(ctx, models.NewSubscriptionRecord(parts, models.StatusPending))
	if err != nil {
		s.logger.ErrorWithTracing(ctx, "Failed to store subscription", err, logrus.Fields{
			"e164": e164,
		})
		span.RecordError(err)
		return Outcome{}, err
	}

	current := subscription.StatusAbsent
	if !created {
		current = subscription.StatusOf(record)
	}
	transition := subscription.Decide(current, subscription.EventNewSubmission)

	s.dispatch(ctx, e164, transition.Message)

	s.logger.InfoWithTracing(ctx, "Processed form submission", logrus.Fields{
		"e164":    e164,
		"created": created,
		"status":  transition.Next.String(),
		"message": string(transition.Message),
	})

	span.SetAttributes(
		attribute.Bool("subscription.created", created),
		attribute.String("subscription.status", transition.Next.String()),
		attribute.Bool("success", true),
	)

	return Outcome{Record: record, Created: created, Message: transition.Message}, nil
}

func submittedParts(sub FormSubmission) (models.PhoneParts, error) {
	if sub.PhoneRecord != nil {
		record := *sub.PhoneRecord
		if err := models.ValidateRecord(&record); err != nil {
			return models.PhoneParts{}, err
		}
		parts := record.Parts()
		if err := parts.ValidateNational(); err != nil {
			return models.PhoneParts{}, err
		}
		return parts, nil
	}
	if strings.TrimSpace(sub.PhoneNumber) == "" {
		return models.PhoneParts{}, &models.ValidationError{Field: "phoneNumber", Reason: "missing"}
	}
	return models.ParseNational(sub.PhoneNumber)
}

func (s *SubscriptionService) verifyCaptcha(ctx context.Context, token string) error {
	if s.captcha == nil {
		return nil
	}
	ok, err := s.captcha.Verify(ctx, token)
	if err != nil {
		return &models.VerificationError{Check: models.CheckCaptcha, Err: err}
	}
	if !ok {
		return &models.VerificationError{Check: models.CheckCaptcha, Reason: "invalid response to reCAPTCHA challenge"}
	}
	return nil
}

func (s *SubscriptionService) verifyCarrier(ctx context.Context, e164 string) error {
	result, err := s.carrier.Verify(ctx, e164)
	if err != nil {
		return &models.VerificationError{Check: models.CheckCarrier, Err: err}
	}
	if !result.Valid {
		return &models.VerificationError{Check: models.CheckCarrier, Reason: result.Reason()}
	}
	return nil
}

func (s *SubscriptionService) dispatch(ctx context.Context, to string, kind subscription.MessageKind) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(ctx, to, s.renderer.SMS(kind))
}

// HandleInbound applies an inbound SMS to the sender's record and returns
// the reply. The store mutation is committed before it returns, and
// replaying the same message converges on the same state.
func (s *SubscriptionService) HandleInbound(ctx context.Context, from, body string) (Reply, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.service.inbound",
		trace.WithAttributes(
			attribute.String("subscription.e164", from),
		))
	defer span.End()

	event := s.keywords.Classify(body)
	span.SetAttributes(attribute.String("subscription.event", event.String()))

	// Opting out never depends on the carrier lookup.
	if event != subscription.EventInboundExit {
		if err := s.verifyCarrier(ctx, from); err != nil {
			s.logger.WarnWithTracing(ctx, "Rejected inbound message", logrus.Fields{
				"from":  from,
				"event": event.String(),
				"error": err.Error(),
			})
			span.RecordError(err)
			return Reply{Text: s.renderer.Ineligible()}, err
		}
	}

	transition, err := s.apply(ctx, from, event)
	if err != nil {
		s.logger.ErrorWithTracing(ctx, "Failed to apply inbound message", err, logrus.Fields{
			"from":  from,
			"event": event.String(),
		})
		span.RecordError(err)
		return Reply{Text: s.renderer.Failure()}, err
	}

	s.logger.InfoWithTracing(ctx, "Processed inbound message", logrus.Fields{
		"from":    from,
		"event":   event.String(),
		"status":  transition.Next.String(),
		"message": string(transition.Message),
	})

	span.SetAttributes(
		attribute.String("subscription.status", transition.Next.String()),
		attribute.Bool("success", true),
	)

	return Reply{Message: transition.Message, Text: s.renderer.SMS(transition.Message)}, nil
}

func (s *SubscriptionService) apply(ctx context.Context, e164 string, event subscription.Event) (subscription.Transition, error) {
	for attempt := 1; attempt <= maxDecideAttempts; attempt++ {
		record, err := s.repo.FindByKey(ctx, e164)
		if err != nil && !errors.Is(err, models.ErrRecordNotFound) {
			return subscription.Transition{}, err
		}
		if err != nil {
			record = nil
		}

		current := subscription.StatusOf(record)
		transition := subscription.Decide(current, event)

		switch transition.Mutation(current) {
		case subscription.MutationNone:
			return transition, nil

		case subscription.MutationCreate:
			parts, err := models.DecomposeE164(e164)
			if err != nil {
				return subscription.Transition{}, err
			}
			_, created, err := s.repo.CreateIfAbsent(ctx, models.NewSubscriptionRecord(parts, transition.Next.Stored()))
			if err != nil {
				return subscription.Transition{}, err
			}
			if created {
				return transition, nil
			}

		case subscription.MutationSetStatus:
			err := s.repo.SetStatus(ctx, e164, transition.Next.Stored())
			if err == nil {
				return transition, nil
			}
			if !errors.Is(err, models.ErrRecordNotFound) {
				return subscription.Transition{}, err
			}

		case subscription.MutationDelete:
			if _, err := s.repo.Delete(ctx, e164); err != nil {
				return subscription.Transition{}, err
			}
			return transition, nil
		}

		s.logger.DebugWithTracing(ctx, "Record changed concurrently, deciding again", logrus.Fields{
			"e164":    e164,
			"attempt": attempt,
		})
	}
	return subscription.Transition{}, &models.StoreError{Op: "apply", Key: e164, Err: errConcurrentUpdate}
}
