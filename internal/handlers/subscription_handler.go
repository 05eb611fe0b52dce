package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go/twiml"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/logging"
	"smsalert/internal/models"
	"smsalert/internal/service"
	"smsalert/internal/subscription"
)

const (
	signatureHeader     = "X-Twilio-Signature"
	invalidPhoneMessage = "Expected a US phone number in (NNN) NNN-NNNN format."
	emptyTwiML          = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// SignatureValidator checks the signature Twilio attaches to webhooks.
type SignatureValidator interface {
	Validate(url string, params map[string]string, expectedSignature string) bool
}

type SubscriptionHandler struct {
	service   *service.SubscriptionService
	validator SignatureValidator
	publicURL string
	logger    *logging.ContextLogger
	tracer    trace.Tracer
}

// NewSubscriptionHandler builds the HTTP handlers. A nil validator accepts
// unsigned inbound webhooks; publicURL is the externally visible base URL
// the signature was computed over.
func NewSubscriptionHandler(service *service.SubscriptionService, validator SignatureValidator, publicURL string, logger *logging.ContextLogger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:   service,
		validator: validator,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
		tracer:    otel.Tracer("subscription-handler"),
	}
}

func (h *SubscriptionHandler) SubmitForm(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "subscription.handler.submit_form")
	defer span.End()

	var req models.SubscriptionFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.ErrorWithTracing(ctx, "Invalid request payload", err, logrus.Fields{
			"endpoint": "POST /sms-form",
		})
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: "Invalid request payload."})
		return
	}

	outcome, err := h.service.Submit(ctx, service.FormSubmission{
		PhoneNumber:  req.PhoneNumber,
		PhoneRecord:  req.PhoneRecord,
		CaptchaToken: req.Token(),
	})
	if err != nil {
		status, message := formError(err)
		h.logger.WarnWithTracing(ctx, "Form submission rejected", logrus.Fields{
			"endpoint": "POST /sms-form",
			"status":   status,
			"error":    err.Error(),
		})
		span.RecordError(err)
		span.SetAttributes(attribute.Int("http.status_code", status))
		c.JSON(status, models.MessageResponse{Message: message})
		return
	}

	status := formStatus(outcome)
	h.logger.InfoWithTracing(ctx, "Form submission accepted", logrus.Fields{
		"endpoint": "POST /sms-form",
		"e164":     outcome.Record.E164Format,
		"created":  outcome.Created,
		"message":  string(outcome.Message),
	})

	span.SetAttributes(
		attribute.String("subscription.e164", outcome.Record.E164Format),
		attribute.Int("http.status_code", status),
		attribute.Bool("success", true),
	)

	c.JSON(status, models.MessageResponse{Message: h.service.Renderer().Form(outcome.Message)})
}

// formStatus keeps pending and already-subscribed outcomes on 2xx; they
// are not failures.
func formStatus(outcome service.Outcome) int {
	switch {
	case outcome.Created:
		return http.StatusCreated
	case outcome.Message == subscription.MessagePendingSubscription:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func formError(err error) (int, string) {
	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, invalidPhoneMessage
	}

	var verificationErr *models.VerificationError
	if errors.As(err, &verificationErr) {
		switch {
		case verificationErr.Err != nil:
			return http.StatusBadGateway, "Verification is temporarily unavailable. Please try again later."
		case verificationErr.Check == models.CheckCaptcha:
			return http.StatusForbidden, "Invalid response to reCAPTCHA challenge."
		default:
			return http.StatusUnprocessableEntity, "Expected: 'US' country code and 'mobile' phone number."
		}
	}

	return http.StatusInternalServerError, "Failed to process subscription."
}

// Inbound answers Twilio's messaging webhook. Any request that passes the
// signature check gets 200 with a TwiML envelope, whatever happened while
// processing it.
func (h *SubscriptionHandler) Inbound(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "subscription.handler.inbound")
	defer span.End()

	if err := c.Request.ParseForm(); err != nil {
		h.logger.ErrorWithTracing(ctx, "Invalid inbound payload", err, logrus.Fields{
			"endpoint": "POST /sms-inbound",
		})
		span.RecordError(err)
	}

	if !h.validSignature(c) {
		h.logger.WarnWithTracing(ctx, "Rejected inbound webhook with invalid signature", logrus.Fields{
			"endpoint": "POST /sms-inbound",
		})
		c.Status(http.StatusForbidden)
		return
	}

	from := c.Request.PostForm.Get("From")
	body := c.Request.PostForm.Get("Body")

	reply, err := h.service.HandleInbound(ctx, from, body)
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(attribute.String("subscription.message", string(reply.Message)))
	}

	c.Data(http.StatusOK, "text/xml", []byte(h.envelope(c, reply.Text)))
}

func (h *SubscriptionHandler) validSignature(c *gin.Context) bool {
	if h.validator == nil {
		return true
	}

	params := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	return h.validator.Validate(h.requestURL(c), params, c.GetHeader(signatureHeader))
}

func (h *SubscriptionHandler) requestURL(c *gin.Context) string {
	if h.publicURL != "" {
		return h.publicURL + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

func (h *SubscriptionHandler) envelope(c *gin.Context, text string) string {
	body, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: text}})
	if err != nil {
		h.logger.ErrorWithTracing(c.Request.Context(), "Failed to render TwiML", err, nil)
		return emptyTwiML
	}
	return body
}
