package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	lookups "github.com/twilio/twilio-go/rest/lookups/v1"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/cache"
	"smsalert/internal/logging"
)

type Result struct {
	Valid       bool
	CountryCode string
	CarrierType string
}

func (r Result) Reason() string {
	return fmt.Sprintf("expected country code 'US' and carrier type 'mobile', got country code %q and carrier type %q", r.CountryCode, r.CarrierType)
}

// Verifier decides whether a number may subscribe. An error means the
// lookup itself failed, not that the number was rejected.
type Verifier interface {
	Verify(ctx context.Context, e164 string) (Result, error)
}

// LookupClient is the part of the Twilio Lookups v1 service we call.
type LookupClient interface {
	FetchPhoneNumber(phoneNumber string, params *lookups.FetchPhoneNumberParams) (*lookups.LookupsV1PhoneNumber, error)
}

const (
	requiredCountry     = "US"
	requiredCarrierType = "mobile"
)

type TwilioVerifier struct {
	client LookupClient
	tracer trace.Tracer
}

func NewTwilioVerifier(client LookupClient) *TwilioVerifier {
	return &TwilioVerifier{
		client: client,
		tracer: otel.Tracer("carrier-verifier"),
	}
}

func (v *TwilioVerifier) Verify(ctx context.Context, e164 string) (Result, error) {
	_, span := v.tracer.Start(ctx, "carrier.lookup",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "carrier.lookup"),
		))
	defer span.End()

	params := &lookups.FetchPhoneNumberParams{}
	params.SetType([]string{"carrier"})

	resp, err := v.client.FetchPhoneNumber(e164, params)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("failed to look up carrier: %w", err)
	}

	result := Result{CarrierType: carrierType(resp.Carrier)}
	if resp.CountryCode != nil {
		result.CountryCode = *resp.CountryCode
	}
	result.Valid = result.CountryCode == requiredCountry && result.CarrierType == requiredCarrierType

	span.SetAttributes(
		attribute.String("carrier.country_code", result.CountryCode),
		attribute.String("carrier.type", result.CarrierType),
		attribute.Bool("carrier.valid", result.Valid),
	)
	return result, nil
}

// carrierType reads "type" out of the loosely typed carrier payload.
func carrierType(payload any) string {
	if payload == nil {
		return ""
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	var c struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}
	return c.Type
}

// CachedVerifier memoizes successful lookups; failed lookups are retried.
type CachedVerifier struct {
	next   Verifier
	cache  cache.Cache[Result]
	ttl    time.Duration
	logger *logging.ContextLogger
}

func NewCachedVerifier(next Verifier, c cache.Cache[Result], ttl time.Duration, logger *logging.ContextLogger) *CachedVerifier {
	return &CachedVerifier{next: next, cache: c, ttl: ttl, logger: logger}
}

func (v *CachedVerifier) Verify(ctx context.Context, e164 string) (Result, error) {
	key := "carrier:" + e164
	if result, err := v.cache.Get(ctx, key); err == nil {
		return result, nil
	}

	result, err := v.next.Verify(ctx, e164)
	if err != nil {
		return Result{}, err
	}

	if err := v.cache.Set(ctx, key, result, v.ttl); err != nil {
		v.logger.WarnWithTracing(ctx, "Failed to cache carrier lookup", logrus.Fields{
			"e164":  e164,
			"error": err.Error(),
		})
	}
	return result, nil
}

// AllowAll accepts every number. Local development only.
type AllowAll struct{}

func (AllowAll) Verify(context.Context, string) (Result, error) {
	return Result{Valid: true, CountryCode: requiredCountry, CarrierType: requiredCarrierType}, nil
}
