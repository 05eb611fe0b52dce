package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

type Verifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

type ReCaptcha struct {
	secret    string
	verifyURL string
	client    *http.Client
	tracer    trace.Tracer
}

func NewReCaptcha(secret, verifyURL string) *ReCaptcha {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &ReCaptcha{
		secret:    secret,
		verifyURL: verifyURL,
		client:    client,
		tracer:    otel.Tracer("captcha-verifier"),
	}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

func (r *ReCaptcha) Verify(ctx context.Context, token string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "captcha.verify",
		trace.WithAttributes(attribute.String("operation", "captcha.verify")))
	defer span.End()

	if token == "" {
		span.SetAttributes(attribute.Bool("captcha.success", false))
		return false, nil
	}

	form := url.Values{"secret": {r.secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to call siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("siteverify returned status %d", resp.StatusCode)
		span.RecordError(err)
		return false, err
	}

	var body siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to decode siteverify response: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("captcha.success", body.Success),
		attribute.StringSlice("captcha.error_codes", body.ErrorCodes),
	)
	return body.Success, nil
}
