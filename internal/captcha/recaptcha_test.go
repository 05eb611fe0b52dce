package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"smsalert/internal/telemetry"
)

func siteVerifyServer(t *testing.T, status int, success bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "s3cret", r.PostForm.Get("secret"))
		assert.Equal(t, "token-123", r.PostForm.Get("response"))

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": success})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReCaptchaSuccess(t *testing.T) {
	srv := siteVerifyServer(t, http.StatusOK, true)

	ok, err := NewReCaptcha("s3cret", srv.URL).Verify(context.Background(), "token-123")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReCaptchaRejected(t *testing.T) {
	srv := siteVerifyServer(t, http.StatusOK, false)

	ok, err := NewReCaptcha("s3cret", srv.URL).Verify(context.Background(), "token-123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReCaptchaServerError(t *testing.T) {
	srv := siteVerifyServer(t, http.StatusInternalServerError, false)

	_, err := NewReCaptcha("s3cret", srv.URL).Verify(context.Background(), "token-123")
	assert.Error(t, err)
}

func TestReCaptchaEmptyTokenIsRejectedLocally(t *testing.T) {
	ok, err := NewReCaptcha("s3cret", "http://127.0.0.1:1").Verify(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReCaptchaPropagatesTraceContext(t *testing.T) {
	recorder := telemetry.NewTestSpanRecorder()
	tp := telemetry.InitTestTracing(recorder)
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceparents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparents <- r.Header.Get("traceparent")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	ok, err := NewReCaptcha("s3cret", srv.URL).Verify(context.Background(), "token-123")
	require.NoError(t, err)
	assert.True(t, ok)

	spans := recorder.GetSpansByName("captcha.verify")
	require.Len(t, spans, 1)
	assert.Contains(t, <-traceparents, spans[0].SpanContext().TraceID().String())
}
