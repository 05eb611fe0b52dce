package carrier

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lookups "github.com/twilio/twilio-go/rest/lookups/v1"

	"smsalert/internal/cache"
	"smsalert/internal/logging"
)

type fakeLookup struct {
	country string
	carrier any
	err     error
	calls   int
	types   []string
}

func (f *fakeLookup) FetchPhoneNumber(phoneNumber string, params *lookups.FetchPhoneNumberParams) (*lookups.LookupsV1PhoneNumber, error) {
	f.calls++
	if params.Type != nil {
		f.types = *params.Type
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &lookups.LookupsV1PhoneNumber{PhoneNumber: &phoneNumber, CountryCode: &f.country}
	if f.carrier != nil {
		resp.Carrier = &f.carrier
	}
	return resp, nil
}

func TestTwilioVerifierAcceptsUSMobile(t *testing.T) {
	lookup := &fakeLookup{country: "US", carrier: map[string]any{"type": "mobile", "name": "Carrier"}}

	result, err := NewTwilioVerifier(lookup).Verify(context.Background(), "+14151234567")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"carrier"}, lookup.types)
}

func TestTwilioVerifierRejectsLandline(t *testing.T) {
	lookup := &fakeLookup{country: "US", carrier: map[string]any{"type": "landline"}}

	result, err := NewTwilioVerifier(lookup).Verify(context.Background(), "+14151234567")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason(), `"landline"`)
}

func TestTwilioVerifierRejectsForeign(t *testing.T) {
	lookup := &fakeLookup{country: "CA", carrier: map[string]any{"type": "mobile"}}

	result, err := NewTwilioVerifier(lookup).Verify(context.Background(), "+14161234567")
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestCachedVerifierMemoizesSuccess(t *testing.T) {
	lookup := &fakeLookup{country: "US", carrier: map[string]any{"type": "mobile"}}
	c := cache.NewInMemoryCache[Result](time.Hour)
	defer c.Close()
	v := NewCachedVerifier(NewTwilioVerifier(lookup), c, time.Hour, logging.NewLoggerWithOutput("info", io.Discard))

	for i := 0; i < 3; i++ {
		result, err := v.Verify(context.Background(), "+14151234567")
		require.NoError(t, err)
		assert.True(t, result.Valid)
	}
	assert.Equal(t, 1, lookup.calls)
}

func TestCachedVerifierDoesNotCacheFailures(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("20404 not found")}
	c := cache.NewInMemoryCache[Result](time.Hour)
	defer c.Close()
	v := NewCachedVerifier(NewTwilioVerifier(lookup), c, time.Hour, logging.NewLoggerWithOutput("info", io.Discard))

	_, err := v.Verify(context.Background(), "+14151234567")
	require.Error(t, err)
	_, err = v.Verify(context.Background(), "+14151234567")
	require.Error(t, err)
	assert.Equal(t, 2, lookup.calls)
}
