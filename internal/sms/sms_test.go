package sms

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"smsalert/internal/logging"
)

type fakeMessageClient struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeMessageClient) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSenderBuildsParams(t *testing.T) {
	client := &fakeMessageClient{}

	require.NoError(t, NewTwilioSender(client, "+15005550006").Send(context.Background(), "+14151234567", "hello"))
	assert.Equal(t, "+14151234567", *client.params.To)
	assert.Equal(t, "+15005550006", *client.params.From)
	assert.Equal(t, "hello", *client.params.Body)
}

func TestTwilioSenderWrapsError(t *testing.T) {
	client := &fakeMessageClient{err: errors.New("21610 unsubscribed recipient")}

	err := NewTwilioSender(client, "+15005550006").Send(context.Background(), "+14151234567", "hello")
	assert.ErrorIs(t, err, client.err)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) Send(ctx context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.sent = append(r.sent, to)
	return r.err
}

func TestDispatcherSurvivesCancelledRequestContext(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, logging.NewLoggerWithOutput("info", io.Discard), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, "+14151234567", "hello")
	cancel()

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, []string{"+14151234567"}, sender.sent)
}

func TestDispatcherLogsDeliveryErrors(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{err: errors.New("carrier rejected")}
	d := NewDispatcher(sender, logging.NewLoggerWithOutput("info", &buf), time.Second)

	d.Dispatch(context.Background(), "+14151234567", "hello")
	require.NoError(t, d.Wait(context.Background()))

	assert.Contains(t, buf.String(), "Failed to deliver SMS")
	assert.Contains(t, buf.String(), "carrier rejected")
}
