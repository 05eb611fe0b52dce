package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracingExportsOnShutdown(t *testing.T) {
	var out bytes.Buffer
	tp, err := InitTracing("smsalert-test", "0.0.1", &out)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit.span")
	span.End()

	require.NoError(t, ShutdownTracing(context.Background(), tp))
	assert.Contains(t, out.String(), "unit.span")
	assert.Contains(t, out.String(), "smsalert-test")
}

func TestRecorderFiltersByOperation(t *testing.T) {
	recorder := NewTestSpanRecorder()
	tp := InitTestTracing(recorder)
	defer tp.Shutdown(context.Background())

	tracer := tp.Tracer("test")
	_, read := tracer.Start(context.Background(), "read")
	read.SetAttributes(attribute.String("operation", "database.read"))
	read.End()
	_, write := tracer.Start(context.Background(), "write")
	write.SetAttributes(attribute.String("operation", "database.write"))
	write.End()

	assert.Equal(t, 2, recorder.Count())
	assert.Len(t, recorder.GetSpansByOperation("database.read"), 1)
	assert.Len(t, recorder.GetSpansByName("write"), 1)

	recorder.Clear()
	assert.Zero(t, recorder.Count())
}
