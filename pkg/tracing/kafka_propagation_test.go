package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSetHeader(t *testing.T) {
	headers := []kafka.Header{{Key: "event_type", Value: []byte("OrderCreated")}}

	headers = setHeader(headers, TraceparentHeader, []byte("first"))
	require.Len(t, headers, 2)

	headers = setHeader(headers, TraceparentHeader, []byte("second"))
	require.Len(t, headers, 2)
	require.Equal(t, []byte("second"), headers[1].Value)
	require.Equal(t, []byte("OrderCreated"), headers[0].Value)
}

func TestInjectKafkaHeaders_RoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectKafkaHeaders(ctx, nil)
	// Re-publishing injects again; the header must not accumulate.
	headers = InjectKafkaHeaders(ctx, headers)
	var traceparents int
	for _, h := range headers {
		if h.Key == TraceparentHeader {
			traceparents++
		}
	}
	require.Equal(t, 1, traceparents)

	got := trace.SpanContextFromContext(ExtractKafkaHeaders(context.Background(), headers))
	require.Equal(t, sc.TraceID(), got.TraceID())
}
