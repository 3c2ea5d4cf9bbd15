package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/errors"
)

func initForTest(t *testing.T, buf *bytes.Buffer) ShutdownFunc {
	t.Helper()
	cfg := FromConfig(config.TracingConfig{Enabled: true, SamplingRate: 1}, "test")
	cfg.Output = buf
	cfg.BatchTimeout = 10 * time.Millisecond

	shutdown, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	return shutdown
}

func TestInit_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown := initForTest(t, &buf)

	_, span := otel.Tracer("test").Start(context.Background(), "upsert.Write")
	EndSpan(span, errors.New(errors.ErrorTypeQuota, "quota"))

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "upsert.Write")
	assert.Contains(t, out, ServiceName)
	assert.Contains(t, out, "quota")
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), FromConfig(config.TracingConfig{}, "test"), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, Sampler(-1).Description(), "AlwaysOffSampler")
	assert.Contains(t, Sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestInjectHTTPAndMiddleware(t *testing.T) {
	var buf bytes.Buffer
	shutdown := initForTest(t, &buf)
	defer shutdown(context.Background())

	ctx, span := otel.Tracer("test").Start(context.Background(), "fetch")
	defer span.End()

	h := http.Header{}
	InjectHTTP(ctx, h)
	require.NotEmpty(t, h.Get("Traceparent"))

	var got trace.SpanContext
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header = h
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, got.IsValid())
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
}
