package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/sdkrtl/transport"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp.Tracer("test")
}

func attrs(span sdktrace.ReadOnlySpan) map[string]any {
	m := map[string]any{}
	for _, kv := range span.Attributes() {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestExchangeSpan_Success(t *testing.T) {
	sr, tracer := newRecorder(t)

	_, span := StartExchangeSpan(context.Background(), tracer, "GET", "https://api.test/v1", nil)
	EndExchangeSpan(span, &transport.RawResponse{StatusCode: 204, ExchangeID: "x-1", OK: true}, nil)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != SpanExchange || s.SpanKind() != trace.SpanKindClient {
		t.Errorf("unexpected span %q kind %v", s.Name(), s.SpanKind())
	}
	a := attrs(s)
	if a[AttrMethod] != "GET" || a[AttrURL] != "https://api.test/v1" {
		t.Errorf("unexpected request attributes %v", a)
	}
	if a[AttrStatusCode] != int64(204) || a[AttrExchangeID] != "x-1" {
		t.Errorf("unexpected response attributes %v", a)
	}
	if s.Status().Code == codes.Error {
		t.Error("ok response must not fail the span")
	}
}

func TestExchangeSpan_Failures(t *testing.T) {
	sr, tracer := newRecorder(t)

	_, notOK := StartExchangeSpan(context.Background(), tracer, "GET", "https://api.test", nil)
	EndExchangeSpan(notOK, &transport.RawResponse{StatusCode: 503, StatusMessage: "Service Unavailable"}, nil)

	_, failed := StartExchangeSpan(context.Background(), tracer, "GET", "https://api.test", nil)
	EndExchangeSpan(failed, nil, errors.New("connection refused"))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error || spans[0].Status().Description != "Service Unavailable" {
		t.Errorf("unexpected status %+v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Errorf("expected recorded error, got %+v", spans[1].Status())
	}
}

func TestStartExchangeSpan_InjectsHeaders(t *testing.T) {
	_, tracer := newRecorder(t)
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	ctx, parent := tracer.Start(context.Background(), "parent")
	defer parent.End()

	headers := http.Header{}
	_, child := StartExchangeSpan(ctx, tracer, "GET", "https://api.test", headers)
	defer child.End()

	tp := headers.Get("traceparent")
	if tp == "" {
		t.Fatal("expected traceparent header")
	}
	if !strings.Contains(tp, child.SpanContext().TraceID().String()) || !strings.Contains(tp, child.SpanContext().SpanID().String()) {
		t.Errorf("traceparent %q does not reference the exchange span", tp)
	}
	if child.SpanContext().TraceID() != parent.SpanContext().TraceID() {
		t.Error("exchange span must join the caller trace")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource("billing", "1.2.3", "test")
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]string{}
	for _, kv := range res.Attributes() {
		found[string(kv.Key)] = kv.Value.Emit()
	}
	if found["service.name"] != "billing" || found["service.version"] != "1.2.3" || found["environment"] != "test" {
		t.Errorf("unexpected resource attributes %v", found)
	}
}

func TestDefaultConfigs(t *testing.T) {
	tc := DefaultTracerConfig("svc")
	if tc.ServiceName != "svc" || tc.SampleRate != 1.0 || tc.Endpoint == "" {
		t.Errorf("unexpected tracer defaults %+v", tc)
	}
	mc := DefaultMeterConfig("svc")
	if mc.ServiceName != "svc" || mc.Interval <= 0 || !mc.Insecure {
		t.Errorf("unexpected meter defaults %+v", mc)
	}
}
