package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry interceptor name and order.
const (
	TelemetryRequestInterceptorName  = "TelemetryRequestInterceptor"
	TelemetryRequestInterceptorOrder = OrderLast - 1000
)

const instrumentationName = "github.com/fivetwenty-io/wow-client/pkg/fetcher"

// Telemetry records a span and metrics for every exchange.
type Telemetry struct {
	tracer       trace.Tracer
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewTelemetry creates the instruments from the given providers.
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)

	totalCount, err := meter.Int64Counter(
		"fetcher.exchange.total",
		metric.WithDescription("Total number of exchanges"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating exchange counter: %w", err)
	}

	errorCount, err := meter.Int64Counter(
		"fetcher.exchange.errors",
		metric.WithDescription("Total number of failed exchanges"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"fetcher.exchange.duration_ms",
		metric.WithDescription("Exchange duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Telemetry{
		tracer:       tp.Tracer(instrumentationName),
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
	}, nil
}

// Register starts a span before each request and records the outcome once
// the exchange has settled, so an exchange recovered by an error interceptor
// counts as a success.
func (t *Telemetry) Register(m *InterceptorManager) error {
	if _, err := m.Request.Use(NewInterceptor(TelemetryRequestInterceptorName, TelemetryRequestInterceptorOrder, t.start)); err != nil {
		return err
	}

	m.OnComplete(t.complete)

	return nil
}

func (t *Telemetry) start(ctx context.Context, exchange *Exchange) error {
	_, span := t.tracer.Start(ctx, "HTTP "+exchange.Request.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", exchange.Request.Method),
			attribute.String("url.full", exchange.Request.URL),
		),
	)

	exchange.Attributes.Set(AttrSpan, span)
	exchange.Attributes.Set(AttrStartTime, time.Now())

	return nil
}

func (t *Telemetry) complete(ctx context.Context, exchange *Exchange) {
	t.record(ctx, exchange, exchange.Error)
}

func (t *Telemetry) record(ctx context.Context, exchange *Exchange, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", exchange.Request.Method),
	}

	if exchange.Response != nil {
		attrs = append(attrs, attribute.Int("http.response.status_code", exchange.Response.StatusCode))
	}

	opt := metric.WithAttributes(attrs...)

	t.totalCount.Add(ctx, 1, opt)

	if err != nil {
		t.errorCount.Add(ctx, 1, opt)
	}

	if start, ok := exchange.Attributes.Time(AttrStartTime); ok {
		t.durationHist.Record(ctx, float64(time.Since(start).Milliseconds()), opt)
	}

	span, ok := exchange.Attributes[AttrSpan].(trace.Span)
	if !ok {
		return
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
	exchange.Attributes.Delete(AttrSpan)
}
