package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/pgpool"

// Span names.
const (
	SpanCheckout = "pool.checkout"
	SpanConnect  = "pool.connect"
	SpanRecycle  = "pool.recycle"
)

// Tracer starts spans tagged with the pool they belong to.
type Tracer struct {
	tracer trace.Tracer
	pool   string
}

// NewTracer creates a Tracer from tp, or from the global provider when tp
// is nil.
func NewTracer(tp trace.TracerProvider, pool string) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentationName), pool: pool}
}

// Start starts a span for operation.
func (t *Tracer) Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.pool.name", t.pool))
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// End records err on span, sets its status, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
