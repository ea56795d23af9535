package tracing

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var enabled atomic.Bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
	enabled.Store(enable)
	if !enable {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Span is an in-flight span, or a no-op when tracing is disabled.
type Span struct {
	span trace.Span
}

// StartSpan starts a tracing span if tracing is enabled.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	if !enabled.Load() {
		return ctx, &Span{}
	}
	ctx, span := otel.Tracer("go-rumors").Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// End finishes the span, recording err when it is non-nil.
func (s *Span) End(err error) {
	if s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// Peer is the attribute naming the remote endpoint of an exchange.
func Peer(addr string) attribute.KeyValue { return attribute.String("rumors.peer", addr) }

// Count is the attribute carrying the number of endpoints in a message.
func Count(n int) attribute.KeyValue { return attribute.Int("rumors.endpoints", n) }
