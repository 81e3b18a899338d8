// Package tracer wires OpenTelemetry for both ends of the bridge. Client calls
// and host dispatches each get one span tagged with the function name and
// correlation id, so a trace export shows both halves of a round-trip.
package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"hostbridge/internal/infra/config"
)

const tracerName = "hostbridge"

// Roles tag every exported span with the side of the bridge that produced it.
const (
	RoleClient = "client"
	RoleHost   = "host"
)

// Attribute keys shared by client and host spans.
const (
	keyFunc          = "bridge.func"
	keyCorrelationID = "bridge.correlation_id"
	keyPeer          = "bridge.peer"
	keyRole          = "bridge.role"
)

// Setup initializes OpenTelemetry tracing for role and returns a shutdown
// function. When cfg.Enabled is false, a noop TracerProvider is used.
func Setup(ctx context.Context, cfg config.TracerConfig, role string) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", tracerName),
			attribute.String(keyRole, role),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// sampler maps a ratio in (0,1) to a ratio sampler; anything else samples everything.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}

// StartSpan is a convenience helper to start a named span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK sets the span status to OK.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// StringAttr is a convenience for attribute.String.
func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// IntAttr is a convenience for attribute.Int.
func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

// FuncAttr tags a span with the bridge function name.
func FuncAttr(fn string) attribute.KeyValue {
	return attribute.String(keyFunc, fn)
}

// CorrelationAttr tags a span with a request correlation id.
func CorrelationAttr(id uint64) attribute.KeyValue {
	return attribute.Int64(keyCorrelationID, int64(id))
}

// PeerAttr tags a host span with the authenticated peer name.
func PeerAttr(name string) attribute.KeyValue {
	return attribute.String(keyPeer, name)
}

// Finish ends span, recording err when non-nil and OK otherwise.
func Finish(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		SetOK(span)
	}
	span.End()
}
