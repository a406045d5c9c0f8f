// Package tracing wraps OpenTelemetry so the rest of the code base only deals
// with StartSpan/EndSpan. Until Init (or InitWithExporter) is called the
// global provider is a no-op and spans cost next to nothing.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/seantiz/xxfunc"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	// output is the trace file opened by Init, closed by Shutdown.
	output io.Closer
)

// Init installs a stdout exporter. Traces go to outputFile, or to os.Stdout
// when it is empty. It has no effect while a provider is installed.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	var f *os.File
	if outputFile != "" {
		var err error
		f, err = os.Create(outputFile)
		if err != nil {
			return err
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	installed := false
	if err == nil {
		var closer io.Closer
		if f != nil {
			closer = f
		}
		installed, err = install(serviceName, serviceVersion, exporter, closer)
	}
	if !installed && f != nil {
		_ = f.Close()
	}
	return err
}

// InitWithExporter installs the supplied exporter as the global provider.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}
	_, err := install(serviceName, serviceVersion, exporter, nil)
	return err
}

// install sets up the global provider unless one is already installed. out,
// when non-nil, is closed by Shutdown.
func install(serviceName, serviceVersion string, exporter sdktrace.SpanExporter, out io.Closer) (bool, error) {
	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		return false, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return false, err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	output = out
	return true, nil
}

// Shutdown flushes and stops the installed provider, if any, and closes its
// trace file. A later Init installs a fresh provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if provider == nil {
		return nil
	}

	err := provider.Shutdown(ctx)
	if output != nil {
		err = errors.Join(err, output.Close())
	}
	provider = nil
	output = nil
	return err
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// WithAttributes attaches string attributes to the span.
func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}
	s.span.SetAttributes(kv...)
	return s
}

// SetStatus records err on the span, or an OK status when err is nil.
func (s *Span) SetStatus(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		return
	}
	s.span.SetStatus(codes.Ok, "")
}

// StartSpan starts a child span of whatever span ctx carries. kind is one of
// SERVER, CLIENT, PRODUCER, CONSUMER; anything else is INTERNAL.
func StartSpan(ctx context.Context, name, kind string) (context.Context, *Span) {
	var spanKind trace.SpanKind
	switch kind {
	case "SERVER":
		spanKind = trace.SpanKindServer
	case "CLIENT":
		spanKind = trace.SpanKindClient
	case "PRODUCER":
		spanKind = trace.SpanKindProducer
	case "CONSUMER":
		spanKind = trace.SpanKindConsumer
	default:
		spanKind = trace.SpanKindInternal
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(spanKind))
	return ctx, &Span{span: span}
}

// EndSpan records err and ends the span.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}
	sp.SetStatus(err)
	sp.span.End()
}
