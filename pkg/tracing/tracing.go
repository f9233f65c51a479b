// Package tracing wraps OpenTelemetry so prover components can open spans without importing the
// SDK directly. Spans are no-ops until Init is called and again after the provider is closed.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
)

const tracerName = "github.com/Layr-Labs/hourglass-monorepo/ponos-prover"

// Provider owns the installed tracer provider and the file its exporter writes to.
type Provider struct {
	tp   *sdktrace.TracerProvider
	file *os.File
}

// Init installs a stdout exporter writing to outputFile, or os.Stdout when empty. The caller must
// Close the returned provider to flush spans and release the file.
func Init(serviceName, serviceVersion, outputFile string) (*Provider, error) {
	var w io.Writer = os.Stdout
	var file *os.File
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w, file = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		closeFile(file)
		return nil, err
	}
	p, err := InitWithExporter(serviceName, serviceVersion, exporter)
	if err != nil {
		closeFile(file)
		return nil, err
	}
	p.file = file
	return p, nil
}

// InitWithExporter installs exporter as the global span destination, replacing any earlier one.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*Provider, error) {
	if exporter == nil {
		return nil, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Close flushes and shuts down the provider, closes its output file and turns spans back into
// no-ops. Safe on a nil provider and when called twice.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if otel.GetTracerProvider() == trace.TracerProvider(p.tp) {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	err := p.tp.Shutdown(ctx)
	if p.file != nil {
		err = multierr.Append(err, p.file.Close())
		p.file = nil
	}
	p.tp = nil
	return err
}

func closeFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

type Span struct {
	span trace.Span
}

// StartSpan opens an internal span named name as a child of any span in ctx.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, s := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, &Span{span: s}
}

func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// End records err (if any) as the span status and ends the span.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
