// Package tracing installs the process-wide OpenTelemetry tracer provider.
// Spans are exported over OTLP/HTTP when an endpoint is configured and
// discarded otherwise.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pipelink-labs/pipelink-go/internal/platform/env"
)

type Config struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
	SampleRate  float64
}

func ConfigFromEnv(service string) (Config, error) {
	insecure, err := env.Bool("OTEL_EXPORTER_OTLP_INSECURE", false)
	if err != nil {
		return Config{}, err
	}
	rate, err := env.Float("OTEL_TRACES_SAMPLER_ARG", 1.0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:    env.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName: env.String("OTEL_SERVICE_NAME", service),
		Insecure:    insecure,
		SampleRate:  rate,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return errors.New("OTEL_SERVICE_NAME is required")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be within [0,1]")
	}
	return nil
}

type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
	name     string
}

// NewProvider builds the provider and registers it, with W3C trace context
// propagation, as the otel global.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if strings.TrimSpace(cfg.Endpoint) == "" {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Provider{
			tp:       tp,
			shutdown: func(context.Context) error { return nil },
			name:     cfg.ServiceName,
		}, nil
	}

	var opts []otlptracehttp.Option
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp, shutdown: tp.Shutdown, name: cfg.ServiceName}, nil
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(p.name)
}

// Exporting reports whether spans leave the process.
func (p *Provider) Exporting() bool {
	_, ok := p.tp.(*sdktrace.TracerProvider)
	return ok
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
