// Package observability configures OpenTelemetry tracing for the process.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporters.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config controls tracing.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// DefaultConfig returns tracing disabled with a stdout exporter preset.
func DefaultConfig() Config {
	return Config{Exporter: ExporterStdout, SampleRatio: 1, ServiceName: "dossier"}
}

// Validate validates the tracing configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Exporter, validation.In(ExporterStdout, ExporterNone)),
		validation.Field(&c.SampleRatio, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Init installs a global tracer provider and returns its shutdown func. When
// tracing is disabled the returned func is a no-op and the global provider is
// left untouched. Spans are written to w (stdout when nil).
func Init(ctx context.Context, cfg Config, version string, w io.Writer, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if w == nil {
		w = os.Stdout
	}
	name := cfg.ServiceName
	if name == "" {
		name = "dossier"
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", name),
		attribute.String("service.version", version),
	))
	if err != nil {
		logger.Warn("otel resource init failed (continuing)", slog.String("error", err.Error()))
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	}
	if cfg.Exporter == ExporterStdout {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return noop, fmt.Errorf("observability: stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("otel tracing initialized",
		slog.String("service", name),
		slog.String("exporter", cfg.Exporter))
	return tp.Shutdown, nil
}
