package common

import (
	"context"

	"github.com/uptrace/uptrace-go/uptrace"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InitOpentelemetry configures trace export when a DSN is set and always installs
// the propagators used to carry trace context through message headers.
// The returned function flushes and stops the exporter.
func InitOpentelemetry(cfg OtlpConfig) func(context.Context) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		xray.Propagator{},
	))

	if cfg.Dsn() == "" {
		return func(context.Context) error { return nil }
	}

	uptrace.ConfigureOpentelemetry(
		uptrace.WithDSN(cfg.Dsn()),
		uptrace.WithTracingEnabled(true),
		uptrace.WithLoggingEnabled(true),
		uptrace.WithServiceName(cfg.ServiceName()),
		uptrace.WithDeploymentEnvironment(cfg.Environment()),
		uptrace.WithServiceVersion(cfg.Version()),
	)
	return uptrace.Shutdown
}
