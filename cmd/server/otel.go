package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const serviceVersion = "0.1.0"

// initOtel initializes OpenTelemetry metrics. An empty endpoint leaves the
// global no-op meter provider in place.
func initOtel(ctx context.Context, serviceName, metricsEndpoint string, logger *logrus.Logger) (shutdown func(context.Context) error, err error) {
	if metricsEndpoint == "" {
		logger.Info("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT is empty, metrics export disabled.")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry resource: %w", err)
	}

	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(metricsEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	logger.Infof("OTLP Metric exporter configured for endpoint: %s", metricsEndpoint)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(meterProvider)
	logger.Info("OTLP Meter provider configured and set globally.")

	shutdown = func(ctx context.Context) error {
		logger.Info("Starting OpenTelemetry shutdown...")
		if err := meterProvider.Shutdown(ctx); err != nil {
			err = fmt.Errorf("failed to shutdown OTLP meter provider: %w", err)
			logger.Errorf("%v", err)
			return err
		}
		logger.Info("OpenTelemetry shutdown completed successfully.")
		return nil
	}
	return shutdown, nil
}
