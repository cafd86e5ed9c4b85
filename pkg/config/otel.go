package config

import (
	"fmt"
	"os"
)

// OpenTelemetryConfig contains OTLP/HTTP exporter configuration
type OpenTelemetryConfig struct {
	Enabled        bool              `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	ServiceName    string            `yaml:"serviceName" env:"OTEL_SERVICE_NAME" env-default:"esb-smart-meter"`
	ServiceVersion string            `yaml:"serviceVersion" env:"OTEL_SERVICE_VERSION" env-default:"1.0.0"`
	Environment    string            `yaml:"environment" env:"OTEL_ENVIRONMENT" env-default:"production"`
	Endpoint       string            `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure       bool              `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"false"`
	Headers        map[string]string `yaml:"headers"`
	Traces         OTelTracesConfig  `yaml:"traces"`
	Metrics        OTelMetricsConfig `yaml:"metrics"`
}

// OTelTracesConfig contains trace export configuration
type OTelTracesConfig struct {
	Enabled       bool    `yaml:"enabled" env:"OTEL_TRACES_ENABLED" env-default:"true"`
	Endpoint      string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	SamplingRatio float64 `yaml:"samplingRatio" env:"OTEL_TRACES_SAMPLING_RATIO" env-default:"1.0"`
}

// OTelMetricsConfig contains metric export configuration
type OTelMetricsConfig struct {
	Enabled         bool   `yaml:"enabled" env:"OTEL_METRICS_ENABLED" env-default:"true"`
	Endpoint        string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	IntervalSeconds int    `yaml:"intervalSeconds" env:"OTEL_METRICS_INTERVAL_SECONDS" env-default:"30"`
	RuntimeMetrics  bool   `yaml:"runtimeMetrics" env:"OTEL_RUNTIME_METRICS" env-default:"true"`
}

// TracesEndpoint returns the trace endpoint, falling back to the shared one
func (c *OpenTelemetryConfig) TracesEndpoint() string {
	if c.Traces.Endpoint != "" {
		return c.Traces.Endpoint
	}
	return c.Endpoint
}

// MetricsEndpoint returns the metric endpoint, falling back to the shared one
func (c *OpenTelemetryConfig) MetricsEndpoint() string {
	if c.Metrics.Endpoint != "" {
		return c.Metrics.Endpoint
	}
	return c.Endpoint
}

// Validate checks the configuration when OpenTelemetry is enabled
func (c *OpenTelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ServiceName == "" {
		return fmt.Errorf("opentelemetry serviceName is required when OpenTelemetry is enabled")
	}

	// The exporters also read the standard OTEL_EXPORTER_OTLP_* variables themselves
	envEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""

	if c.Traces.Enabled {
		if c.TracesEndpoint() == "" && !envEndpoint {
			return fmt.Errorf("opentelemetry traces endpoint is required when traces are enabled")
		}
		if c.Traces.SamplingRatio < 0 || c.Traces.SamplingRatio > 1 {
			return fmt.Errorf("opentelemetry traces samplingRatio must be between 0 and 1, got: %f", c.Traces.SamplingRatio)
		}
	}

	if c.Metrics.Enabled {
		if c.MetricsEndpoint() == "" && !envEndpoint {
			return fmt.Errorf("opentelemetry metrics endpoint is required when metrics are enabled")
		}
		if c.Metrics.IntervalSeconds < 1 {
			return fmt.Errorf("opentelemetry metrics intervalSeconds must be at least 1, got: %d", c.Metrics.IntervalSeconds)
		}
	}

	return nil
}
