package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
	ServiceName  string  `yaml:"service_name"`
}

type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

var (
	metricsEnabled int32
	tracingEnabled int32

	defaultTracer trace.Tracer

	connsActive    prometheus.Gauge
	packetsTotal   prometheus.Counter
	commandsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
	commandLatency prometheus.Histogram

	httpSrv *http.Server
)

func MetricsEnabled() bool {
	return atomic.LoadInt32(&metricsEnabled) == 1
}

func TracingEnabled() bool {
	return atomic.LoadInt32(&tracingEnabled) == 1
}

func Tracer() trace.Tracer {
	if defaultTracer != nil {
		return defaultTracer
	}
	return otel.Tracer("corvus")
}

// Init wires metrics and tracing per config and returns a shutdown hook.
func Init(ctx context.Context, cfg Config, l *slog.Logger) (func(context.Context) error, error) {
	shutdownFns := []func(context.Context) error{}

	if cfg.Metrics.Enabled {
		atomic.StoreInt32(&metricsEnabled, 1)

		connsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corvus_connections_active",
			Help: "Open database connections.",
		})
		packetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corvus_packets_total",
			Help: "Wire packets dispatched.",
		})
		commandsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corvus_commands_total",
			Help: "Deferred commands executed.",
		})
		errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corvus_wire_errors_total",
			Help: "Error frames sent.",
		})
		commandLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corvus_command_duration_seconds",
			Help:    "Deferred command execution latency.",
			Buckets: prometheus.DefBuckets,
		})
		prometheus.MustRegister(connsActive, packetsTotal, commandsTotal, errorsTotal, commandLatency)

		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux := http.NewServeMux()
		mux.Handle(path, promhttp.Handler())
		httpSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				l.Error("metrics endpoint", "err", err)
			}
		}()
		shutdownFns = append(shutdownFns, func(ctx context.Context) error {
			return httpSrv.Shutdown(ctx)
		})
	}

	if cfg.Tracing.Enabled {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Tracing.OTLPEndpoint)}
		if cfg.Tracing.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}

		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "corvus"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			attribute.String("service.name", serviceName),
		))
		if err != nil {
			return nil, fmt.Errorf("create otel resource: %w", err)
		}

		ratio := cfg.Tracing.SampleRatio
		if ratio <= 0 {
			ratio = 1
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		)
		otel.SetTracerProvider(tp)
		defaultTracer = tp.Tracer("corvus")
		atomic.StoreInt32(&tracingEnabled, 1)
		shutdownFns = append(shutdownFns, tp.Shutdown)
	}

	return func(ctx context.Context) error {
		var first error
		for _, fn := range shutdownFns {
			if err := fn(ctx); err != nil && first == nil {
				first = err
			}
		}
		return first
	}, nil
}

func ConnOpened() {
	if MetricsEnabled() {
		connsActive.Inc()
	}
}

func ConnClosed() {
	if MetricsEnabled() {
		connsActive.Dec()
	}
}

func PacketIn() {
	if MetricsEnabled() {
		packetsTotal.Inc()
	}
}

func CommandDone(d time.Duration) {
	if MetricsEnabled() {
		commandsTotal.Inc()
		commandLatency.Observe(d.Seconds())
	}
}

func ErrorSent() {
	if MetricsEnabled() {
		errorsTotal.Inc()
	}
}
