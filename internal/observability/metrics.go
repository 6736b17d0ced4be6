package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records the run metrics a task execution produces:
// how many RPC polls the shelf monitor made, how they performed, and how
// tasks/steps resolved. Mirrors fleet_api's poll_count/poll_success_count/
// poll_rtt_list plus a Go-native task/step/shelf-drop breakdown.
type MetricsCollector struct {
	meter metric.Meter

	fleetPolls       metric.Int64Counter
	fleetPollSuccess metric.Int64Counter
	fleetRTT         metric.Float64Histogram

	tasksCompleted metric.Int64Counter
	stepsExecuted  metric.Int64Counter
	shelfDrops     metric.Int64Counter
	tasksActive    metric.Int64UpDownCounter

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("biopatrol")

	fleetPolls, err := meter.Int64Counter(
		"biopatrol.fleet.poll_count",
		metric.WithDescription("Total number of Fleet RPC polls issued"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fleet_poll_count counter: %w", err)
	}

	fleetPollSuccess, err := meter.Int64Counter(
		"biopatrol.fleet.poll_success_count",
		metric.WithDescription("Total number of Fleet RPC polls that succeeded"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fleet_poll_success_count counter: %w", err)
	}

	fleetRTT, err := meter.Float64Histogram(
		"biopatrol.fleet.poll_rtt_ms",
		metric.WithDescription("Fleet RPC poll round-trip time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fleet_poll_rtt_ms histogram: %w", err)
	}

	tasksCompleted, err := meter.Int64Counter(
		"biopatrol.task.completed_total",
		metric.WithDescription("Total number of tasks that reached a terminal status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create task_completed_total counter: %w", err)
	}

	stepsExecuted, err := meter.Int64Counter(
		"biopatrol.step.executed_total",
		metric.WithDescription("Total number of steps executed, labeled by outcome"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create step_executed_total counter: %w", err)
	}

	shelfDrops, err := meter.Int64Counter(
		"biopatrol.shelf.drop_total",
		metric.WithDescription("Total number of shelf-drop events detected by the shelf monitor"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create shelf_drop_total counter: %w", err)
	}

	tasksActive, err := meter.Int64UpDownCounter(
		"biopatrol.task.active",
		metric.WithDescription("Number of tasks currently in progress"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create task_active gauge: %w", err)
	}

	collector := &MetricsCollector{
		meter:            meter,
		fleetPolls:       fleetPolls,
		fleetPollSuccess: fleetPollSuccess,
		fleetRTT:         fleetRTT,
		tasksCompleted:   tasksCompleted,
		stepsExecuted:    stepsExecuted,
		shelfDrops:       shelfDrops,
		tasksActive:      tasksActive,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics HTTP server.
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordFleetPoll records the outcome and round-trip time of one Fleet RPC poll.
func (m *MetricsCollector) RecordFleetPoll(ctx context.Context, robotID string, ok bool, rtt time.Duration) {
	if m.fleetPolls == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("robot_id", robotID)}
	m.fleetPolls.Add(ctx, 1, metric.WithAttributes(attrs...))
	if ok {
		m.fleetPollSuccess.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	m.fleetRTT.Record(ctx, float64(rtt.Microseconds())/1000.0, metric.WithAttributes(attrs...))
}

// RecordTaskCompleted records a task reaching a terminal status.
func (m *MetricsCollector) RecordTaskCompleted(ctx context.Context, status string) {
	if m.tasksCompleted == nil {
		return
	}
	m.tasksCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordStepExecuted records one step's outcome.
func (m *MetricsCollector) RecordStepExecuted(ctx context.Context, action, status string) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

// RecordShelfDrop records a shelf-drop event for a robot.
func (m *MetricsCollector) RecordShelfDrop(ctx context.Context, robotID string) {
	if m.shelfDrops == nil {
		return
	}
	m.shelfDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("robot_id", robotID)))
}

// IncrementActiveTasks increments the active-task gauge.
func (m *MetricsCollector) IncrementActiveTasks(ctx context.Context) {
	if m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, 1)
}

// DecrementActiveTasks decrements the active-task gauge.
func (m *MetricsCollector) DecrementActiveTasks(ctx context.Context) {
	if m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, -1)
}

// RunMetrics summarizes one task's Fleet RPC activity for task.metadata,
// mirroring fleet_api's get_metrics()/reset_metrics() shape exactly.
type RunMetrics struct {
	PollCount       int     `json:"poll_count"`
	AvgRTTMs        float64 `json:"avg_rtt_ms"`
	PollSuccessRate float64 `json:"poll_success_rate"`
}

// NewRunMetrics computes the summary shape from raw poll samples.
func NewRunMetrics(pollCount, pollSuccessCount int, rttSamples []time.Duration) RunMetrics {
	if pollCount == 0 {
		return RunMetrics{}
	}
	var total time.Duration
	for _, d := range rttSamples {
		total += d
	}
	avg := 0.0
	if len(rttSamples) > 0 {
		avg = float64(total.Microseconds()) / 1000.0 / float64(len(rttSamples))
	}
	return RunMetrics{
		PollCount:       pollCount,
		AvgRTTMs:        avg,
		PollSuccessRate: float64(pollSuccessCount) / float64(pollCount),
	}
}
