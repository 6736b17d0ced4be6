// Package runtime wires the Fleet Gateway, Retry Policy, Task Engine,
// Dispatcher, Scan Recorder, bio-sensor client, and observability stack
// into one process, mirroring the teacher's internal/di.Container: a
// single struct built from a Config, with an explicit Cleanup.
package runtime

import (
	"context"
	"fmt"
	"os"

	"biopatrol/internal/biosensor"
	"biopatrol/internal/config"
	"biopatrol/internal/dispatcher"
	"biopatrol/internal/engine"
	"biopatrol/internal/fleet"
	"biopatrol/internal/logging"
	"biopatrol/internal/notifier"
	"biopatrol/internal/observability"
	"biopatrol/internal/retry"
	"biopatrol/internal/scanstore"
)

// Container holds every long-lived dependency for one Bio Patrol process.
type Container struct {
	Config config.RuntimeConfig

	Logger  logging.Logger
	Tracer  *observability.TracerProvider
	Metrics *observability.MetricsCollector

	Fleet      *fleet.Gateway
	Scans      scanstore.Store
	Bio        *biosensor.Client
	Notifier   notifier.Notifier
	Center     *notifier.Center
	Dispatcher *dispatcher.Dispatcher
}

// Build resolves configuration and constructs every dependency, but does
// not start the dispatcher or register any robots — callers add robots
// with RegisterRobot and then call Start.
func Build() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("runtime: load config: %w", err)
	}

	baseLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	logger := logging.FromObservabilityWithComponent(baseLogger, "biopatrol")

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		SampleRate:  cfg.Observability.SampleRate,
		ServiceName: "biopatrol",
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: build tracer: %w", err)
	}

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        cfg.Observability.MetricsEnabled,
		PrometheusPort: cfg.Observability.PrometheusPort,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: build metrics collector: %w", err)
	}

	gw := fleet.NewGateway(logger, tracer, metrics)
	scans := scanstore.NewMemoryStore()
	bio := biosensor.New(biosensor.NoSource{}, scans, biosensor.DefaultConfig(), logger)

	center := notifier.NewCenter(notifier.WithHistorySize(256))
	center.RegisterChannel(notifier.NewLogChannel("log", os.Stdout), notifier.ChannelConfig{
		Name: "log", Enabled: true, MinPriority: notifier.PriorityLow, IsDefault: true,
	})
	notify := notifier.New(center, logger)

	disp := dispatcher.New(logger, dispatcher.WithQueueCapacity(cfg.Dispatcher.QueueCapacity))

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Tracer:     tracer,
		Metrics:    metrics,
		Fleet:      gw,
		Scans:      scans,
		Bio:        bio,
		Notifier:   notify,
		Center:     center,
		Dispatcher: disp,
	}, nil
}

// RegisterRobot connects a robot's RPC client to the Fleet Gateway and
// registers it with the Dispatcher, building it a dedicated Task Engine.
func (c *Container) RegisterRobot(robotID string, client fleet.RobotClient) {
	c.Fleet.Register(robotID, client)
	c.Dispatcher.RegisterRobot(robotID, func() dispatcher.Engine {
		return engine.New(robotID, c.Fleet, c.Bio, c.Scans, c.Notifier, c.Logger,
			engine.WithRetryPolicies(
				retry.Policy(c.Config.ShelfMovePolicy),
				retry.Policy(c.Config.NavigationPolicy),
			),
			engine.WithTimeouts(engine.Timeouts{
				MoveToLocation: c.Config.Timeouts.MoveToLocation,
				MoveShelf:      c.Config.Timeouts.MoveShelf,
				ReturnShelf:    c.Config.Timeouts.ReturnShelf,
				ReturnHome:     c.Config.Timeouts.ReturnHome,
			}),
			engine.WithPollInterval(c.Config.ShelfMonitor.PollInterval),
			engine.WithTracer(c.Tracer),
		)
	})
}

// Start launches the dispatcher's background loop and every registered
// robot's Task Worker.
func (c *Container) Start(ctx context.Context) {
	c.Dispatcher.Start(ctx)
}

// Cleanup stops the dispatcher and drains in-flight tasks.
func (c *Container) Cleanup() error {
	c.Dispatcher.Stop()
	return nil
}
