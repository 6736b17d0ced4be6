// Package config loads the runtime tuning surface: retry attempts/delays
// per wrapped operation, per-action timeouts, shelf-monitor poll interval,
// dispatcher requeue behavior, HTTP bind address, log level/format, and
// the Prometheus port. It is intentionally the minimal config surface the
// runtime itself needs, loaded via spf13/viper the way the teacher's CLI
// configures its own config file search path.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RetryConfig is one wrapped operation's retry envelope, mirrored from
// internal/retry.Policy so this package has no dependency on it.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// TimeoutsConfig carries the per-action RPC timeout defaults.
type TimeoutsConfig struct {
	MoveToLocation time.Duration
	MoveShelf      time.Duration
	ReturnShelf    time.Duration
	ReturnHome     time.Duration
	DockShelf      time.Duration
	UndockShelf    time.Duration
}

// DispatcherConfig tunes the Task Dispatcher and per-robot Task Worker.
type DispatcherConfig struct {
	RequeueDelay   time.Duration
	QueueCapacity  int
}

// ShelfMonitorConfig tunes the background shelf-carriage poller.
type ShelfMonitorConfig struct {
	PollInterval time.Duration
}

// ObservabilityConfig tunes logging, tracing, and metrics.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	SampleRate     float64
	MetricsEnabled bool
	PrometheusPort int
}

// HTTPConfig tunes the minimal task submission surface (§6).
type HTTPConfig struct {
	BindAddress string
}

// RuntimeConfig is the full resolved configuration for one process.
type RuntimeConfig struct {
	ShelfMovePolicy  RetryConfig
	NavigationPolicy RetryConfig
	Timeouts         TimeoutsConfig
	Dispatcher       DispatcherConfig
	ShelfMonitor     ShelfMonitorConfig
	Observability    ObservabilityConfig
	HTTP             HTTPConfig
	// Robots lists the robot ids the serve command registers at startup.
	// The robot RPC wire protocol itself is out of scope, so serve backs
	// each id with a scriptable fake client rather than a real transport.
	Robots []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("retry.shelf_move.max_retries", 3)
	v.SetDefault("retry.shelf_move.base_delay", "1s")
	v.SetDefault("retry.shelf_move.max_delay", "30s")
	v.SetDefault("retry.navigation.max_retries", 2)
	v.SetDefault("retry.navigation.base_delay", "1s")
	v.SetDefault("retry.navigation.max_delay", "30s")

	v.SetDefault("timeouts.move_to_location", "120s")
	v.SetDefault("timeouts.move_shelf", "120s")
	v.SetDefault("timeouts.return_shelf", "60s")
	v.SetDefault("timeouts.return_home", "60s")
	v.SetDefault("timeouts.dock_shelf", "120s")
	v.SetDefault("timeouts.undock_shelf", "120s")

	v.SetDefault("dispatcher.requeue_delay", "2s")
	v.SetDefault("dispatcher.queue_capacity", 256)

	v.SetDefault("shelf_monitor.poll_interval", "3s")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.tracing_enabled", true)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.prometheus_port", 9464)

	v.SetDefault("http.bind_address", ":8080")

	v.SetDefault("robots", []string{"robot-1"})
}

// Load resolves a RuntimeConfig from defaults, an optional JSON config
// file named "biopatrol-config" searched in the working directory and
// $HOME (mirroring the teacher's SetConfigName/AddConfigPath idiom), and
// BIOPATROL_-prefixed environment variable overrides.
func Load() (RuntimeConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("biopatrol-config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")

	v.SetEnvPrefix("BIOPATROL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return RuntimeConfig{}, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	return RuntimeConfig{
		ShelfMovePolicy: RetryConfig{
			MaxRetries: v.GetInt("retry.shelf_move.max_retries"),
			BaseDelay:  v.GetDuration("retry.shelf_move.base_delay"),
			MaxDelay:   v.GetDuration("retry.shelf_move.max_delay"),
		},
		NavigationPolicy: RetryConfig{
			MaxRetries: v.GetInt("retry.navigation.max_retries"),
			BaseDelay:  v.GetDuration("retry.navigation.base_delay"),
			MaxDelay:   v.GetDuration("retry.navigation.max_delay"),
		},
		Timeouts: TimeoutsConfig{
			MoveToLocation: v.GetDuration("timeouts.move_to_location"),
			MoveShelf:      v.GetDuration("timeouts.move_shelf"),
			ReturnShelf:    v.GetDuration("timeouts.return_shelf"),
			ReturnHome:     v.GetDuration("timeouts.return_home"),
			DockShelf:      v.GetDuration("timeouts.dock_shelf"),
			UndockShelf:    v.GetDuration("timeouts.undock_shelf"),
		},
		Dispatcher: DispatcherConfig{
			RequeueDelay:  v.GetDuration("dispatcher.requeue_delay"),
			QueueCapacity: v.GetInt("dispatcher.queue_capacity"),
		},
		ShelfMonitor: ShelfMonitorConfig{
			PollInterval: v.GetDuration("shelf_monitor.poll_interval"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       v.GetString("observability.log_level"),
			LogFormat:      v.GetString("observability.log_format"),
			TracingEnabled: v.GetBool("observability.tracing_enabled"),
			SampleRate:     v.GetFloat64("observability.sample_rate"),
			MetricsEnabled: v.GetBool("observability.metrics_enabled"),
			PrometheusPort: v.GetInt("observability.prometheus_port"),
		},
		HTTP: HTTPConfig{
			BindAddress: v.GetString("http.bind_address"),
		},
		Robots: v.GetStringSlice("robots"),
	}, nil
}
