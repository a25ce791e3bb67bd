package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/jalho/rad/internal/process"
)

// Defaults applied by Config.withDefaults to zero fields. DefaultGracePeriod
// is supplied by the configuration layer instead, since a zero grace period
// is a valid setting.
const (
	DefaultGracePeriod     = 60 * time.Second
	DefaultPollInterval    = time.Second
	DefaultPIDTimeout      = 5 * time.Second
	DefaultHistoryTimeout  = 2 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultOutputBuffer    = 1024
)

// Config controls one supervised server.
type Config struct {
	// Spec is the launch description; Env and ${VAR} expansion of Args
	// are expected to be resolved already.
	Spec process.Spec `mapstructure:"-"`
	// ProcessName is the executable name used for kill-by-name lookups.
	// Defaults to Spec.DisplayName().
	ProcessName string `mapstructure:"process_name"`

	// GracePeriod suppresses health checks after each spawn. Zero probes
	// from the first poll.
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PIDTimeout bounds the wait for the owner goroutine to report the PID.
	PIDTimeout time.Duration `mapstructure:"pid_timeout"`
	// RestartDelay is slept between Terminated and the next spawn.
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	// HistoryTimeout bounds each history sink send.
	HistoryTimeout time.Duration `mapstructure:"history_timeout"`
	// ShutdownTimeout bounds the wait for killed children to be reaped when
	// Run's context is cancelled.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c Config) withDefaults() Config {
	if c.ProcessName == "" {
		c.ProcessName = c.Spec.DisplayName()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PIDTimeout <= 0 {
		c.PIDTimeout = DefaultPIDTimeout
	}
	if c.HistoryTimeout <= 0 {
		c.HistoryTimeout = DefaultHistoryTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.GracePeriod < 0 {
		c.GracePeriod = 0
	}
	if c.RestartDelay < 0 {
		c.RestartDelay = 0
	}
	return c
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if err := c.Spec.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("spec: %w", err))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, errors.New("grace_period must not be negative"))
	}
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("poll_interval must not be negative"))
	}
	if c.RestartDelay < 0 {
		errs = append(errs, errors.New("restart_delay must not be negative"))
	}
	return errors.Join(errs...)
}
