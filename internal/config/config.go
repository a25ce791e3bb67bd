package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jalho/rad/internal/env"
	"github.com/jalho/rad/internal/health"
	"github.com/jalho/rad/internal/locator"
	"github.com/jalho/rad/internal/logger"
	"github.com/jalho/rad/internal/metrics"
	"github.com/jalho/rad/internal/output"
	"github.com/jalho/rad/internal/process"
	"github.com/jalho/rad/internal/supervisor"
)

// EnvPrefix prefixes environment overrides, e.g. RAD_RCON_PORT.
const EnvPrefix = "RAD"

// ErrMissingPassword means the remote-console password variable is unset.
// There is nothing to supervise without it.
var ErrMissingPassword = errors.New("remote console password is not set")

// Config represents the whole configuration, usually from a TOML file.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	RCON       RCONConfig        `mapstructure:"rcon"`
	Probe      ProbeConfig       `mapstructure:"probe"`
	Supervisor supervisor.Config `mapstructure:"supervisor"`
	Locator    LocatorConfig     `mapstructure:"locator"`
	Output     OutputConfig      `mapstructure:"output"`
	Log        logger.Config     `mapstructure:"log"`
	History    HistoryConfig     `mapstructure:"history"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Admin      AdminConfig       `mapstructure:"admin"`
}

type ServerConfig struct {
	Name        string   `mapstructure:"name"`
	Executable  string   `mapstructure:"executable"`
	Args        []string `mapstructure:"args"`
	WorkDir     string   `mapstructure:"work_dir"`
	Env         []string `mapstructure:"env"`
	EnvFiles    []string `mapstructure:"env_files"`
	ProcessName string   `mapstructure:"process_name"`
	PIDFile     string   `mapstructure:"pid_file"`
	Port        int      `mapstructure:"port"`
}

type RCONConfig struct {
	Port        int    `mapstructure:"port"`
	Web         bool   `mapstructure:"web"`
	PasswordEnv string `mapstructure:"password_env"`
}

type ProbeConfig struct {
	Kind    string        `mapstructure:"kind"`
	Address string        `mapstructure:"address"`
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LocatorConfig struct {
	Kind string `mapstructure:"kind"`
}

type OutputConfig struct {
	File        output.FileConfig `mapstructure:",squash"`
	Buffer      int               `mapstructure:"buffer"`
	RecentLines int               `mapstructure:"recent_lines"`
	// Log forwards every output line to the supervisor log at debug level.
	Log bool `mapstructure:"log"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

type MetricsConfig struct {
	Sampler metrics.SamplerConfig `mapstructure:"sampler"`
}

type AdminConfig struct {
	// Listen enables the admin API when non-empty, e.g. 127.0.0.1:28080.
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers every key with its default so environment
// overrides apply even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "")
	v.SetDefault("server.executable", "./RustDedicated")
	v.SetDefault("server.args", []string{})
	v.SetDefault("server.work_dir", "")
	v.SetDefault("server.env", []string{})
	v.SetDefault("server.env_files", []string{})
	v.SetDefault("server.process_name", "RustDedicated")
	v.SetDefault("server.pid_file", "")
	v.SetDefault("server.port", 28015)

	v.SetDefault("rcon.port", 28016)
	v.SetDefault("rcon.web", true)
	v.SetDefault("rcon.password_env", "RCON_PASSWORD")

	v.SetDefault("probe.kind", "tcp")
	v.SetDefault("probe.address", "")
	v.SetDefault("probe.command", "")
	v.SetDefault("probe.timeout", health.DefaultTimeout)

	v.SetDefault("supervisor.grace_period", supervisor.DefaultGracePeriod)
	v.SetDefault("supervisor.poll_interval", supervisor.DefaultPollInterval)
	v.SetDefault("supervisor.pid_timeout", supervisor.DefaultPIDTimeout)
	v.SetDefault("supervisor.restart_delay", time.Duration(0))
	v.SetDefault("supervisor.history_timeout", supervisor.DefaultHistoryTimeout)
	v.SetDefault("supervisor.shutdown_timeout", supervisor.DefaultShutdownTimeout)

	v.SetDefault("locator.kind", "auto")

	v.SetDefault("output.path", "rds.log")
	v.SetDefault("output.max_size_mb", output.DefaultMaxSizeMB)
	v.SetDefault("output.max_backups", output.DefaultMaxBackups)
	v.SetDefault("output.max_age_days", output.DefaultMaxAgeDays)
	v.SetDefault("output.compress", false)
	v.SetDefault("output.buffer", supervisor.DefaultOutputBuffer)
	v.SetDefault("output.recent_lines", 200)
	v.SetDefault("output.log", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("history.dsns", []string{})

	v.SetDefault("metrics.sampler.enabled", true)
	v.SetDefault("metrics.sampler.interval", 5*time.Second)
	v.SetDefault("metrics.sampler.max_history", 100)

	v.SetDefault("admin.listen", "")
}

// NewViper returns a viper instance with defaults and RAD_ environment
// overrides configured.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (TOML) when non-empty and decodes the result.
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith is Load on a caller-prepared viper, e.g. with bound flags.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Executable) == "" {
		errs = append(errs, errors.New("server.executable is required"))
	}
	if strings.TrimSpace(c.Server.ProcessName) == "" {
		errs = append(errs, errors.New("server.process_name is required"))
	}
	if !validPort(c.Server.Port) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !validPort(c.RCON.Port) {
		errs = append(errs, fmt.Errorf("rcon.port %d out of range", c.RCON.Port))
	}
	if strings.TrimSpace(c.RCON.PasswordEnv) == "" {
		errs = append(errs, errors.New("rcon.password_env is required"))
	}
	if _, err := c.Checker(); err != nil {
		errs = append(errs, fmt.Errorf("probe: %w", err))
	}
	if c.Probe.Timeout < 0 {
		errs = append(errs, errors.New("probe.timeout must not be negative"))
	}
	if _, err := locator.New(c.Locator.Kind); err != nil {
		errs = append(errs, fmt.Errorf("locator: %w", err))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	for name, d := range map[string]time.Duration{
		"grace_period":     c.Supervisor.GracePeriod,
		"poll_interval":    c.Supervisor.PollInterval,
		"pid_timeout":      c.Supervisor.PIDTimeout,
		"restart_delay":    c.Supervisor.RestartDelay,
		"history_timeout":  c.Supervisor.HistoryTimeout,
		"shutdown_timeout": c.Supervisor.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("supervisor.%s must not be negative", name))
		}
	}
	if c.Admin.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Listen); err != nil {
			errs = append(errs, fmt.Errorf("admin.listen: %w", err))
		}
	}
	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// ProbeAddress is the health endpoint: probe.address, or the loopback
// remote-console port.
func (c *Config) ProbeAddress() string {
	if c.Probe.Address != "" {
		return c.Probe.Address
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.RCON.Port))
}

// Checker builds the configured health checker.
func (c *Config) Checker() (health.Checker, error) {
	return health.New(c.Probe.Kind, c.ProbeAddress(), c.Probe.Command, c.Probe.Timeout)
}

// NewLocator builds the configured process locator.
func (c *Config) NewLocator() (locator.Locator, error) {
	return locator.New(c.Locator.Kind)
}

// DefaultArgs is the launch argument list used when server.args is empty.
// The password is referenced as ${passwordEnv} and expanded at resolve time.
func DefaultArgs(serverPort, rconPort int, web bool, passwordEnv string) []string {
	webFlag := "0"
	if web {
		webFlag = "1"
	}
	return []string{
		"-batchmode",
		"-nographics",
		"+server.port", strconv.Itoa(serverPort),
		"+rcon.port", strconv.Itoa(rconPort),
		"+rcon.web", webFlag,
		"+rcon.password", "${" + passwordEnv + "}",
	}
}

// Resolve reads the password, composes the child environment and returns
// the supervisor configuration ready to run. ErrMissingPassword is returned
// when the password variable is unset or empty.
func (c *Config) Resolve(e *env.Env) (supervisor.Config, error) {
	if e == nil {
		e = env.New()
	}
	for _, p := range c.Server.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return supervisor.Config{}, fmt.Errorf("env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			if i := strings.IndexByte(kv, '='); i > 0 {
				e.Set(kv[:i], kv[i+1:])
			}
		}
	}
	if pw, ok := e.Lookup(c.RCON.PasswordEnv); !ok || pw == "" {
		return supervisor.Config{}, fmt.Errorf("%w: environment variable %s", ErrMissingPassword, c.RCON.PasswordEnv)
	}

	args := c.Server.Args
	if len(args) == 0 {
		args = DefaultArgs(c.Server.Port, c.RCON.Port, c.RCON.Web, c.RCON.PasswordEnv)
	}
	sc := c.Supervisor
	sc.ProcessName = c.Server.ProcessName
	sc.Spec = process.Spec{
		Name:       c.Server.Name,
		Executable: c.Server.Executable,
		Args:       e.ExpandArgs(args, c.Server.Env),
		WorkDir:    c.Server.WorkDir,
		Env:        e.Merge(c.Server.Env),
		PIDFile:    c.Server.PIDFile,
	}
	if err := sc.Validate(); err != nil {
		return supervisor.Config{}, err
	}
	return sc, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
