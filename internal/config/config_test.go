package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jalho/rad/internal/env"
	"github.com/jalho/rad/internal/health"
	"github.com/jalho/rad/internal/supervisor"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assert.Equal(t, "./RustDedicated", cfg.Server.Executable)
	assert.Equal(t, "RustDedicated", cfg.Server.ProcessName)
	assert.Equal(t, 28015, cfg.Server.Port)
	assert.Equal(t, 28016, cfg.RCON.Port)
	assert.Equal(t, "RCON_PASSWORD", cfg.RCON.PasswordEnv)
	assert.Equal(t, "tcp", cfg.Probe.Kind)
	assert.Equal(t, health.DefaultTimeout, cfg.Probe.Timeout)
	assert.Equal(t, supervisor.DefaultGracePeriod, cfg.Supervisor.GracePeriod)
	assert.Equal(t, supervisor.DefaultPollInterval, cfg.Supervisor.PollInterval)
	assert.Equal(t, "rds.log", cfg.Output.File.Path)
	assert.Equal(t, "auto", cfg.Locator.Kind)
	assert.Empty(t, cfg.Admin.Listen)
	assert.Equal(t, "127.0.0.1:28016", cfg.ProbeAddress())
	require.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "rad.toml", `
[server]
name = "main"
executable = "/srv/rust/RustDedicated"
work_dir = "/srv/rust"
args = ["-batchmode", "+rcon.password", "${RCON_PASSWORD}"]
env = ["FOO=bar"]

[rcon]
port = 29016

[probe]
timeout = "250ms"

[supervisor]
grace_period = "90s"
poll_interval = "2s"
restart_delay = "3s"

[output]
path = "/var/log/rds.log"
max_backups = 9
recent_lines = 50

[log]
level = "debug"
format = "json"

[history]
dsns = ["sqlite:///tmp/rad.db"]

[metrics.sampler]
enabled = false

[admin]
listen = "127.0.0.1:28080"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assert.Equal(t, "main", cfg.Server.Name)
	assert.Equal(t, "/srv/rust/RustDedicated", cfg.Server.Executable)
	assert.Equal(t, []string{"-batchmode", "+rcon.password", "${RCON_PASSWORD}"}, cfg.Server.Args)
	assert.Equal(t, 29016, cfg.RCON.Port)
	assert.Equal(t, "127.0.0.1:29016", cfg.ProbeAddress())
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Supervisor.GracePeriod)
	assert.Equal(t, 2*time.Second, cfg.Supervisor.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Supervisor.RestartDelay)
	assert.Equal(t, "/var/log/rds.log", cfg.Output.File.Path)
	assert.Equal(t, 9, cfg.Output.File.MaxBackups)
	assert.Equal(t, 50, cfg.Output.RecentLines)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"sqlite:///tmp/rad.db"}, cfg.History.DSNs)
	assert.False(t, cfg.Metrics.Sampler.Enabled)
	assert.Equal(t, "127.0.0.1:28080", cfg.Admin.Listen)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadInvalidTOML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.toml", "[server\nexecutable = ")
	_, err := Load(p)
	require.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "rad.toml", "[rcon]\nport = 29016\n")
	t.Setenv("RAD_RCON_PORT", "30016")
	t.Setenv("RAD_SUPERVISOR_GRACE_PERIOD", "5s")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assert.Equal(t, 30016, cfg.RCON.Port)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.GracePeriod)
}

func TestZeroGracePeriodIsKept(t *testing.T) {
	p := writeFile(t, t.TempDir(), "rad.toml", "[supervisor]\ngrace_period = \"0s\"\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Zero(t, cfg.Supervisor.GracePeriod)

	e := env.New()
	e.FromList([]string{"RCON_PASSWORD=hunter2"})
	sc, err := cfg.Resolve(e)
	require.NoError(t, err)
	assert.Zero(t, sc.GracePeriod)
	assert.Zero(t, supervisor.New(sc, nil).Config().GracePeriod)
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Server.Executable = " "
	cfg.RCON.Port = 70000
	cfg.Probe.Kind = "udp"
	cfg.Locator.Kind = "magic"
	cfg.Log.Level = "loud"
	cfg.Supervisor.PollInterval = -time.Second
	cfg.Admin.Listen = "nocolon"

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"server.executable",
		"rcon.port 70000",
		"probe:",
		"locator:",
		"log:",
		"poll_interval",
		"admin.listen",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateCommandProbe(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Probe.Kind = "command"
	require.Error(t, cfg.Validate())
	cfg.Probe.Command = "true"
	require.NoError(t, cfg.Validate())
	c, err := cfg.Checker()
	require.NoError(t, err)
	assert.Equal(t, "cmd:true", c.Describe())
}

func TestResolveMissingPassword(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	e := env.New()
	e.FromList([]string{"PATH=/usr/bin"})
	_, err = cfg.Resolve(e)
	if !errors.Is(err, ErrMissingPassword) {
		t.Fatalf("expected ErrMissingPassword, got %v", err)
	}
	assert.Contains(t, err.Error(), "RCON_PASSWORD")

	e.Set("RCON_PASSWORD", "")
	_, err = cfg.Resolve(e)
	require.ErrorIs(t, err, ErrMissingPassword)
}

func TestResolveDefaultArgs(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	e := env.New()
	e.FromList([]string{"RCON_PASSWORD=hunter2"})

	sc, err := cfg.Resolve(e)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-batchmode", "-nographics",
		"+server.port", "28015",
		"+rcon.port", "28016",
		"+rcon.web", "1",
		"+rcon.password", "hunter2",
	}, sc.Spec.Args)
	assert.Equal(t, "RustDedicated", sc.ProcessName)
	assert.Equal(t, "./RustDedicated", sc.Spec.Executable)
	assert.True(t, slices.Contains(sc.Spec.Env, "RCON_PASSWORD=hunter2"))
}

func TestResolveCustomPasswordVariable(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.RCON.PasswordEnv = "RUST_PW"
	cfg.RCON.Web = false
	e := env.New()
	e.FromList([]string{"RUST_PW=s3cret"})

	sc, err := cfg.Resolve(e)
	require.NoError(t, err)
	joined := strings.Join(sc.Spec.Args, " ")
	assert.Contains(t, joined, "+rcon.password s3cret")
	assert.Contains(t, joined, "+rcon.web 0")
}

func TestResolveEnvFilesAndServerEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "secrets.env", "# comment\nRCON_PASSWORD=fromfile\n\nLEVEL=Procedural Map\n")
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Server.EnvFiles = []string{envFile}
	cfg.Server.Env = []string{"MAP=${LEVEL}"}
	cfg.Server.Args = []string{"+server.level", "${MAP}", "+rcon.password", "${RCON_PASSWORD}"}
	e := env.New()
	e.FromList(nil)

	sc, err := cfg.Resolve(e)
	require.NoError(t, err)
	assert.Equal(t, []string{"+server.level", "Procedural Map", "+rcon.password", "fromfile"}, sc.Spec.Args)
	assert.Contains(t, sc.Spec.Env, "MAP=Procedural Map")
}

func TestResolveMissingEnvFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Server.EnvFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	_, err = cfg.Resolve(env.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.env")
}

func TestLoadEnvFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.env", "A=1\n# skipped\n B = two \nnot-a-pair\n")
	got, err := LoadEnvFile(p)
	require.NoError(t, err)
	slices.Sort(got)
	assert.Equal(t, []string{"A=1", "B=two"}, got)
}
