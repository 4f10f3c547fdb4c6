package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "askterm.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, time.Second, c.Heartbeat.Interval)
	assert.Equal(t, 5, c.Heartbeat.GraceMultiplier)
	assert.Equal(t, 2, c.Heartbeat.MissThreshold)
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, `
[heartbeat]
interval = "250ms"
miss_threshold = 4

[session]
root = "/var/tmp/askterm"
prefix = "ask"
max_age = "1h"

[spawn]
ttl = "30s"
terminal = ["xterm", "-e"]

[log]
level = "debug"
file = "/var/log/askterm.log"
max_backups = 5

[history]
dsn = "sqlite:///var/lib/askterm/history.db"

[server]
listen = ":9000"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, c.Heartbeat.Interval)
	assert.Equal(t, 4, c.Heartbeat.MissThreshold)
	assert.Equal(t, 5, c.Heartbeat.GraceMultiplier, "unset keys keep defaults")
	assert.Equal(t, "/var/tmp/askterm", c.Session.Root)
	assert.Equal(t, time.Hour, c.Session.MaxAge)
	assert.Equal(t, 30*time.Second, c.Spawn.TTL)
	assert.Equal(t, []string{"xterm", "-e"}, c.Spawn.Terminal)
	assert.Equal(t, 3*time.Second, c.Spawn.Linger)
	assert.Equal(t, "sqlite:///var/lib/askterm/history.db", c.History.DSN)
	assert.Equal(t, ":9000", c.Server.Listen)
	assert.Equal(t, "/api", c.Server.BasePath)

	st := c.Session.Store()
	assert.Equal(t, "/var/tmp/askterm", st.Root)
	assert.Equal(t, "ask", st.Prefix)

	lc := c.Log.Logger()
	assert.Equal(t, "/var/log/askterm.log", lc.File.Path)
	assert.Equal(t, 5, lc.File.MaxBackups)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "[spawn]\nttl = \"30s\"\n")
	t.Setenv("ASKTERM_SPAWN_TTL", "2m")
	t.Setenv("ASKTERM_HEARTBEAT_MISS_THRESHOLD", "7")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, c.Spawn.TTL)
	assert.Equal(t, 7, c.Heartbeat.MissThreshold)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "[heartbeat\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "[heartbeat]\ninterval = \"0s\"\nmiss_threshold = -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat.interval")
	assert.Contains(t, err.Error(), "heartbeat.miss_threshold")

	for _, body := range []string{"[heartbeat]\nmiss_threshold = 0\n", "[heartbeat]\ngrace_multiplier = 0\n"} {
		_, err = Load(writeFile(t, body))
		require.Error(t, err, body)
		assert.Contains(t, err.Error(), "must be at least 1")
	}

	_, err = Load(writeFile(t, "[session]\nprefix = \"a/b\"\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "[log]\nlevel = \"loud\"\n"))
	require.Error(t, err)
}

func TestRunnerLogger(t *testing.T) {
	lc := LogConfig{Level: "info"}
	assert.Equal(t, filepath.Join("/tmp/s", "askterm-runner.log"), lc.RunnerLogger("/tmp/s").File.Path)
	lc.RunnerFile = "/var/log/runner.log"
	assert.Equal(t, "/var/log/runner.log", lc.RunnerLogger("/tmp/s").File.Path)
}

func TestWriteRoundTrip(t *testing.T) {
	want := Default()
	want.Spawn.Terminal = []string{"xterm", "-e"}
	var buf bytes.Buffer
	require.NoError(t, want.Write(&buf))
	assert.Contains(t, buf.String(), "[heartbeat]")
	assert.Contains(t, buf.String(), "[session]")

	got, err := Load(writeFile(t, buf.String()))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
