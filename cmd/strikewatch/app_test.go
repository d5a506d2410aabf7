package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rewired-gh/strikewatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	content := `
service:
  poll_interval: 30s
  cooldown: 0s
source:
  type: simulated
  simulated:
    seed: 7
profiles:
  default:
    threshold: 1
storage:
  db_path: ` + filepath.Join(dir, "strikewatch.db") + `
reporters:
  console:
    enabled: false
  log_file:
    dir: ` + filepath.Join(dir, "logs") + `
  daily_report:
    dir: ` + filepath.Join(dir, "reports") + `
logging:
  level: error
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_RunOnceWritesLogsAndWarmsOnRestart(t *testing.T) {
	cfg := testConfig(t)

	a, err := newApp(cfg)
	require.NoError(t, err)
	summary, err := a.runOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Equal(t, len(cfg.Instruments), summary.Scored)
	assert.Zero(t, summary.Failed)

	calls, err := os.ReadFile(filepath.Join(cfg.Reporters.LogFile.Dir, cfg.Reporters.LogFile.CallsFile))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(calls)), "\n"), summary.Scored)

	reports, err := os.ReadDir(cfg.Reporters.DailyReport.Dir)
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	again, err := newApp(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, again.Close()) }()
	assert.Equal(t, summary.Wins+summary.Losses, again.tracker.Len())
}

func TestApp_StartupRotatesToMaxRecords(t *testing.T) {
	cfg := testConfig(t)

	a, err := newApp(cfg)
	require.NoError(t, err)
	_, err = a.runOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	cfg.Storage.MaxRecords = 1
	again, err := newApp(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, again.Close()) }()

	n, err := again.store.CountCandidates()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApp_CloseWithRedisReporter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reporters.Redis.Enabled = true
	cfg.Reporters.Redis.Addr = "127.0.0.1:1"

	a, err := newApp(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, a.reporter.Len(), "log file and redis")
	assert.NoError(t, a.Close(), "the redis client is closed exactly once")
}

func TestApp_UpstoxWithoutTokenFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Type = "upstox"
	cfg.Source.Upstox.AccessToken = ""

	_, err := newApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstox")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "strikewatch dev\n", out.String())
}
