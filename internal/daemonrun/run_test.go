package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texcache/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Server.Port = 0
	cfg.Logging.Format = "json"
	return &cfg
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg, Options{}) }()

	require.Eventually(t, func() bool { return ReadPIDFile(cfg) == os.Getpid() }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, ReadPIDFile(cfg))

	pointer, err := os.Readlink(filepath.Join(cfg.Paths.LogDir, "texcached.log"))
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(pointer), "texcached-")
}

func TestRunFailsPreflight(t *testing.T) {
	cfg := testConfig(t)
	cfg.Client.BaseURL = "ftp://example.com/"

	err := Run(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preflight")
}

func TestRunRequiresConfig(t *testing.T) {
	assert.Error(t, Run(context.Background(), nil, Options{}))
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "texcached-1.log")
	second := filepath.Join(dir, "texcached-2.log")
	require.NoError(t, os.WriteFile(first, nil, 0o644))
	require.NoError(t, os.WriteFile(second, nil, 0o644))

	require.NoError(t, ensureCurrentLogPointer(dir, first))
	require.NoError(t, ensureCurrentLogPointer(dir, second))
	target, err := os.Readlink(filepath.Join(dir, "texcached.log"))
	require.NoError(t, err)
	assert.Equal(t, second, target)
}

func TestRunDiagnosticWritesDebugLog(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg, Options{Diagnostic: true}) }()

	require.Eventually(t, func() bool { return ReadPIDFile(cfg) == os.Getpid() }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	matches, err := filepath.Glob(filepath.Join(cfg.Paths.LogDir, "debug", "texcached-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "diagnostic_mode_enabled")
	assert.Contains(t, string(content), "config_snapshot")
}
