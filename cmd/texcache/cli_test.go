package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliTestEnv struct {
	baseDir    string
	assetDir   string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	require.NoError(t, os.MkdirAll(homeDir, 0o755))
	t.Setenv("HOME", homeDir)

	assets := filepath.Join(base, "assets")
	require.NoError(t, os.MkdirAll(assets, 0o755))

	env := &cliTestEnv{
		baseDir:    base,
		assetDir:   assets,
		configPath: filepath.Join(base, "config.toml"),
	}
	content := fmt.Sprintf(`[paths]
log_dir = %q
state_dir = %q

[server]
enabled = true
host = "127.0.0.1"
port = 0

[client]
transport = "worker"
base_url = %q

[logging]
format = "json"
level = "warn"
`, filepath.Join(base, "logs"), filepath.Join(base, "state"), "file://"+assets+"/")
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o644))
	return env
}

func (e *cliTestEnv) writeAsset(t *testing.T, name string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.SetNRGBA(0, 0, color.NRGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(e.assetDir, name), buf.Bytes(), 0o644))
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote sample configuration")
	_, err = os.Stat(target)
	require.NoError(t, err)

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "")
	require.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[client]")
	assert.Contains(t, out, "file://"+env.assetDir)
}

func TestDecodeCommandWorker(t *testing.T) {
	env := setupCLITestEnv(t)
	env.writeAsset(t, "tile.png", 6, 4)
	outPNG := filepath.Join(t.TempDir(), "out.png")

	out, _, err := runCLI(t, []string{"decode", "tile.png", "--json", "--out", outPNG}, env.configPath)
	require.NoError(t, err)

	var result decodeResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 6, result.Width)
	assert.Equal(t, 4, result.Height)
	assert.Equal(t, 6*4*4, result.Bytes)
	assert.True(t, strings.HasPrefix(result.Digest, "sha256:"))

	f, err := os.Open(outPNG)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
}

func TestDecodeCommandTable(t *testing.T) {
	env := setupCLITestEnv(t)
	env.writeAsset(t, "tile.png", 2, 2)

	out, _, err := runCLI(t, []string{"decode", "tile.png"}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2x2")
	assert.Contains(t, out, "info.src")
}

func TestDecodeCommandMissingAsset(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"decode", "missing.png"}, env.configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.png")
}

func TestLoadCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	env.writeAsset(t, "a.png", 2, 2)
	env.writeAsset(t, "b.png", 3, 1)

	out, _, err := runCLI(t, []string{"load", "a.png", "b.png", "broken.png", "--json", "--release"}, env.configPath)
	require.NoError(t, err)

	var report loadReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Sources, 3)

	byLocator := map[string]loadRow{}
	for _, row := range report.Sources {
		byLocator[row.Locator] = row
	}
	assert.Equal(t, "loaded", byLocator["a.png"].State)
	assert.True(t, byLocator["a.png"].Uploaded)
	assert.Equal(t, int64(2*2*4), byLocator["a.png"].Bytes)
	assert.Equal(t, 3, byLocator["b.png"].Width)
	assert.Equal(t, "error", byLocator["broken.png"].State)
	assert.NotEmpty(t, byLocator["broken.png"].Error)

	assert.Equal(t, uint64(3), report.Cache.LoadsStarted)
	assert.Equal(t, uint64(1), report.Cache.LoadErrors)
	assert.Equal(t, int64(0), report.Cache.UsedMemoryBytes)
	assert.Equal(t, uint64(3), report.Cache.Evictions)
}

func TestLoadCommandTable(t *testing.T) {
	env := setupCLITestEnv(t)
	env.writeAsset(t, "a.png", 2, 2)

	out, _, err := runCLI(t, []string{"load", "a.png"}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "a.png")
	assert.Contains(t, out, "== Cache ==")
	assert.Contains(t, out, "1 started")
}

func TestPreflightCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "State directory")
	assert.Contains(t, out, "Asset base URL")
	assert.NotContains(t, out, "[ERROR]")
}

func TestStatusCommandWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", "--json"}, env.configPath)
	require.NoError(t, err)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.PID)
	require.Len(t, report.Servers, 2)
	assert.True(t, report.Servers[0].Enabled)
	assert.False(t, report.Servers[0].Reachable)
	assert.False(t, report.Servers[1].Enabled)
}

func TestTransportFlagsDefaults(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := newCommandContext(&env.configPath)
	cfg, err := ctx.ensureConfig()
	require.NoError(t, err)

	stream := (&transportFlags{transport: "stream"}).apply(cfg)
	assert.Equal(t, "127.0.0.1:0", stream.Client.Address)

	ws := (&transportFlags{transport: "WebSocket"}).apply(cfg)
	assert.Equal(t, "websocket", ws.Client.Transport)
	assert.Equal(t, "ws://127.0.0.1:7492/decode", ws.Client.Address)

	explicit := (&transportFlags{transport: "stream", address: "/tmp/x.sock"}).apply(cfg)
	assert.Equal(t, "/tmp/x.sock", explicit.Client.Address)
	assert.Equal(t, "worker", cfg.Client.Transport, "apply must not mutate the loaded config")
}
