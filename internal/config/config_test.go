package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// writeFile is a test helper that writes content to name inside dir and
// returns the full path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestDefault_Valid verifies the built-in defaults pass validation and
// carry the documented deployment constants.
func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ojitoo-frames:latest", cfg.ImageRef())
	assert.Equal(t, "ojitoo-frames", cfg.ContainerName)
	assert.Equal(t, 8000, cfg.ContainerPort)
	assert.Equal(t, 8000, cfg.HostPort)
	assert.Equal(t, []string{"nvidia-smi"}, cfg.GPUCommand)
	assert.Equal(t, 50, cfg.Redeploy.SuccessLogLines)
	assert.Equal(t, 100, cfg.Redeploy.FailureLogLines)
}

func TestImageRef_NoTag(t *testing.T) {
	cfg := Default()
	cfg.Tag = ""
	assert.Equal(t, "ojitoo-frames", cfg.ImageRef())
}

// TestLoad_MissingImplicitFile verifies that the implicit ./ojitoo.yaml
// lookup falls back to defaults when no file exists.
func TestLoad_MissingImplicitFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFileName), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_MissingExplicitFile verifies that --config pointing to a
// nonexistent file is an error.
func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true)
	require.Error(t, err)
	assert.Equal(t, model.ExitConfigInvalid, model.ExitCodeOf(err))
}

// TestLoad_Overrides verifies that file values override defaults while
// unspecified keys keep their defaults.
func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, DefaultFileName, `
image: frames
hostPort: 18000
gpuCommand: ["nvidia-smi", "-L"]
compose:
  service: api
redeploy:
  wait: 3s
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "frames:latest", cfg.ImageRef())
	assert.Equal(t, 18000, cfg.HostPort)
	assert.Equal(t, 8000, cfg.ContainerPort, "unset keys keep defaults")
	assert.Equal(t, []string{"nvidia-smi", "-L"}, cfg.GPUCommand)
	assert.Equal(t, "api", cfg.Compose.Service)
	assert.Equal(t, "docker-compose.yml", cfg.Compose.File)
	assert.Equal(t, 3*time.Second, cfg.Redeploy.Wait)
	assert.Equal(t, 100, cfg.Redeploy.FailureLogLines)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), DefaultFileName, "")
	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_Invalid covers parse errors, unknown keys and failed validation.
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "image: [unterminated"},
		{"unknown key", "hostport: 9000"},
		{"bad port", "hostPort: 70000"},
		{"bad container name", "containerName: \"bad name\""},
		{"relative mount", "modelMount: model"},
		{"negative wait", "redeploy:\n  wait: -1s"},
		{"empty gpu command", "gpuCommand: []"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), DefaultFileName, tt.content)
			_, err := Load(path, true)
			require.Error(t, err)
			assert.Equal(t, model.ExitConfigInvalid, model.ExitCodeOf(err))
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/srv/app/model", Resolve("/srv/app", "model"))
	assert.Equal(t, "/data/model", Resolve("/srv/app", "/data/model"))
	assert.Equal(t, "", Resolve("/srv/app", ""))
}

// TestReadEnvFile verifies dotenv parsing into sorted KEY=VALUE pairs.
func TestReadEnvFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), ".env", `# backend
OJITOO_BASE_URL=https://api.example.com
AUTHORIZATION_TOKEN="secret token"
ALERT_COOLDOWN_SECONDS=30
`)

	env, err := ReadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALERT_COOLDOWN_SECONDS=30",
		"AUTHORIZATION_TOKEN=secret token",
		"OJITOO_BASE_URL=https://api.example.com",
	}, env)
}

// TestReadEnvFile_Missing verifies the explicit exit-1 error.
func TestReadEnvFile_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	_, err := ReadEnvFile(path)
	require.Error(t, err)
	assert.Equal(t, model.ExitGeneralError, model.ExitCodeOf(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestEnvFileExists(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "A=1\n")
	assert.True(t, EnvFileExists(path))
	assert.False(t, EnvFileExists(filepath.Join(dir, "missing.env")))
	assert.False(t, EnvFileExists(dir), "a directory is not an env file")
}
