package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// writeComposeFile writes content to docker-compose.yml in a temp dir and
// returns its path.
func writeComposeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestComposeArgs(t *testing.T) {
	tests := []struct {
		name string
		file string
		sub  []string
		want []string
	}{
		{"default file", "", []string{"up", "-d"}, []string{"compose", "up", "-d"}},
		{"explicit file", "deploy/compose.yml", []string{"down"}, []string{"compose", "-f", "deploy/compose.yml", "down"}},
		{"build no cache", "docker-compose.yml", []string{"build", "--no-cache"},
			[]string{"compose", "-f", "docker-compose.yml", "build", "--no-cache"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Compose{File: tt.file}
			assert.Equal(t, tt.want, c.args(tt.sub...))
		})
	}
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "", lastLine(""))
	assert.Equal(t, "only", lastLine("only\n"))
	assert.Equal(t, "no such service: web", lastLine("pulling...\n  no such service: web  \n\n"))
}

func TestResolveContainerName(t *testing.T) {
	path := writeComposeFile(t, `
services:
  ojitoo-frames:
    build: .
    container_name: frames
    ports:
      - "8000:8000"
  worker:
    image: busybox
`)

	name, err := ResolveContainerName(path, "ojitoo-frames")
	require.NoError(t, err)
	assert.Equal(t, "frames", name)

	// Without container_name the service name is used.
	name, err = ResolveContainerName(path, "worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", name)
}

func TestResolveContainerName_Errors(t *testing.T) {
	valid := writeComposeFile(t, "services:\n  app:\n    image: busybox\n")
	broken := writeComposeFile(t, "services: [unclosed\n")

	tests := []struct {
		name    string
		path    string
		service string
		wantErr string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yml"), "app", "not found"},
		{"malformed yaml", broken, "app", "failed to parse"},
		{"unknown service", valid, "web", `service "web" not defined`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveContainerName(tt.path, tt.service)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, model.ExitConfigInvalid, model.ExitCodeOf(err))
		})
	}
}
