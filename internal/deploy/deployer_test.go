package deploy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojitoo/ojitoo-frames/internal/config"
	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// deployFixture wires a Deployer to fakes sharing one recorder.
type deployFixture struct {
	rec       *recorder
	engine    *fakeEngine
	privilege *fakePrivilege
	installer *fakeInstaller
	gpu       *fakeGPU
	ports     *fakePorts
	out       *bytes.Buffer
	deployer  *Deployer
}

func newDeployFixture(t *testing.T) *deployFixture {
	t.Helper()
	rec := &recorder{}
	f := &deployFixture{
		rec:       rec,
		engine:    newFakeEngine(rec),
		privilege: &fakePrivilege{rec: rec, root: true},
		installer: &fakeInstaller{rec: rec},
		gpu:       &fakeGPU{rec: rec, available: true},
		ports:     &fakePorts{rec: rec},
		out:       &bytes.Buffer{},
	}
	f.deployer = &Deployer{
		Config:    config.Default(),
		BaseDir:   "/srv/ojitoo",
		Privilege: f.privilege,
		Installer: f.installer,
		GPU:       f.gpu,
		Ports:     f.ports,
		Connect: func() (Engine, error) {
			rec.add("connect")
			return f.engine, nil
		},
		MkdirAll: recordingMkdir(rec),
		Now:      func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC) },
		Out:      f.out,
	}
	return f
}

// TestDeploy_StepOrder verifies the full happy path runs every step once,
// in the documented order.
func TestDeploy_StepOrder(t *testing.T) {
	f := newDeployFixture(t)

	report, err := f.deployer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"privilege",
		"install",
		"connect",
		"ping",
		"gpu",
		"build ojitoo-frames:latest",
		"remove ojitoo-frames",
		"mkdir /srv/ojitoo/model",
		"port 8000",
		"run ojitoo-frames",
	}, f.rec.calls)

	assert.Equal(t, "ojitoo-frames", report.ContainerName)
	assert.Equal(t, 8000, report.HostPort)
	assert.False(t, report.ReplacedPrevious)
	assert.Contains(t, f.out.String(), "Deployment complete! Service running at http://localhost:8000")
}

// TestDeploy_NotRoot verifies a non-root deploy fails with exit 1 and the
// privilege message and touches nothing else.
func TestDeploy_NotRoot(t *testing.T) {
	f := newDeployFixture(t)
	f.privilege.root = false

	_, err := f.deployer.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, model.ExitGeneralError, model.ExitCodeOf(err))
	assert.Equal(t, "Please run as root (use sudo)", err.Error())
	assert.Equal(t, []string{"privilege"}, f.rec.calls, "no engine, installer or filesystem calls")
}

// TestDeploy_MissingEnvFile verifies the env-aware variant fails with
// exit 1 before installing or building.
func TestDeploy_MissingEnvFile(t *testing.T) {
	f := newDeployFixture(t)
	f.deployer.BaseDir = t.TempDir()
	f.deployer.Options.EnvFile = ".env"

	_, err := f.deployer.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, model.ExitGeneralError, model.ExitCodeOf(err))
	assert.Equal(t, "Environment file .env not found", err.Error())
	assert.Equal(t, []string{"privilege"}, f.rec.calls)
	assert.Empty(t, f.engine.builds)
}

// TestDeploy_EnvFilePassedToContainer verifies the env file's variables
// reach the run request and are recorded in the labels.
func TestDeploy_EnvFilePassedToContainer(t *testing.T) {
	f := newDeployFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("OJITOO_BASE_URL=https://api.example.com\nAUTHORIZATION_TOKEN=secret\n"), 0o600))
	f.deployer.BaseDir = dir
	f.deployer.Options.EnvFile = ".env"

	_, err := f.deployer.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.engine.runs, 1)
	spec := f.engine.runs[0]
	assert.Equal(t, []string{"AUTHORIZATION_TOKEN=secret", "OJITOO_BASE_URL=https://api.example.com"}, spec.Env)
	assert.Equal(t, ".env", spec.Labels[docker.LabelEnvFile])
}

// TestDeploy_SingleRunRequest verifies a successful deploy issues exactly
// one run request, for the configured name and host port.
func TestDeploy_SingleRunRequest(t *testing.T) {
	f := newDeployFixture(t)
	f.deployer.Config.HostPort = 18000

	_, err := f.deployer.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.engine.runs, 1)
	spec := f.engine.runs[0]
	assert.Equal(t, "ojitoo-frames", spec.ContainerName)
	assert.Equal(t, 18000, spec.HostPort)
	assert.Equal(t, 8000, spec.ContainerPort)
	assert.Equal(t, "unless-stopped", spec.RestartPolicy)
	assert.Equal(t, []model.Mount{{Source: "/srv/ojitoo/model", Target: "/app/model"}}, spec.Mounts)
	assert.True(t, docker.IsManaged(spec.Labels))

	running := 0
	for _, c := range f.engine.containers {
		if c.Running {
			running++
		}
	}
	assert.Equal(t, 1, running)
}

// TestDeploy_ReplacesPrevious verifies that a second deploy removes the
// same-named container before starting the new one.
func TestDeploy_ReplacesPrevious(t *testing.T) {
	f := newDeployFixture(t)

	_, err := f.deployer.Run(context.Background())
	require.NoError(t, err)

	f.rec.calls = nil
	report, err := f.deployer.Run(context.Background())
	require.NoError(t, err, "second deploy must not conflict on the container name")

	assert.True(t, report.ReplacedPrevious)
	assert.Less(t, indexOf(f.rec.calls, "remove ojitoo-frames"), indexOf(f.rec.calls, "run ojitoo-frames"))
	assert.Len(t, f.engine.containers, 1)
	assert.Equal(t, "id-2", f.engine.containers["ojitoo-frames"].ID)
}

// TestDeploy_GPURequestFollowsProbe verifies the GPU flag on the run
// request matches the probe result exactly.
func TestDeploy_GPURequestFollowsProbe(t *testing.T) {
	for _, available := range []bool{true, false} {
		f := newDeployFixture(t)
		f.gpu.available = available

		report, err := f.deployer.Run(context.Background())
		require.NoError(t, err)

		require.Len(t, f.engine.runs, 1)
		assert.Equal(t, available, f.engine.runs[0].GPU)
		assert.Equal(t, available, report.GPU)
	}
}

// TestDeploy_RemoveFailureTolerated verifies teardown errors are swallowed.
func TestDeploy_RemoveFailureTolerated(t *testing.T) {
	f := newDeployFixture(t)
	f.engine.removeErr = errors.New("device or resource busy")

	_, err := f.deployer.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.engine.runs, 1)
}

// TestDeploy_AbortsOnFailure verifies each unguarded step aborts the run
// with its error code and nothing after it runs.
func TestDeploy_AbortsOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *deployFixture)
		wantCode model.ExitCode
		lastCall string
	}{
		{
			name: "install fails",
			setup: func(f *deployFixture) {
				f.installer.err = model.NewCLIError(model.ExitInstallFailed, "install failed")
			},
			wantCode: model.ExitInstallFailed,
			lastCall: "install",
		},
		{
			name: "daemon unreachable",
			setup: func(f *deployFixture) {
				f.engine.pingErr = model.NewCLIError(model.ExitDockerNotRunning, "not responding")
			},
			wantCode: model.ExitDockerNotRunning,
			lastCall: "ping",
		},
		{
			name: "build fails",
			setup: func(f *deployFixture) {
				f.engine.buildErr = model.NewCLIError(model.ExitBuildFailed, "build failed")
			},
			wantCode: model.ExitBuildFailed,
			lastCall: "build ojitoo-frames:latest",
		},
		{
			name: "port still bound",
			setup: func(f *deployFixture) {
				f.ports.err = model.NewCLIError(model.ExitPortInUse, "host port 8000 is already in use")
			},
			wantCode: model.ExitPortInUse,
			lastCall: "port 8000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDeployFixture(t)
			tt.setup(f)

			_, err := f.deployer.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, model.ExitCodeOf(err))
			assert.Equal(t, tt.lastCall, f.rec.calls[len(f.rec.calls)-1])
			assert.Empty(t, f.engine.runs)
		})
	}
}

func TestDeploy_NoCacheForwarded(t *testing.T) {
	f := newDeployFixture(t)
	f.deployer.Options.NoCache = true

	_, err := f.deployer.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.engine.builds, 1)
	assert.True(t, f.engine.builds[0].NoCache)
	assert.Equal(t, "/srv/ojitoo", f.engine.builds[0].ContextDir)
	assert.Equal(t, "Dockerfile", f.engine.builds[0].Dockerfile)
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}
