package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/gitsync"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// recorder collects the ordered list of side-effecting calls made by the
// fakes below, so tests can assert on ordering and absence of calls.
type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

type fakePrivilege struct {
	rec  *recorder
	root bool
}

func (f *fakePrivilege) RequireRoot() error {
	f.rec.add("privilege")
	if !f.root {
		return model.NewCLIError(model.ExitGeneralError, "Please run as root (use sudo)")
	}
	return nil
}

type fakeInstaller struct {
	rec       *recorder
	installed bool
	err       error
}

func (f *fakeInstaller) EnsureEngine(context.Context) (bool, error) {
	f.rec.add("install")
	return f.installed, f.err
}

type fakeGPU struct {
	rec       *recorder
	available bool
}

func (f *fakeGPU) Available(context.Context) bool {
	f.rec.add("gpu")
	return f.available
}

type fakePorts struct {
	rec *recorder
	err error
}

func (f *fakePorts) WaitFree(_ context.Context, port int, _ time.Duration) error {
	f.rec.add("port %d", port)
	return f.err
}

// fakeEngine is an in-memory engine holding containers by name.
type fakeEngine struct {
	rec *recorder

	containers map[string]*model.ContainerState
	runs       []*model.RunSpec
	builds     []docker.BuildOptions
	logLines   []int

	pingErr   error
	buildErr  error
	removeErr error
	runErr    error
}

func newFakeEngine(rec *recorder) *fakeEngine {
	return &fakeEngine{rec: rec, containers: map[string]*model.ContainerState{}}
}

func (f *fakeEngine) Ping(context.Context) error {
	f.rec.add("ping")
	return f.pingErr
}

func (f *fakeEngine) BuildImage(_ context.Context, opts docker.BuildOptions, _ io.Writer) error {
	f.rec.add("build %s", opts.Tag)
	f.builds = append(f.builds, opts)
	return f.buildErr
}

func (f *fakeEngine) RemoveContainer(_ context.Context, name string) (bool, error) {
	f.rec.add("remove %s", name)
	if f.removeErr != nil {
		return false, f.removeErr
	}
	_, ok := f.containers[name]
	delete(f.containers, name)
	return ok, nil
}

func (f *fakeEngine) RunContainer(_ context.Context, spec *model.RunSpec) (string, error) {
	f.rec.add("run %s", spec.ContainerName)
	if f.runErr != nil {
		return "", f.runErr
	}
	if _, exists := f.containers[spec.ContainerName]; exists {
		return "", fmt.Errorf("conflict: container name %q already in use", spec.ContainerName)
	}
	f.runs = append(f.runs, spec)
	id := fmt.Sprintf("id-%d", len(f.runs))
	f.containers[spec.ContainerName] = &model.ContainerState{
		ID: id, Name: spec.ContainerName, Image: spec.Image, Running: true, Status: "running",
	}
	return id, nil
}

func (f *fakeEngine) InspectContainer(_ context.Context, name string) (*model.ContainerState, error) {
	f.rec.add("inspect %s", name)
	c, ok := f.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docker.ErrContainerNotFound, name)
	}
	return c, nil
}

func (f *fakeEngine) TailLogs(_ context.Context, name string, lines int, w io.Writer) error {
	f.rec.add("logs %s %d", name, lines)
	f.logLines = append(f.logLines, lines)
	_, _ = fmt.Fprintf(w, "log tail (%d)\n", lines)
	return nil
}

func (f *fakeEngine) Close() error { return nil }

type fakeCompose struct {
	rec      *recorder
	downErr  error
	buildErr error
	upErr    error
	noCache  bool
}

func (f *fakeCompose) Down(context.Context) error {
	f.rec.add("compose down")
	return f.downErr
}

func (f *fakeCompose) Build(_ context.Context, noCache bool) error {
	f.rec.add("compose build")
	f.noCache = noCache
	return f.buildErr
}

func (f *fakeCompose) Up(context.Context) error {
	f.rec.add("compose up")
	return f.upErr
}

type fakeGit struct {
	rec *recorder
	err error
}

func (f *fakeGit) Pull(_ context.Context, remote, branch string) (*gitsync.PullResult, error) {
	f.rec.add("git pull %s %s", remote, branch)
	if f.err != nil {
		return nil, f.err
	}
	return &gitsync.PullResult{Before: "aaa", After: "bbb"}, nil
}

// recordingMkdir returns a MkdirAll replacement that records its calls.
func recordingMkdir(rec *recorder) func(string, os.FileMode) error {
	return func(path string, _ os.FileMode) error {
		rec.add("mkdir %s", path)
		return nil
	}
}
