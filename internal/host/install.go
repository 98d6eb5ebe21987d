package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

const (
	// DefaultInstallScriptURL is the engine's official convenience script.
	DefaultInstallScriptURL = "https://get.docker.com"

	// maxScriptSize caps the downloaded script; the real one is ~25 KiB.
	maxScriptSize = 4 << 20

	downloadTimeout = 2 * time.Minute
)

// Installer makes sure the container engine is present.
type Installer struct {
	// ScriptURL is downloaded and piped into sh when docker is missing.
	ScriptURL string

	// HTTPClient downloads the script. Defaults to a client with a
	// two-minute timeout.
	HTTPClient *http.Client

	// LookPath finds a binary on PATH. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// RunScript executes the downloaded script. Defaults to `sh -s` with
	// the script on stdin and output sent to Stdout/Stderr.
	RunScript func(ctx context.Context, script []byte) error

	// Run executes service management commands. Defaults to running them
	// with output sent to Stdout/Stderr.
	Run CommandRunner

	Stdout io.Writer
	Stderr io.Writer
}

// EnsureEngine installs the engine when the docker binary is not on PATH
// and enables its service. It reports whether an install happened.
//
// An existing binary is trusted as-is; whether its daemon is running is
// checked later by pinging it.
func (i *Installer) EnsureEngine(ctx context.Context) (bool, error) {
	lookPath := i.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath("docker"); err == nil {
		return false, nil
	}

	script, err := i.download(ctx)
	if err != nil {
		return false, err
	}

	runScript := i.RunScript
	if runScript == nil {
		runScript = i.runShell
	}
	if err := runScript(ctx, script); err != nil {
		return false, model.WrapCLIError(model.ExitInstallFailed, "Docker install script failed", err)
	}

	run := i.Run
	if run == nil {
		run = i.runAttached
	}
	if err := run(ctx, "systemctl", "enable", "--now", "docker"); err != nil {
		return true, model.WrapCLIError(model.ExitInstallFailed, "failed to enable the docker service", err)
	}
	return true, nil
}

// download fetches the install script into memory.
func (i *Installer) download(ctx context.Context) ([]byte, error) {
	url := i.ScriptURL
	if url == "" {
		url = DefaultInstallScriptURL
	}
	client := i.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInstallFailed,
			fmt.Sprintf("invalid install script URL %q", url), err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInstallFailed,
			fmt.Sprintf("failed to download %s", url), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.NewCLIError(model.ExitInstallFailed,
			fmt.Sprintf("failed to download %s: HTTP %d", url, resp.StatusCode))
	}

	script, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInstallFailed,
			fmt.Sprintf("failed to download %s", url), err)
	}
	if len(script) == 0 {
		return nil, model.NewCLIError(model.ExitInstallFailed,
			fmt.Sprintf("install script from %s is empty", url))
	}
	return script, nil
}

func (i *Installer) runShell(ctx context.Context, script []byte) error {
	cmd := exec.CommandContext(ctx, "sh", "-s")
	cmd.Stdin = bytes.NewReader(script)
	cmd.Stdout = orDiscard(i.Stdout)
	cmd.Stderr = orDiscard(i.Stderr)
	return cmd.Run()
}

func (i *Installer) runAttached(ctx context.Context, name string, args ...string) error {
	// #nosec G204 -- fixed service management command
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = orDiscard(i.Stdout)
	cmd.Stderr = orDiscard(i.Stderr)
	return cmd.Run()
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
