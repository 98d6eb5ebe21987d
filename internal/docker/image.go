package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// BuildOptions controls a single image build.
type BuildOptions struct {
	// ContextDir is the build context directory sent to the engine.
	ContextDir string

	// Dockerfile is the Dockerfile path relative to ContextDir.
	Dockerfile string

	// Tag is the full image reference to tag the result with.
	Tag string

	// NoCache disables the layer cache, like `docker build --no-cache`.
	NoCache bool
}

// BuildImage builds an image from a local context directory and streams
// the engine's progress output to out. It is the SDK equivalent of
// `docker build -t <tag> <dir>`.
//
// The context honours .dockerignore. Any error reported by the build
// itself (a failing RUN step, a missing base image) is returned as an
// ExitBuildFailed CLIError after the progress stream has been shown.
func (c *Client) BuildImage(ctx context.Context, opts BuildOptions, out io.Writer) error {
	excludes, err := readDockerignore(opts.ContextDir, opts.Dockerfile)
	if err != nil {
		return model.WrapCLIError(model.ExitBuildFailed, "failed to read .dockerignore", err)
	}

	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitBuildFailed,
			fmt.Sprintf("failed to archive build context %q", opts.ContextDir), err)
	}
	defer func() { _ = buildCtx.Close() }()

	resp, err := c.inner.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  opts.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		NoCache:     opts.NoCache,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitBuildFailed,
			fmt.Sprintf("failed to start build of image %q", opts.Tag), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return model.WrapCLIError(model.ExitBuildFailed,
			fmt.Sprintf("build of image %q failed", opts.Tag), err)
	}
	return nil
}

// readDockerignore returns the exclude patterns from the context's
// .dockerignore, or nil when there is none.
//
// The Dockerfile named by dockerfile ("Dockerfile" when empty) and
// .dockerignore are re-included even if a pattern excludes them, as the
// docker CLI does; the engine needs both.
func readDockerignore(contextDir, dockerfile string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	dockerfile = filepath.ToSlash(filepath.Clean(dockerfile))
	return append(patterns, "!"+dockerfile, "!.dockerignore"), nil
}
