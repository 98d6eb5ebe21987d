// Package gitsync synchronizes the deployed source tree from its remote.
//
// This package wraps Git CLI commands (via os/exec). The redeploy
// command only needs a fast-forward style `git pull` plus a few read-only
// queries for reporting, and the deploy host already has git installed
// to clone the project in the first place, so shelling out keeps the
// behaviour identical to what an operator would type.
//
// All errors from Git commands are wrapped in model.CLIError with
// ExitGitError so the CLI maps them to a stable exit code.
package gitsync

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// PullResult describes the effect of a pull.
type PullResult struct {
	// Before and After are the HEAD commit SHAs around the pull.
	Before string `json:"before"`
	After  string `json:"after"`

	// Output is git's stdout, e.g. "Already up to date."
	Output string `json:"output"`
}

// Updated reports whether the pull moved HEAD.
func (r *PullResult) Updated() bool {
	return r.Before != r.After
}

// Syncer runs git against one repository directory.
type Syncer struct {
	// RepoPath is the working tree to update.
	RepoPath string
}

// NewSyncer creates a Syncer for the repository at repoPath.
func NewSyncer(repoPath string) *Syncer {
	return &Syncer{RepoPath: repoPath}
}

// Pull runs `git pull <remote> <branch>` and reports the HEAD movement.
// An empty remote or branch is omitted, falling back to the branch's
// configured upstream.
func (s *Syncer) Pull(ctx context.Context, remote, branch string) (*PullResult, error) {
	before, err := s.Head(ctx)
	if err != nil {
		return nil, err
	}

	args := []string{"pull"}
	if remote != "" {
		args = append(args, remote)
		if branch != "" {
			args = append(args, branch)
		}
	}
	out, err := runGit(ctx, s.RepoPath, args...)
	if err != nil {
		return nil, err
	}

	after, err := s.Head(ctx)
	if err != nil {
		return nil, err
	}

	return &PullResult{
		Before: before,
		After:  after,
		Output: strings.TrimSpace(out),
	}, nil
}

// Head returns the commit SHA HEAD points to.
func (s *Syncer) Head(ctx context.Context) (string, error) {
	out, err := runGit(ctx, s.RepoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the short name of the checked-out branch, or
// "HEAD" when detached.
func (s *Syncer) CurrentBranch(ctx context.Context) (string, error) {
	out, err := runGit(ctx, s.RepoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// runGit executes git with the given arguments in repoPath and returns
// stdout. On failure the trimmed stderr is folded into the CLIError
// message so the operator sees git's own explanation.
//
// The repoPath parameter is passed to git via the -C flag.
func runGit(ctx context.Context, repoPath string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", repoPath}, args...)

	// #nosec G204 -- args are constructed internally, not from user input
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
		if stderrStr != "" {
			message = fmt.Sprintf("%s: %s", message, stderrStr)
		}
		return "", model.WrapCLIError(model.ExitGitError, message, err)
	}

	return stdout.String(), nil
}
