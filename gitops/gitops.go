// Package gitops wraps the git and gh CLIs for the implementation
// phase: branch creation, committing the applied change set, pushing,
// and opening the pull request. All operations run in the working
// repository checkout.
package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/c360studio/ticketflow/workflow"
)

// Client runs git and gh operations in one repository checkout.
type Client struct {
	repoRoot string
	logger   *slog.Logger
}

// NewClient creates a git client rooted at the given checkout.
func NewClient(repoRoot string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		repoRoot: repoRoot,
		logger:   logger.With("component", "gitops"),
	}
}

// BranchName returns the working branch for a ticket run.
func BranchName(ticketKey string) string {
	return "ticketflow/" + ticketKey
}

// CreateBranch creates and checks out a branch from the given base,
// fetching the base first so the branch starts from the remote tip.
func (c *Client) CreateBranch(ctx context.Context, name, base string) error {
	if _, err := c.runGit(ctx, "fetch", "origin", base); err != nil {
		return fmt.Errorf("fetch %s: %w", base, err)
	}
	if _, err := c.runGit(ctx, "checkout", "-B", name, "origin/"+base); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	c.logger.Info("created branch", "branch", name, "base", base)
	return nil
}

// CommitAll stages everything and commits. Committing with nothing
// staged is an error surfaced to the caller.
func (c *Client) CommitAll(ctx context.Context, message string) error {
	if _, err := c.runGit(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	if _, err := c.runGit(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push pushes the branch to origin, setting the upstream.
func (c *Client) Push(ctx context.Context, branch string) error {
	if _, err := c.runGit(ctx, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// DiffStats returns per-file line stats for the branch relative to the
// base, split into created and modified files. Deleted files are
// reported under modified with zero additions.
func (c *Client) DiffStats(ctx context.Context, base string) (created, modified []workflow.FileChange, err error) {
	numstat, err := c.runGit(ctx, "diff", "--numstat", "origin/"+base+"...HEAD")
	if err != nil {
		return nil, nil, fmt.Errorf("diff stats: %w", err)
	}
	status, err := c.runGit(ctx, "diff", "--name-status", "origin/"+base+"...HEAD")
	if err != nil {
		return nil, nil, fmt.Errorf("diff status: %w", err)
	}

	added := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSpace(status), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.HasPrefix(fields[0], "A") {
			added[fields[len(fields)-1]] = true
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(numstat), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// Binary files report "-" for both counts.
		linesAdded, _ := strconv.Atoi(fields[0])
		linesRemoved, _ := strconv.Atoi(fields[1])
		change := workflow.FileChange{
			Path:         fields[2],
			LinesAdded:   linesAdded,
			LinesRemoved: linesRemoved,
		}
		if added[change.Path] {
			created = append(created, change)
		} else {
			modified = append(modified, change)
		}
	}
	return created, modified, nil
}

// OpenPullRequest opens a PR for the branch against the base via gh and
// returns its linkage.
func (c *Client) OpenPullRequest(ctx context.Context, branch, base, title, body string) (*workflow.PullRequest, error) {
	output, err := c.runGH(ctx, "pr", "create",
		"--head", branch, "--base", base, "--title", title, "--body", body)
	if err != nil {
		return nil, fmt.Errorf("open pull request: %w", err)
	}

	url := strings.TrimSpace(output)
	// gh prints the PR URL as the last output line.
	if idx := strings.LastIndex(url, "\n"); idx >= 0 {
		url = strings.TrimSpace(url[idx+1:])
	}
	number := prNumberFromURL(url)
	if number == 0 {
		return nil, fmt.Errorf("could not parse PR number from %q", url)
	}
	c.logger.Info("opened pull request", "branch", branch, "pr", number)
	return &workflow.PullRequest{URL: url, Number: number}, nil
}

// runGit executes a git command in the repo directory.
func (c *Client) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}

// runGH executes a gh command in the repo directory.
func (c *Client) runGH(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = c.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}

// prNumberFromURL extracts the PR number from a GitHub PR URL.
func prNumberFromURL(url string) int {
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	if len(parts) == 0 {
		return 0
	}
	number, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return number
}
