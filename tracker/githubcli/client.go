// Package githubcli implements the tracker client on top of the gh CLI,
// mapping tickets onto GitHub issues. Keys follow the "PROJ-123" shape;
// the numeric suffix is the issue number.
package githubcli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/ticketflow/tracker"
)

// Client talks to GitHub issues through the gh CLI.
type Client struct {
	repoRoot string
	logger   *slog.Logger
}

// NewClient creates a gh-backed tracker client rooted at the given
// repository checkout.
func NewClient(repoRoot string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		repoRoot: repoRoot,
		logger:   logger.With("component", "tracker-githubcli"),
	}
}

// IsAvailable checks if the gh CLI is installed and authenticated.
func IsAvailable() bool {
	cmd := exec.Command("gh", "auth", "status")
	return cmd.Run() == nil
}

// issueJSON is the gh --json shape consumed by this client.
type issueJSON struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	URL    string `json:"url"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FetchTicket loads the issue behind the ticket key.
func (c *Client) FetchTicket(ctx context.Context, key string) (*tracker.Ticket, error) {
	number, err := issueNumber(key)
	if err != nil {
		return nil, err
	}

	output, err := c.runGH(ctx, "issue", "view", strconv.Itoa(number),
		"--json", "number,title,body,state,url,labels,assignees,updatedAt")
	if err != nil {
		if strings.Contains(output, "Could not resolve") || strings.Contains(output, "no issues match") {
			return nil, &tracker.NotFoundError{Key: key}
		}
		return nil, fmt.Errorf("fetch ticket %s: %w", key, err)
	}

	var issue issueJSON
	if err := json.Unmarshal([]byte(output), &issue); err != nil {
		return nil, fmt.Errorf("parse issue %s: %w", key, err)
	}
	return c.toTicket(key, &issue), nil
}

// PostComment posts the text verbatim as an issue comment.
func (c *Client) PostComment(ctx context.Context, key string, text string) error {
	number, err := issueNumber(key)
	if err != nil {
		return err
	}

	if _, err := c.runGH(ctx, "issue", "comment", strconv.Itoa(number), "--body", text); err != nil {
		return fmt.Errorf("post comment on %s: %w", key, err)
	}
	c.logger.Debug("posted tracker comment", "ticket", key, "bytes", len(text))
	return nil
}

// Search lists issues matching a gh search query.
func (c *Client) Search(ctx context.Context, query string) ([]*tracker.Ticket, error) {
	output, err := c.runGH(ctx, "issue", "list", "--search", query,
		"--json", "number,title,body,state,url,labels,assignees,updatedAt")
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var issues []issueJSON
	if err := json.Unmarshal([]byte(output), &issues); err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	prefix := c.keyPrefix()
	tickets := make([]*tracker.Ticket, 0, len(issues))
	for i := range issues {
		key := fmt.Sprintf("%s-%d", prefix, issues[i].Number)
		tickets = append(tickets, c.toTicket(key, &issues[i]))
	}
	return tickets, nil
}

func (c *Client) toTicket(key string, issue *issueJSON) *tracker.Ticket {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	assignee := ""
	if len(issue.Assignees) > 0 {
		assignee = issue.Assignees[0].Login
	}
	return &tracker.Ticket{
		Key:         key,
		Title:       issue.Title,
		Description: issue.Body,
		Status:      issue.State,
		Labels:      labels,
		Assignee:    assignee,
		URL:         issue.URL,
		UpdatedAt:   issue.UpdatedAt,
	}
}

// keyPrefix derives the project prefix for synthesized keys from the
// repository name, uppercased. Falls back to "GH".
func (c *Client) keyPrefix() string {
	cmd := exec.Command("gh", "repo", "view", "--json", "name", "-q", ".name")
	cmd.Dir = c.repoRoot
	output, err := cmd.Output()
	if err != nil {
		return "GH"
	}
	name := strings.TrimSpace(string(output))
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, name)
	if name == "" {
		return "GH"
	}
	return strings.ToUpper(name)
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

// issueNumber extracts the issue number from a ticket key.
func issueNumber(key string) (int, error) {
	idx := strings.LastIndex(key, "-")
	if idx < 0 {
		return 0, fmt.Errorf("ticket key %q has no numeric suffix", key)
	}
	number, err := strconv.Atoi(key[idx+1:])
	if err != nil || number <= 0 {
		return 0, fmt.Errorf("ticket key %q has no numeric suffix", key)
	}
	return number, nil
}
