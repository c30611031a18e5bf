// Package runner executes the build and test commands for an applied
// change set and parses their output into the result model. Commands
// are configurable; the parsers understand Go toolchain output.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360studio/ticketflow/workflow"
)

const maxBuildErrors = 25

// Runner runs build and test commands in a repository checkout.
type Runner struct {
	repoRoot string
	buildCmd []string
	testCmd  []string
	logger   *slog.Logger
}

// New creates a runner. Empty commands default to the Go toolchain
// ("go build ./..." and "go test -cover ./...").
func New(repoRoot string, buildCmd, testCmd []string, logger *slog.Logger) *Runner {
	if len(buildCmd) == 0 {
		buildCmd = []string{"go", "build", "./..."}
	}
	if len(testCmd) == 0 {
		testCmd = []string{"go", "test", "-v", "-cover", "./..."}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repoRoot: repoRoot,
		buildCmd: buildCmd,
		testCmd:  testCmd,
		logger:   logger.With("component", "runner"),
	}
}

// Build runs the build command. A failing build is a normal result, not
// an error; errors are reserved for being unable to run the command at
// all.
func (r *Runner) Build(ctx context.Context) (*workflow.BuildResult, error) {
	output, err := r.run(ctx, r.buildCmd)
	if err == nil {
		return &workflow.BuildResult{Success: true}, nil
	}
	if _, ok := err.(*exec.ExitError); !ok {
		return nil, fmt.Errorf("run build command: %w", err)
	}

	result := &workflow.BuildResult{
		Success: false,
		Errors:  parseBuildErrors(output),
	}
	r.logger.Info("build failed", "errors", len(result.Errors))
	return result, nil
}

// Test runs the test command and parses counts and coverage from its
// output. Failing tests are a normal result, not an error.
func (r *Runner) Test(ctx context.Context) (*workflow.TestResult, error) {
	output, err := r.run(ctx, r.testCmd)
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("run test command: %w", err)
		}
	}

	result := parseTestOutput(output)
	r.logger.Info("tests finished",
		"total", result.Total, "passed", result.Passed, "failed", result.Failed)
	return result, nil
}

func (r *Runner) run(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.repoRoot
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// parseBuildErrors keeps the meaningful lines of failed build output
// verbatim. Compiler error codes and positions must survive untouched;
// only blank lines and the vet typecheck banner are dropped.
func parseBuildErrors(output string) []string {
	var errs []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" || strings.HasPrefix(line, "# ") {
			continue
		}
		errs = append(errs, line)
		if len(errs) == maxBuildErrors {
			errs = append(errs, "(further errors truncated)")
			break
		}
	}
	if len(errs) == 0 {
		errs = []string{"build failed with no diagnostic output"}
	}
	return errs
}

var (
	testResultRe = regexp.MustCompile(`^--- (PASS|FAIL): `)
	coverageRe   = regexp.MustCompile(`coverage: (\d+(?:\.\d+)?)% of statements`)
)

// parseTestOutput counts per-test results from "go test -v" output and
// extracts statement coverage when present. Package-level coverage
// lines are averaged across packages that report one.
func parseTestOutput(output string) *workflow.TestResult {
	result := &workflow.TestResult{}
	var coverSum float64
	var coverCount int

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := testResultRe.FindStringSubmatch(line); m != nil {
			result.Total++
			if m[1] == "PASS" {
				result.Passed++
			} else {
				result.Failed++
			}
			continue
		}
		if m := coverageRe.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				coverSum += pct
				coverCount++
			}
		}
	}

	if coverCount > 0 {
		fraction := coverSum / float64(coverCount) / 100
		result.Coverage = &fraction
	}
	return result
}
