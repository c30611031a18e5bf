// Package engine drives a ticket through the full workflow: analysis,
// the approval gate, implementation, build, test, and the terminal
// report. It owns the coordination; the phase machine owns legality,
// and the collaborators own all I/O.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/ticketflow/aigen"
	"github.com/c360studio/ticketflow/gitops"
	"github.com/c360studio/ticketflow/tracker"
	"github.com/c360studio/ticketflow/workflow"
)

// GitClient is the source-control collaborator surface the engine
// needs. *gitops.Client satisfies it.
type GitClient interface {
	CreateBranch(ctx context.Context, name, base string) error
	CommitAll(ctx context.Context, message string) error
	Push(ctx context.Context, branch string) error
	DiffStats(ctx context.Context, base string) (created, modified []workflow.FileChange, err error)
	OpenPullRequest(ctx context.Context, branch, base, title, body string) (*workflow.PullRequest, error)
}

// BuildRunner runs the build and test commands. *runner.Runner
// satisfies it.
type BuildRunner interface {
	Build(ctx context.Context) (*workflow.BuildResult, error)
	Test(ctx context.Context) (*workflow.TestResult, error)
}

// Options tune engine behavior per deployment.
type Options struct {
	// RepoRoot is the working tree change sets are applied in.
	RepoRoot string

	// BaseBranch is the branch runs fork from and PRs target.
	BaseBranch string

	// AutoApprove skips the manual approval gate for every run.
	// Individual triggers can also request it.
	AutoApprove bool

	// GuardPatterns are doublestar globs for paths no change set may
	// touch.
	GuardPatterns []string
}

// Engine coordinates one repository's ticket workflows.
type Engine struct {
	machine     *workflow.Machine
	events      *workflow.Broadcaster
	store       *workflow.RunStore
	tracker     tracker.Client
	analyzer    aigen.Analyzer
	implementer aigen.Implementer
	git         GitClient
	runner      BuildRunner
	opts        Options
	logger      *slog.Logger
}

// New creates an engine. The machine must have been built with the same
// broadcaster so transition events and result events share ordering.
func New(
	machine *workflow.Machine,
	events *workflow.Broadcaster,
	store *workflow.RunStore,
	trackerClient tracker.Client,
	analyzer aigen.Analyzer,
	implementer aigen.Implementer,
	git GitClient,
	buildRunner BuildRunner,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		machine:     machine,
		events:      events,
		store:       store,
		tracker:     trackerClient,
		analyzer:    analyzer,
		implementer: implementer,
		git:         git,
		runner:      buildRunner,
		opts:        opts,
		logger:      logger.With("component", "engine"),
	}
}

// StartRun runs the analysis phase for a trigger. On success the run is
// parked at the approval gate, or proceeds straight into implementation
// when auto-approve applies.
func (e *Engine) StartRun(ctx context.Context, trigger *workflow.TriggerPayload) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	key := trigger.TicketKey

	if err := e.machine.RequestTransition(key, workflow.PhaseNone, workflow.PhaseAnalyzing, ""); err != nil {
		return err
	}

	auto := e.opts.AutoApprove || trigger.AutoApprove
	rec := &workflow.RunRecord{
		TicketKey:   key,
		RequestID:   trigger.RequestID,
		Phase:       workflow.PhaseAnalyzing,
		AutoApprove: auto,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return e.failRun(ctx, rec, workflow.PhaseAnalyzing, fmt.Errorf("persist run: %w", err))
	}

	ticket, err := e.tracker.FetchTicket(ctx, key)
	if err != nil {
		var notFound *tracker.NotFoundError
		if errors.As(err, &notFound) {
			return e.failRun(ctx, rec, workflow.PhaseAnalyzing, err)
		}
		return e.failRun(ctx, rec, workflow.PhaseAnalyzing, fmt.Errorf("tracker unavailable: %w", err))
	}

	analysis, err := e.analyzer.Analyze(ctx, ticket)
	if err != nil {
		return e.failRun(ctx, rec, workflow.PhaseAnalyzing, fmt.Errorf("analysis failed: %w", err))
	}
	if err := analysis.Validate(); err != nil {
		return e.failRun(ctx, rec, workflow.PhaseAnalyzing, fmt.Errorf("invalid analysis: %w", err))
	}
	rec.Analysis = analysis
	if err := e.store.Save(ctx, rec); err != nil {
		return e.failRun(ctx, rec, workflow.PhaseAnalyzing, fmt.Errorf("persist analysis: %w", err))
	}

	// The analysis report is posted before the gate so approvers read
	// it on the ticket. A comment failure is not fatal to the run.
	if err := e.tracker.PostComment(ctx, key, workflow.FormatAnalysis(analysis)); err != nil {
		e.logger.Warn("failed to post analysis report", "ticket", key, "error", err)
	}
	e.events.EmitAnalysisCompleted(key, analysis)

	if err := e.machine.RequestTransition(key, workflow.PhaseAnalyzing, workflow.PhaseAwaitingApproval, ""); err != nil {
		return err
	}
	rec.Phase = workflow.PhaseAwaitingApproval
	if err := e.store.Save(ctx, rec); err != nil {
		e.logger.Warn("failed to persist gate state", "ticket", key, "error", err)
	}

	if auto {
		e.logger.Info("auto-approve enabled, continuing past gate", "ticket", key)
		return e.implement(ctx, rec, ticket)
	}
	return nil
}

// Approve resolves a run parked at the approval gate. A rejection ends
// the run as failed with a report on the ticket.
func (e *Engine) Approve(ctx context.Context, approval *workflow.ApprovalPayload) error {
	if err := approval.Validate(); err != nil {
		return err
	}
	key := approval.TicketKey

	rec, err := e.store.Load(ctx, key)
	if err != nil {
		return err
	}
	if current := e.machine.Current(key); current != workflow.PhaseAwaitingApproval {
		return &workflow.TransitionError{
			TicketKey: key,
			From:      workflow.PhaseAwaitingApproval,
			To:        workflow.PhaseImplementing,
			Current:   current,
			Err:       workflow.ErrApprovalRequired,
		}
	}

	if !approval.Approved {
		cause := "plan rejected"
		if approval.Approver != "" {
			cause = fmt.Sprintf("plan rejected by %s", approval.Approver)
		}
		return e.failRun(ctx, rec, workflow.PhaseAwaitingApproval, errors.New(cause))
	}

	ticket, err := e.tracker.FetchTicket(ctx, key)
	if err != nil {
		return e.failRun(ctx, rec, workflow.PhaseAwaitingApproval, fmt.Errorf("tracker unavailable: %w", err))
	}
	return e.implement(ctx, rec, ticket)
}

// implement drives the run from the gate to a terminal phase.
func (e *Engine) implement(ctx context.Context, rec *workflow.RunRecord, ticket *tracker.Ticket) error {
	key := rec.TicketKey
	if err := e.machine.RequestTransition(key, workflow.PhaseAwaitingApproval, workflow.PhaseImplementing, ""); err != nil {
		return err
	}

	branch := gitops.BranchName(key)
	result := &workflow.ImplementationResult{
		TicketKey: key,
		Branch:    branch,
		Status:    workflow.StatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	rec.Phase = workflow.PhaseImplementing
	rec.Branch = branch
	rec.Implementation = result
	if err := e.store.Save(ctx, rec); err != nil {
		e.logger.Warn("failed to persist implementation start", "ticket", key, "error", err)
	}

	if err := e.git.CreateBranch(ctx, branch, e.opts.BaseBranch); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("branch creation failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseImplementing)
	}

	cs, err := e.implementer.Implement(ctx, ticket, rec.Analysis)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("change generation failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseImplementing)
	}
	if err := cs.Validate(e.opts.GuardPatterns); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("change set rejected: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseImplementing)
	}
	if err := cs.Apply(e.repoRootOrDot()); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("apply change set failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseImplementing)
	}
	if err := e.git.CommitAll(ctx, cs.Summary); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("commit failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseImplementing)
	}

	if created, modified, err := e.git.DiffStats(ctx, e.opts.BaseBranch); err != nil {
		e.logger.Warn("failed to compute diff stats", "ticket", key, "error", err)
	} else {
		result.CreatedFiles = created
		result.ModifiedFiles = modified
	}

	// Build phase.
	if err := e.machine.RequestTransition(key, workflow.PhaseImplementing, workflow.PhaseBuilding, ""); err != nil {
		return err
	}
	rec.Phase = workflow.PhaseBuilding
	build, err := e.runner.Build(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("build runner failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseBuilding)
	}
	result.Build = build
	if !build.Success {
		return e.finalize(ctx, rec, workflow.PhaseBuilding)
	}

	// Test phase.
	if err := e.machine.RequestTransition(key, workflow.PhaseBuilding, workflow.PhaseTesting, ""); err != nil {
		return err
	}
	rec.Phase = workflow.PhaseTesting
	tests, err := e.runner.Test(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("test runner failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseTesting)
	}
	result.Tests = tests
	if tests.Failed > 0 {
		return e.finalize(ctx, rec, workflow.PhaseTesting)
	}

	// Everything passed: publish the branch and open the PR. PR
	// failure is explicit failure, not success without a PR.
	if err := e.git.Push(ctx, branch); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("push failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseTesting)
	}
	pr, err := e.git.OpenPullRequest(ctx, branch, e.opts.BaseBranch, fmt.Sprintf("%s: %s", key, ticket.Title), cs.Summary)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("pull request failed: %v", err))
		return e.finalize(ctx, rec, workflow.PhaseTesting)
	}
	result.PullRequest = pr

	return e.finalize(ctx, rec, workflow.PhaseTesting)
}

// finalize seals the implementation result, commits the terminal phase,
// and posts exactly one rendered report to the tracker.
func (e *Engine) finalize(ctx context.Context, rec *workflow.RunRecord, from workflow.Phase) error {
	key := rec.TicketKey
	result := rec.Implementation

	now := time.Now().UTC()
	result.CompletedAt = &now
	verdict := workflow.Aggregate(result)
	result.Status = workflow.StatusForVerdict(verdict)

	var terminal workflow.Phase
	var transitionErr error
	if verdict == workflow.VerdictSuccess {
		terminal = workflow.PhaseCompleted
		transitionErr = e.machine.RequestTransition(key, from, workflow.PhaseCompleted, "")
	} else {
		terminal = workflow.PhaseFailed
		transitionErr = e.machine.Fail(key, verdict.String())
	}
	if transitionErr != nil {
		return transitionErr
	}
	rec.Phase = terminal
	if err := e.store.Save(ctx, rec); err != nil {
		e.logger.Warn("failed to persist terminal run", "ticket", key, "error", err)
	}

	e.events.EmitImplementationCompleted(key, result)
	if verdict != workflow.VerdictSuccess {
		e.events.EmitError(key, terminal, verdict.String())
	}

	if err := e.tracker.PostComment(ctx, key, workflow.FormatImplementationSummary(result)); err != nil {
		e.logger.Warn("failed to post implementation report", "ticket", key, "error", err)
	}

	e.logger.Info("run finished", "ticket", key, "verdict", verdict.String())
	if verdict != workflow.VerdictSuccess {
		return fmt.Errorf("run for %s ended in %s", key, verdict)
	}
	return nil
}

// failRun ends a run that never produced an implementation result. The
// terminal report is a short failure notice instead of a summary.
func (e *Engine) failRun(ctx context.Context, rec *workflow.RunRecord, phase workflow.Phase, cause error) error {
	key := rec.TicketKey
	if err := e.machine.Fail(key, cause.Error()); err != nil {
		e.logger.Error("could not mark run failed", "ticket", key, "error", err)
	}
	rec.Phase = workflow.PhaseFailed
	if err := e.store.Save(ctx, rec); err != nil {
		e.logger.Warn("failed to persist failed run", "ticket", key, "error", err)
	}

	e.events.EmitError(key, phase, cause.Error())
	report := fmt.Sprintf("## Workflow Failed\n\n**Ticket:** %s\n**Phase:** %s\n\n%s\n", key, phase.String(), cause.Error())
	if err := e.tracker.PostComment(ctx, key, report); err != nil {
		e.logger.Warn("failed to post failure report", "ticket", key, "error", err)
	}
	return fmt.Errorf("run for %s failed during %s: %w", key, phase, cause)
}

// repoRootOrDot returns where change sets are applied. The runner and
// git client are already rooted; the engine only needs this for Apply.
func (e *Engine) repoRootOrDot() string {
	if e.opts.RepoRoot != "" {
		return e.opts.RepoRoot
	}
	return "."
}
