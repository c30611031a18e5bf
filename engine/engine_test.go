package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/c360studio/ticketflow/changeset"
	"github.com/c360studio/ticketflow/tracker"
	"github.com/c360studio/ticketflow/workflow"
)

type fakeTracker struct {
	tickets    map[string]*tracker.Ticket
	comments   []string
	fetchErr   error
	commentErr error
}

func (f *fakeTracker) FetchTicket(_ context.Context, key string) (*tracker.Ticket, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	t, ok := f.tickets[key]
	if !ok {
		return nil, &tracker.NotFoundError{Key: key}
	}
	return t, nil
}

func (f *fakeTracker) PostComment(_ context.Context, _ string, text string) error {
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments = append(f.comments, text)
	return nil
}

func (f *fakeTracker) Search(_ context.Context, _ string) ([]*tracker.Ticket, error) {
	return nil, nil
}

type fakeAnalyzer struct {
	result *workflow.AnalysisResult
	err    error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, t *tracker.Ticket) (*workflow.AnalysisResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.TicketKey = t.Key
	return &r, nil
}

type fakeImplementer struct {
	cs  *changeset.ChangeSet
	err error
}

func (f *fakeImplementer) Implement(_ context.Context, t *tracker.Ticket, _ *workflow.AnalysisResult) (*changeset.ChangeSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	cs := *f.cs
	cs.TicketKey = t.Key
	return &cs, nil
}

type fakeGit struct {
	branches  []string
	commits   []string
	pushes    []string
	branchErr error
	pushErr   error
	prErr     error
	pr        *workflow.PullRequest
}

func (f *fakeGit) CreateBranch(_ context.Context, name, _ string) error {
	if f.branchErr != nil {
		return f.branchErr
	}
	f.branches = append(f.branches, name)
	return nil
}

func (f *fakeGit) CommitAll(_ context.Context, message string) error {
	f.commits = append(f.commits, message)
	return nil
}

func (f *fakeGit) Push(_ context.Context, branch string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, branch)
	return nil
}

func (f *fakeGit) DiffStats(_ context.Context, _ string) ([]workflow.FileChange, []workflow.FileChange, error) {
	return []workflow.FileChange{{Path: "auth/session.go", LinesAdded: 40}}, nil, nil
}

func (f *fakeGit) OpenPullRequest(_ context.Context, _, _, _, _ string) (*workflow.PullRequest, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.pr, nil
}

type fakeRunner struct {
	build      *workflow.BuildResult
	tests      *workflow.TestResult
	buildCalls int
	testCalls  int
}

func (f *fakeRunner) Build(_ context.Context) (*workflow.BuildResult, error) {
	f.buildCalls++
	return f.build, nil
}

func (f *fakeRunner) Test(_ context.Context) (*workflow.TestResult, error) {
	f.testCalls++
	return f.tests, nil
}

type fixture struct {
	engine  *Engine
	machine *workflow.Machine
	store   *workflow.RunStore
	tracker *fakeTracker
	git     *fakeGit
	runner  *fakeRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	events := workflow.NewBroadcaster(nil)
	t.Cleanup(func() { _ = events.Close(0) })

	machine := workflow.NewMachine(events, nil)
	store := workflow.NewRunStore(t.TempDir())
	tr := &fakeTracker{tickets: map[string]*tracker.Ticket{
		"PROJ-42": {Key: "PROJ-42", Title: "Add session timeout"},
	}}
	git := &fakeGit{pr: &workflow.PullRequest{URL: "https://github.com/acme/app/pull/7", Number: 7}}
	run := &fakeRunner{
		build: &workflow.BuildResult{Success: true},
		tests: &workflow.TestResult{Total: 12, Passed: 12},
	}
	analyzer := &fakeAnalyzer{result: &workflow.AnalysisResult{
		Complexity:     workflow.ComplexityMedium,
		EstimatedHours: 3,
	}}
	impl := &fakeImplementer{cs: &changeset.ChangeSet{
		Summary: "PROJ-42: add session timeout",
		Edits: []changeset.FileEdit{
			{Path: "auth/session.go", Op: changeset.OpCreate, Content: "package auth\n"},
		},
	}}

	eng := New(machine, events, store, tr, analyzer, impl, git, run, Options{
		RepoRoot:   t.TempDir(),
		BaseBranch: "main",
	}, nil)

	return &fixture{engine: eng, machine: machine, store: store, tracker: tr, git: git, runner: run}
}

func trigger(auto bool) *workflow.TriggerPayload {
	return &workflow.TriggerPayload{TicketKey: "PROJ-42", RequestedBy: "ci", AutoApprove: auto}
}

func TestAutoApprovedRunCompletes(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.StartRun(context.Background(), trigger(true)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	if got := f.machine.Current("PROJ-42"); got != workflow.PhaseCompleted {
		t.Fatalf("terminal phase = %s, want completed", got)
	}
	if len(f.tracker.comments) != 2 {
		t.Fatalf("comments = %d, want analysis report and summary", len(f.tracker.comments))
	}
	if !strings.Contains(f.tracker.comments[0], "## Ticket Analysis") {
		t.Errorf("first comment is not the analysis report:\n%s", f.tracker.comments[0])
	}
	if !strings.Contains(f.tracker.comments[1], "## Implementation Completed") {
		t.Errorf("second comment is not the success summary:\n%s", f.tracker.comments[1])
	}
	if !strings.Contains(f.tracker.comments[1], "[PR #7]") {
		t.Errorf("summary missing pull request link:\n%s", f.tracker.comments[1])
	}
	if len(f.git.branches) != 1 || f.git.branches[0] != "ticketflow/PROJ-42" {
		t.Errorf("branches = %v", f.git.branches)
	}
	if len(f.git.pushes) != 1 {
		t.Errorf("pushes = %v", f.git.pushes)
	}

	rec, err := f.store.Load(context.Background(), "PROJ-42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Implementation == nil || rec.Implementation.Status != workflow.StatusCompleted {
		t.Errorf("persisted status = %+v, want completed", rec.Implementation)
	}
}

func TestRunParksAtApprovalGate(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.StartRun(context.Background(), trigger(false)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	if got := f.machine.Current("PROJ-42"); got != workflow.PhaseAwaitingApproval {
		t.Fatalf("phase = %s, want awaiting_approval", got)
	}
	if len(f.tracker.comments) != 1 {
		t.Fatalf("comments = %d, want only analysis report", len(f.tracker.comments))
	}
	if f.runner.buildCalls != 0 {
		t.Errorf("build ran before approval")
	}
}

func TestApprovalResumesRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartRun(ctx, trigger(false)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	approval := &workflow.ApprovalPayload{TicketKey: "PROJ-42", Approved: true, Approver: "lead"}
	if err := f.engine.Approve(ctx, approval); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if got := f.machine.Current("PROJ-42"); got != workflow.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", got)
	}
}

func TestRejectionFailsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartRun(ctx, trigger(false)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	approval := &workflow.ApprovalPayload{TicketKey: "PROJ-42", Approved: false, Approver: "lead"}
	if err := f.engine.Approve(ctx, approval); err == nil {
		t.Fatal("rejection should return an error")
	}

	if got := f.machine.Current("PROJ-42"); got != workflow.PhaseFailed {
		t.Fatalf("phase = %s, want failed", got)
	}
	last := f.tracker.comments[len(f.tracker.comments)-1]
	if !strings.Contains(last, "## Workflow Failed") || !strings.Contains(last, "rejected by lead") {
		t.Errorf("failure report missing rejection cause:\n%s", last)
	}
	if f.runner.buildCalls != 0 {
		t.Errorf("build ran after rejection")
	}
}

func TestApproveWithoutPendingRun(t *testing.T) {
	f := newFixture(t)

	approval := &workflow.ApprovalPayload{TicketKey: "PROJ-42", Approved: true}
	err := f.engine.Approve(context.Background(), approval)
	if !errors.Is(err, workflow.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestApproveOutsideGatePhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartRun(ctx, trigger(true)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	// The run already completed; a late approval must not restart it.
	approval := &workflow.ApprovalPayload{TicketKey: "PROJ-42", Approved: true}
	err := f.engine.Approve(ctx, approval)
	if !errors.Is(err, workflow.ErrApprovalRequired) {
		t.Fatalf("err = %v, want ErrApprovalRequired", err)
	}
}

func TestBuildFailureEndsRun(t *testing.T) {
	f := newFixture(t)
	f.runner.build = &workflow.BuildResult{
		Success: false,
		Errors:  []string{"session.go:14:2: undefined: Clock"},
	}

	err := f.engine.StartRun(context.Background(), trigger(true))
	if err == nil {
		t.Fatal("build failure should surface as an error")
	}

	if got := f.machine.Current("PROJ-42"); got != workflow.PhaseFailed {
		t.Fatalf("phase = %s, want failed", got)
	}
	if f.runner.testCalls != 0 {
		t.Errorf("tests ran after a failed build")
	}
	last := f.tracker.comments[len(f.tracker.comments)-1]
	if !strings.Contains(last, "## Implementation Failed") {
		t.Errorf("report missing failure header:\n%s", last)
	}
	if !strings.Contains(last, "undefined: Clock") {
		t.Errorf("report missing verbatim build error:\n%s", last)
	}
	if len(f.git.pushes) != 0 {
		t.Errorf("failed run pushed a branch: %v", f.git.pushes)
	}
}

func TestTestFailureEndsRun(t *testing.T) {
	f := newFixture(t)
	f.runner.tests = &workflow.TestResult{Total: 12, Passed: 10, Failed: 2}

	if err := f.engine.StartRun(context.Background(), trigger(true)); err == nil {
		t.Fatal("test failure should surface as an error")
	}

	rec, err := f.store.Load(context.Background(), "PROJ-42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Implementation.Status != workflow.StatusTestFailed {
		t.Errorf("status = %s, want test_failed", rec.Implementation.Status)
	}
	if len(f.git.pushes) != 0 {
		t.Errorf("failed run pushed a branch: %v", f.git.pushes)
	}
}

func TestMissingTicketFailsDuringAnalysis(t *testing.T) {
	f := newFixture(t)
	delete(f.tracker.tickets, "PROJ-42")

	if err := f.engine.StartRun(context.Background(), trigger(true)); err == nil {
		t.Fatal("missing ticket should fail the run")
	}
	if got := f.machine.Current("PROJ-42"); got != workflow.PhaseFailed {
		t.Fatalf("phase = %s, want failed", got)
	}
}

func TestGuardedPathRejectsChangeSet(t *testing.T) {
	f := newFixture(t)
	f.engine.opts.GuardPatterns = []string{"auth/**"}

	err := f.engine.StartRun(context.Background(), trigger(true))
	if err == nil {
		t.Fatal("guarded change set should fail the run")
	}

	rec, loadErr := f.store.Load(context.Background(), "PROJ-42")
	if loadErr != nil {
		t.Fatalf("Load: %v", loadErr)
	}
	if rec.Implementation.Status != workflow.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Implementation.Status)
	}
	if len(f.git.commits) != 0 {
		t.Errorf("guarded change set was committed: %v", f.git.commits)
	}
}

func TestPullRequestFailureIsExplicitFailure(t *testing.T) {
	f := newFixture(t)
	f.git.prErr = errors.New("gh: rate limited")

	if err := f.engine.StartRun(context.Background(), trigger(true)); err == nil {
		t.Fatal("pull request failure should fail the run")
	}

	rec, err := f.store.Load(context.Background(), "PROJ-42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Implementation.Status != workflow.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Implementation.Status)
	}
}

func TestRestartAfterTerminalRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartRun(ctx, trigger(true)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := f.engine.StartRun(ctx, trigger(true)); err != nil {
		t.Fatalf("second run after completion: %v", err)
	}
	if got := f.machine.Current("PROJ-42"); got != workflow.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", got)
	}
}
