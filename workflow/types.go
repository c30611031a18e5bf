// Package workflow provides the ticketflow workflow engine: the phase
// state machine that drives a ticket through analysis, approval,
// implementation, build and test, the progress broadcaster that fans
// events out to per-ticket subscribers, and the result aggregation and
// report rendering that turn raw sub-results into tracker comments.
package workflow

import (
	"fmt"
	"time"
)

// Phase represents the current workflow phase for a ticket.
type Phase string

const (
	// PhaseNone is the implicit state when a ticket has no active run.
	PhaseNone Phase = ""

	// PhaseAnalyzing indicates the ticket is being analyzed by the AI collaborator.
	PhaseAnalyzing Phase = "analyzing"

	// PhaseAwaitingApproval indicates analysis is done and the run is parked
	// until a human approves the implementation plan.
	PhaseAwaitingApproval Phase = "awaiting_approval"

	// PhaseImplementing indicates the change set is being generated and applied.
	PhaseImplementing Phase = "implementing"

	// PhaseBuilding indicates the implementation is being compiled.
	PhaseBuilding Phase = "building"

	// PhaseTesting indicates the test suite is running.
	PhaseTesting Phase = "testing"

	// PhaseCompleted indicates the run finished successfully.
	PhaseCompleted Phase = "completed"

	// PhaseFailed indicates the run failed at some phase.
	PhaseFailed Phase = "failed"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	if p == PhaseNone {
		return "none"
	}
	return string(p)
}

// IsValid returns true if the phase is a known workflow phase.
// PhaseNone is valid: it is the implicit "no active run" state.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseNone, PhaseAnalyzing, PhaseAwaitingApproval, PhaseImplementing,
		PhaseBuilding, PhaseTesting, PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for phases that end a run.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransitionTo returns true if the phase can transition to the target
// phase. Any non-terminal phase may fail; a new run starts only from
// PhaseNone.
func (p Phase) CanTransitionTo(target Phase) bool {
	if target == PhaseFailed {
		return !p.IsTerminal()
	}
	switch p {
	case PhaseNone:
		return target == PhaseAnalyzing
	case PhaseAnalyzing:
		return target == PhaseAwaitingApproval
	case PhaseAwaitingApproval:
		return target == PhaseImplementing
	case PhaseImplementing:
		return target == PhaseBuilding
	case PhaseBuilding:
		return target == PhaseTesting
	case PhaseTesting:
		return target == PhaseCompleted
	case PhaseCompleted, PhaseFailed:
		return false // Terminal states
	default:
		return false
	}
}

// PhasePercent maps each phase to the completion percentage reported in
// progress events emitted on phase transitions.
var PhasePercent = map[Phase]int{
	PhaseAnalyzing:        10,
	PhaseAwaitingApproval: 25,
	PhaseImplementing:     40,
	PhaseBuilding:         60,
	PhaseTesting:          80,
	PhaseCompleted:        100,
	PhaseFailed:           100,
}

// Complexity classifies how involved a change is expected to be.
type Complexity string

const (
	// ComplexityLow is a trivial, localized change.
	ComplexityLow Complexity = "low"
	// ComplexityMedium touches a handful of components.
	ComplexityMedium Complexity = "medium"
	// ComplexityHigh is a cross-cutting change.
	ComplexityHigh Complexity = "high"
	// ComplexityVeryHigh is an architectural change.
	ComplexityVeryHigh Complexity = "very_high"
)

// String returns the string representation of the complexity.
func (c Complexity) String() string {
	return string(c)
}

// IsValid returns true if the complexity is a known classification.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityVeryHigh:
		return true
	default:
		return false
	}
}

// ChangeKind classifies what happens to an affected file.
type ChangeKind string

const (
	// ChangeKindCreate indicates a new file.
	ChangeKindCreate ChangeKind = "create"
	// ChangeKindModify indicates an edit to an existing file.
	ChangeKindModify ChangeKind = "modify"
	// ChangeKindDelete indicates a file removal.
	ChangeKindDelete ChangeKind = "delete"
)

// AffectedFile is a file the analysis expects the change to touch.
type AffectedFile struct {
	// Path is the repo-relative file path.
	Path string `json:"path"`

	// Kind is what happens to the file.
	Kind ChangeKind `json:"kind"`
}

// ChangeCategory classifies the layer a required change belongs to.
type ChangeCategory string

const (
	// CategoryController is API or handler-layer work.
	CategoryController ChangeCategory = "controller"
	// CategoryService is business-logic work.
	CategoryService ChangeCategory = "service"
	// CategoryModel is data-model work.
	CategoryModel ChangeCategory = "model"
	// CategoryOther is anything else.
	CategoryOther ChangeCategory = "other"
)

// RequiredChange describes one change the analysis calls for.
type RequiredChange struct {
	// Component is the name of the component to change.
	Component string `json:"component"`

	// Description is what needs to change and why.
	Description string `json:"description"`

	// Category is the layer the change belongs to.
	Category ChangeCategory `json:"category"`
}

// TechnicalImpact records the cross-cutting consequences of a change.
type TechnicalImpact struct {
	// HasBreakingChanges is true when the change breaks existing consumers.
	HasBreakingChanges bool `json:"has_breaking_changes"`

	// RequiresMigration is true when a data or schema migration is needed.
	RequiresMigration bool `json:"requires_migration"`

	// NewDependencies lists external dependencies the change introduces.
	NewDependencies []string `json:"new_dependencies,omitempty"`
}

// RiskSeverity classifies how serious a risk is.
type RiskSeverity string

const (
	// SeverityLow risks are acceptable without mitigation.
	SeverityLow RiskSeverity = "low"
	// SeverityMedium risks need a mitigation noted.
	SeverityMedium RiskSeverity = "medium"
	// SeverityHigh risks need mitigation before approval.
	SeverityHigh RiskSeverity = "high"
	// SeverityCritical risks block approval.
	SeverityCritical RiskSeverity = "critical"
)

// Risk is a risk identified during analysis.
type Risk struct {
	// Description is what could go wrong.
	Description string `json:"description"`

	// Severity classifies the risk.
	Severity RiskSeverity `json:"severity"`

	// Mitigation is how the risk is addressed.
	Mitigation string `json:"mitigation,omitempty"`
}

// Opportunity is an improvement spotted during analysis beyond the
// ticket's immediate ask.
type Opportunity struct {
	// Description is the improvement.
	Description string `json:"description"`

	// Type classifies the opportunity, such as "refactoring" or "performance".
	Type string `json:"type,omitempty"`
}

// ImplementationStep is one ordered step of the implementation plan.
type ImplementationStep struct {
	// Order is the 1-based position in the plan. Orders form a dense
	// ascending sequence starting at 1.
	Order int `json:"order"`

	// Description is what the step does.
	Description string `json:"description"`
}

// CriterionType classifies how a validation criterion is checked.
type CriterionType string

const (
	// CriterionUnitTest is verified by an automated unit test.
	CriterionUnitTest CriterionType = "unit_test"
	// CriterionManualTest is verified by hand.
	CriterionManualTest CriterionType = "manual_test"
	// CriterionOther is verified some other way.
	CriterionOther CriterionType = "other"
)

// ValidationCriterion is a condition the implementation must satisfy.
type ValidationCriterion struct {
	// Description is the condition to verify.
	Description string `json:"description"`

	// Type is how the condition is checked.
	Type CriterionType `json:"type,omitempty"`
}

// AnalysisResult is the structured output of the analyzing phase. It is
// produced once by the AI collaborator and read-only afterwards; the
// report renderer never mutates it.
type AnalysisResult struct {
	// TicketKey identifies the ticket this analysis belongs to.
	TicketKey string `json:"ticket_key"`

	// AnalyzedAt is when the analysis completed.
	AnalyzedAt time.Time `json:"analyzed_at"`

	// Complexity classifies the change.
	Complexity Complexity `json:"complexity"`

	// EstimatedHours is the estimated effort in hours.
	EstimatedHours float64 `json:"estimated_hours"`

	// AffectedFiles lists files the change is expected to touch, in order.
	AffectedFiles []AffectedFile `json:"affected_files,omitempty"`

	// RequiredChanges lists the changes the analysis calls for.
	RequiredChanges []RequiredChange `json:"required_changes,omitempty"`

	// Impact records breaking-change, migration and dependency consequences.
	Impact TechnicalImpact `json:"impact"`

	// Risks lists identified risks with severity and mitigation.
	Risks []Risk `json:"risks,omitempty"`

	// Opportunities lists improvements beyond the ticket's ask.
	Opportunities []Opportunity `json:"opportunities,omitempty"`

	// Plan is the ordered implementation plan.
	Plan []ImplementationStep `json:"plan,omitempty"`

	// ValidationCriteria lists conditions the implementation must satisfy.
	ValidationCriteria []ValidationCriterion `json:"validation_criteria,omitempty"`
}

// Validate checks structural invariants of the analysis. Plan orders must
// form a dense ascending sequence starting at 1 when the plan is non-empty.
func (r *AnalysisResult) Validate() error {
	if err := ValidateTicketKey(r.TicketKey); err != nil {
		return err
	}
	if !r.Complexity.IsValid() {
		return fmt.Errorf("unknown complexity %q", r.Complexity)
	}
	for i, step := range r.Plan {
		if step.Order != i+1 {
			return fmt.Errorf("plan step %d has order %d, want %d", i, step.Order, i+1)
		}
	}
	return nil
}

// ImplementationStatus is the outcome state of an implementation run.
type ImplementationStatus string

const (
	// StatusInProgress indicates the implementation is still running.
	StatusInProgress ImplementationStatus = "in_progress"
	// StatusCompleted indicates build and tests succeeded.
	StatusCompleted ImplementationStatus = "completed"
	// StatusBuildFailed indicates the build failed.
	StatusBuildFailed ImplementationStatus = "build_failed"
	// StatusTestFailed indicates the build succeeded but tests failed.
	StatusTestFailed ImplementationStatus = "test_failed"
	// StatusFailed indicates the run failed outside build or test.
	StatusFailed ImplementationStatus = "failed"
)

// String returns the string representation of the status.
func (s ImplementationStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known implementation status.
func (s ImplementationStatus) IsValid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusBuildFailed, StatusTestFailed, StatusFailed:
		return true
	default:
		return false
	}
}

// FileChange records a file touched by the implementation with its
// line-level stats.
type FileChange struct {
	// Path is the repo-relative file path.
	Path string `json:"path"`

	// LinesAdded is the number of lines added.
	LinesAdded int `json:"lines_added"`

	// LinesRemoved is the number of lines removed.
	LinesRemoved int `json:"lines_removed"`
}

// BuildResult is the build sub-result of an implementation run.
type BuildResult struct {
	// Success is true when the build completed without errors.
	Success bool `json:"success"`

	// Errors holds build error strings verbatim. Error codes are never
	// altered or truncated; the report renders them as-is.
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the test sub-result of an implementation run.
type TestResult struct {
	// Total is the number of tests run.
	Total int `json:"total"`

	// Passed is the number of tests that passed.
	Passed int `json:"passed"`

	// Failed is the number of tests that failed.
	Failed int `json:"failed"`

	// Coverage is the code-coverage fraction in [0,1], when measured.
	Coverage *float64 `json:"coverage,omitempty"`
}

// PullRequest links an implementation run to the pull request it opened.
type PullRequest struct {
	// URL is the web URL of the pull request.
	URL string `json:"url"`

	// Number is the pull request number.
	Number int `json:"number"`
}

// ImplementationResult is the structured output of the implementation,
// build and test phases. Fields fill in incrementally as the run
// progresses; the report renderer reads a fully-populated instance at
// run completion.
type ImplementationResult struct {
	// TicketKey identifies the ticket this run belongs to.
	TicketKey string `json:"ticket_key"`

	// Branch is the branch the change was committed to.
	Branch string `json:"branch"`

	// Status is the outcome state of the run.
	Status ImplementationStatus `json:"status"`

	// StartedAt is when the implementation started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CreatedFiles lists files the implementation created.
	CreatedFiles []FileChange `json:"created_files,omitempty"`

	// ModifiedFiles lists files the implementation modified.
	ModifiedFiles []FileChange `json:"modified_files,omitempty"`

	// Build is the build sub-result, when a build ran.
	Build *BuildResult `json:"build,omitempty"`

	// Tests is the test sub-result, when tests ran.
	Tests *TestResult `json:"tests,omitempty"`

	// Errors holds implementation-level error messages such as
	// collaborator failures or guard rejections. Non-empty errors
	// force failure.
	Errors []string `json:"errors,omitempty"`

	// PullRequest links to the opened pull request, when one exists.
	PullRequest *PullRequest `json:"pull_request,omitempty"`
}

// Duration returns the elapsed time of the run and true when
// CompletedAt is set. There is no synthetic zero value: an incomplete
// run has no duration.
func (r *ImplementationResult) Duration() (time.Duration, bool) {
	if r.CompletedAt == nil {
		return 0, false
	}
	return r.CompletedAt.Sub(r.StartedAt), true
}

// IsSuccess reports whether the run succeeded: status is completed, the
// error list is empty, the build sub-result (if present) succeeded, and
// the test sub-result (if present) has no failures. A missing
// sub-result is treated as satisfied.
func (r *ImplementationResult) IsSuccess() bool {
	if r.Status != StatusCompleted {
		return false
	}
	if len(r.Errors) > 0 {
		return false
	}
	if r.Build != nil && !r.Build.Success {
		return false
	}
	if r.Tests != nil && r.Tests.Failed > 0 {
		return false
	}
	return true
}
