package workflow

// Verdict is the aggregated outcome of an implementation run.
type Verdict string

const (
	// VerdictSuccess indicates everything passed.
	VerdictSuccess Verdict = "success"
	// VerdictBuildFailure indicates the build failed.
	VerdictBuildFailure Verdict = "build_failure"
	// VerdictTestFailure indicates tests failed.
	VerdictTestFailure Verdict = "test_failure"
	// VerdictExplicitFailure indicates the run recorded errors outside
	// build and test.
	VerdictExplicitFailure Verdict = "explicit_failure"
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	return string(v)
}

// IsFailure returns true for any verdict other than success.
func (v Verdict) IsFailure() bool {
	return v != VerdictSuccess
}

// Aggregate computes the overall verdict from an implementation run's
// sub-results. The first matching rule wins, in this order: explicit
// errors, then build failure, then test failure. A failed build takes
// priority over test data so stale test counts from an earlier attempt
// cannot mask it. Missing sub-results never force failure.
func Aggregate(result *ImplementationResult) Verdict {
	if len(result.Errors) > 0 {
		return VerdictExplicitFailure
	}
	if result.Build != nil && !result.Build.Success {
		return VerdictBuildFailure
	}
	if result.Tests != nil && result.Tests.Failed > 0 {
		return VerdictTestFailure
	}
	return VerdictSuccess
}

// StatusForVerdict maps the verdict to the implementation status stored
// on the result.
func StatusForVerdict(v Verdict) ImplementationStatus {
	switch v {
	case VerdictSuccess:
		return StatusCompleted
	case VerdictBuildFailure:
		return StatusBuildFailed
	case VerdictTestFailure:
		return StatusTestFailed
	default:
		return StatusFailed
	}
}
