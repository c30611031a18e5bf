package workflow

import (
	"fmt"
	"math"
	"strings"
)

// Report rendering for tracker comments. Both formatters are pure
// functions of their input: the same result always renders to
// byte-identical markdown, since the output is posted verbatim to the
// tracker and asserted against in tests.

const (
	analysisHeader          = "## Ticket Analysis"
	awaitingApprovalMarker  = "*Awaiting approval before implementation begins.*"
	implementationCompleted = "## Implementation Completed"
	implementationFailed    = "## Implementation Failed"
)

// FormatAnalysis renders an analysis result as a tracker comment. A
// minimal result still produces a well-formed report with the header
// and the awaiting-approval marker; optional sections appear only when
// their source list is non-empty.
func FormatAnalysis(result *AnalysisResult) string {
	var sb strings.Builder

	sb.WriteString(analysisHeader + "\n\n")
	fmt.Fprintf(&sb, "**Ticket:** %s\n", result.TicketKey)
	fmt.Fprintf(&sb, "**Complexity:** %s\n", result.Complexity.String())
	fmt.Fprintf(&sb, "**Estimated effort:** %.1f hours\n", result.EstimatedHours)

	if len(result.AffectedFiles) > 0 {
		sb.WriteString("\n### Affected Files\n\n")
		for _, f := range result.AffectedFiles {
			fmt.Fprintf(&sb, "- `%s` (%s)\n", f.Path, string(f.Kind))
		}
	}

	if len(result.RequiredChanges) > 0 {
		sb.WriteString("\n### Required Changes\n\n")
		for _, c := range result.RequiredChanges {
			fmt.Fprintf(&sb, "- **%s** (%s): %s\n", c.Component, string(c.Category), c.Description)
		}
	}

	if result.Impact.HasBreakingChanges || result.Impact.RequiresMigration || len(result.Impact.NewDependencies) > 0 {
		sb.WriteString("\n### Technical Impact\n\n")
		if result.Impact.HasBreakingChanges {
			sb.WriteString("- ⚠️ Contains breaking changes\n")
		}
		if result.Impact.RequiresMigration {
			sb.WriteString("- Migration required\n")
		}
		if len(result.Impact.NewDependencies) > 0 {
			fmt.Fprintf(&sb, "- New dependencies: %s\n", strings.Join(result.Impact.NewDependencies, ", "))
		}
	}

	if len(result.Risks) > 0 {
		sb.WriteString("\n### Risks\n\n")
		for _, r := range result.Risks {
			fmt.Fprintf(&sb, "- [%s] %s", strings.ToUpper(string(r.Severity)), r.Description)
			if r.Mitigation != "" {
				fmt.Fprintf(&sb, " (mitigation: %s)", r.Mitigation)
			}
			sb.WriteString("\n")
		}
	}

	if len(result.Opportunities) > 0 {
		sb.WriteString("\n### Opportunities\n\n")
		for _, o := range result.Opportunities {
			sb.WriteString("- ")
			if o.Type != "" {
				fmt.Fprintf(&sb, "(%s) ", o.Type)
			}
			sb.WriteString(o.Description + "\n")
		}
	}

	if len(result.Plan) > 0 {
		sb.WriteString("\n### Implementation Plan\n\n")
		for _, step := range result.Plan {
			// Numbered by the step's own order, not list position.
			fmt.Fprintf(&sb, "%d. %s\n", step.Order, step.Description)
		}
	}

	if len(result.ValidationCriteria) > 0 {
		sb.WriteString("\n### Validation Criteria\n\n")
		for _, c := range result.ValidationCriteria {
			fmt.Fprintf(&sb, "- [ ] %s", c.Description)
			if c.Type != "" {
				fmt.Fprintf(&sb, " (%s)", string(c.Type))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n---\n" + awaitingApprovalMarker + "\n")
	return sb.String()
}

// FormatImplementationSummary renders an implementation result as a
// tracker comment. The header reflects the aggregated verdict; build
// error strings render verbatim since they carry compiler error codes.
func FormatImplementationSummary(result *ImplementationResult) string {
	var sb strings.Builder

	verdict := Aggregate(result)
	if verdict == VerdictSuccess && result.Status == StatusCompleted {
		sb.WriteString(implementationCompleted + "\n\n")
	} else {
		sb.WriteString(implementationFailed + "\n\n")
	}

	fmt.Fprintf(&sb, "**Ticket:** %s\n", result.TicketKey)
	fmt.Fprintf(&sb, "**Branch:** %s\n", result.Branch)
	fmt.Fprintf(&sb, "**Status:** %s\n", result.Status.String())
	if d, ok := result.Duration(); ok {
		fmt.Fprintf(&sb, "**Duration:** %d minutes\n", int(d.Minutes()))
	}

	fmt.Fprintf(&sb, "\n**Files created:** %d\n", len(result.CreatedFiles))
	fmt.Fprintf(&sb, "**Files modified:** %d\n", len(result.ModifiedFiles))

	if result.Build != nil {
		sb.WriteString("\n### Build\n\n")
		if result.Build.Success {
			sb.WriteString("✅ Build succeeded\n")
		} else {
			sb.WriteString("❌ Build failed\n")
			for _, e := range result.Build.Errors {
				fmt.Fprintf(&sb, "- %s\n", e)
			}
		}
	}

	if result.Tests != nil {
		sb.WriteString("\n### Tests\n\n")
		fmt.Fprintf(&sb, "%d/%d tests passed\n", result.Tests.Passed, result.Tests.Total)
		if result.Tests.Failed > 0 {
			fmt.Fprintf(&sb, "❌ %d tests failed\n", result.Tests.Failed)
		}
		if result.Tests.Coverage != nil {
			fmt.Fprintf(&sb, "Coverage: %d%%\n", coveragePercent(*result.Tests.Coverage))
		}
	}

	if len(result.Errors) > 0 {
		sb.WriteString("\n### Errors\n\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}

	if result.PullRequest != nil && result.PullRequest.Number > 0 {
		sb.WriteString("\n### Pull Request\n\n")
		fmt.Fprintf(&sb, "[PR #%d](%s)\n", result.PullRequest.Number, result.PullRequest.URL)
	}

	return sb.String()
}

// coveragePercent converts a coverage fraction to a whole percentage.
// The fraction is rounded to the nearest percent, so 0.85 renders as 85
// and 0.856 as 86.
func coveragePercent(fraction float64) int {
	return int(math.Round(fraction * 100))
}
