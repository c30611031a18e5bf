// Package aigen is the AI-generation collaborator: it turns a ticket
// into a structured analysis and an approved analysis into a raw change
// set. The model is an opaque, slow, fallible black box; everything
// here is prompt construction and response parsing.
package aigen

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/ticketflow/changeset"
	"github.com/c360studio/ticketflow/tracker"
	"github.com/c360studio/ticketflow/workflow"
)

// Analyzer produces a structured analysis for a ticket.
type Analyzer interface {
	Analyze(ctx context.Context, ticket *tracker.Ticket) (*workflow.AnalysisResult, error)
}

// Implementer produces a raw change set for an approved analysis.
type Implementer interface {
	Implement(ctx context.Context, ticket *tracker.Ticket, analysis *workflow.AnalysisResult) (*changeset.ChangeSet, error)
}

// analysisPrompt renders the analysis request for a ticket.
func analysisPrompt(ticket *tracker.Ticket) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following ticket and respond with a single JSON object.\n\n")
	fmt.Fprintf(&sb, "Ticket: %s\nTitle: %s\n", ticket.Key, ticket.Title)
	if len(ticket.Labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n", strings.Join(ticket.Labels, ", "))
	}
	fmt.Fprintf(&sb, "\nDescription:\n%s\n\n", ticket.Description)
	sb.WriteString(`Respond with JSON matching this shape:
{
  "complexity": "low|medium|high|very_high",
  "estimated_hours": 2.5,
  "affected_files": [{"path": "...", "kind": "create|modify|delete"}],
  "required_changes": [{"component": "...", "description": "...", "category": "controller|service|model|other"}],
  "impact": {"has_breaking_changes": false, "requires_migration": false, "new_dependencies": []},
  "risks": [{"description": "...", "severity": "low|medium|high|critical", "mitigation": "..."}],
  "opportunities": [{"description": "...", "type": "..."}],
  "plan": [{"order": 1, "description": "..."}],
  "validation_criteria": [{"description": "...", "type": "unit_test|manual_test|other"}]
}
Output only the JSON object.`)
	return sb.String()
}

// implementPrompt renders the implementation request for an approved
// analysis.
func implementPrompt(ticket *tracker.Ticket, analysis *workflow.AnalysisResult) string {
	var sb strings.Builder
	sb.WriteString("Implement the change described below and respond with a single JSON object.\n\n")
	fmt.Fprintf(&sb, "Ticket: %s\nTitle: %s\n\nDescription:\n%s\n", ticket.Key, ticket.Title, ticket.Description)
	if len(analysis.Plan) > 0 {
		sb.WriteString("\nApproved plan:\n")
		for _, step := range analysis.Plan {
			fmt.Fprintf(&sb, "%d. %s\n", step.Order, step.Description)
		}
	}
	sb.WriteString(`
Respond with JSON matching this shape:
{
  "summary": "one-line commit subject",
  "edits": [{"path": "...", "op": "create|modify|delete", "content": "full file content"}]
}
Every create or modify edit must carry the complete new file content. Output only the JSON object.`)
	return sb.String()
}

// normalizePlan rewrites plan orders into a dense ascending sequence
// starting at 1, preserving the model's intended ordering.
func normalizePlan(plan []workflow.ImplementationStep) {
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Order < plan[j].Order })
	for i := range plan {
		plan[i].Order = i + 1
	}
}
