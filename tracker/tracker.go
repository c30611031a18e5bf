// Package tracker defines the narrow interface to the external ticket
// tracker. The workflow engine fetches ticket context through it before
// analysis and posts rendered reports back through it; transport and
// auth belong to the implementations.
package tracker

import (
	"context"
	"fmt"
	"time"
)

// Ticket is the tracker-agnostic view of a tracked work item.
type Ticket struct {
	// Key is the tracker key, e.g. "PROJ-123".
	Key string `json:"key"`

	// Title is the ticket summary line.
	Title string `json:"title"`

	// Description is the full ticket body.
	Description string `json:"description"`

	// Status is the tracker-side status name, verbatim.
	Status string `json:"status"`

	// Labels are the tracker labels on the ticket.
	Labels []string `json:"labels,omitempty"`

	// Assignee is the login of the assigned user, empty when unassigned.
	Assignee string `json:"assignee,omitempty"`

	// URL is the web URL of the ticket.
	URL string `json:"url,omitempty"`

	// UpdatedAt is the tracker-side last-modified time.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NotFoundError indicates the tracker has no ticket with the given key.
type NotFoundError struct {
	Key string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ticket %s not found", e.Key)
}

// Client is the ticket tracker collaborator. Implementations must be
// safe for concurrent use.
type Client interface {
	// FetchTicket loads the ticket with the given key. Returns a
	// *NotFoundError when the tracker has no such ticket.
	FetchTicket(ctx context.Context, key string) (*Ticket, error)

	// PostComment posts a comment on the ticket. The text is posted
	// verbatim; rendered reports must not be altered in transit.
	PostComment(ctx context.Context, key string, text string) error

	// Search returns tickets matching a tracker-native query string.
	Search(ctx context.Context, query string) ([]*Ticket, error)
}
