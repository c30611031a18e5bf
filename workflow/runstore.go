package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RunFile is the file name a run record is stored under.
const RunFile = "run.json"

// Sentinel errors for run store operations.
var (
	ErrRunNotFound = errors.New("run not found")
)

// RunRecord is the persisted state of one workflow run. Only the state
// needed to resume the run and compute the final verdict is kept; event
// history is not persisted.
type RunRecord struct {
	// TicketKey is the tracker key the run belongs to.
	TicketKey string `json:"ticket_key"`

	// RequestID correlates the run across logs and events.
	RequestID string `json:"request_id,omitempty"`

	// Phase is the phase the run was last recorded in.
	Phase Phase `json:"phase"`

	// Branch is the working branch, once created.
	Branch string `json:"branch,omitempty"`

	// AutoApprove records whether this run skips the approval gate.
	AutoApprove bool `json:"auto_approve,omitempty"`

	// Analysis is the analysis result, once produced.
	Analysis *AnalysisResult `json:"analysis,omitempty"`

	// Implementation is the implementation result, once started.
	Implementation *ImplementationResult `json:"implementation,omitempty"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStore persists run records under {root}/runs/{TICKET-KEY}/run.json.
// Ticket keys are validated before use in paths.
type RunStore struct {
	root string
}

// NewRunStore creates a run store rooted at the given directory,
// typically ".ticketflow" inside the working repository.
func NewRunStore(root string) *RunStore {
	return &RunStore{root: root}
}

// RunPath returns the directory a ticket's run record lives in.
func (s *RunStore) RunPath(ticketKey string) string {
	return filepath.Join(s.root, "runs", ticketKey)
}

// Save writes the run record, creating directories as needed.
func (s *RunStore) Save(ctx context.Context, rec *RunRecord) error {
	if err := ValidateTicketKey(rec.TicketKey); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.UpdatedAt = time.Now().UTC()

	dir := s.RunPath(rec.TicketKey)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, RunFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}
	return nil
}

// Load reads the run record for a ticket.
func (s *RunStore) Load(ctx context.Context, ticketKey string) (*RunRecord, error) {
	if err := ValidateTicketKey(ticketKey); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.RunPath(ticketKey), RunFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, ticketKey)
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse run: %w", err)
	}
	return &rec, nil
}

// List returns all stored run records sorted by ticket key.
func (s *RunStore) List(ctx context.Context) ([]*RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var runs []*RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Load(ctx, entry.Name())
		if err != nil {
			// Skip directories that are not valid run records.
			continue
		}
		runs = append(runs, rec)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].TicketKey < runs[j].TicketKey })
	return runs, nil
}

// Delete removes a ticket's run record.
func (s *RunStore) Delete(ctx context.Context, ticketKey string) error {
	if err := ValidateTicketKey(ticketKey); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.RunPath(ticketKey)); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
