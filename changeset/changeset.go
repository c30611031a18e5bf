// Package changeset models the raw change set returned by the AI
// collaborator and applies it to a repository checkout. Edits are
// whole-file operations; a guard list of glob patterns protects paths
// the run must not touch.
package changeset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Sentinel errors for change set operations.
var (
	ErrEmptyChangeSet = errors.New("change set has no edits")
	ErrGuardedPath    = errors.New("path matches a do-not-touch pattern")
	ErrUnsafePath     = errors.New("path escapes the repository root")
)

// Op is what an edit does to its file.
type Op string

const (
	// OpCreate writes a new file.
	OpCreate Op = "create"
	// OpModify replaces an existing file's content.
	OpModify Op = "modify"
	// OpDelete removes a file.
	OpDelete Op = "delete"
)

// IsValid returns true if the op is known.
func (o Op) IsValid() bool {
	switch o {
	case OpCreate, OpModify, OpDelete:
		return true
	default:
		return false
	}
}

// FileEdit is one whole-file operation of a change set.
type FileEdit struct {
	// Path is the repo-relative file path.
	Path string `json:"path"`

	// Op is what happens to the file.
	Op Op `json:"op"`

	// Content is the complete new file content. Empty for deletes.
	Content string `json:"content,omitempty"`
}

// ChangeSet is the AI collaborator's proposed change for one ticket.
type ChangeSet struct {
	// TicketKey identifies the ticket the change belongs to.
	TicketKey string `json:"ticket_key"`

	// Summary is a one-line description used as the commit subject.
	Summary string `json:"summary"`

	// Edits are the file operations, applied in order.
	Edits []FileEdit `json:"edits"`
}

// Validate checks the change set's structure and rejects edits that
// escape the repository or touch guarded paths. Guard patterns use
// doublestar globs, e.g. "vendor/**" or "**/*.lock".
func (cs *ChangeSet) Validate(guardPatterns []string) error {
	if len(cs.Edits) == 0 {
		return ErrEmptyChangeSet
	}
	for i, edit := range cs.Edits {
		if edit.Path == "" {
			return fmt.Errorf("edit %d: path is empty", i)
		}
		if !edit.Op.IsValid() {
			return fmt.Errorf("edit %d (%s): unknown op %q", i, edit.Path, string(edit.Op))
		}
		if edit.Op != OpDelete && edit.Content == "" {
			return fmt.Errorf("edit %d (%s): %s needs content", i, edit.Path, string(edit.Op))
		}
		if err := checkPath(edit.Path); err != nil {
			return fmt.Errorf("edit %d: %w", i, err)
		}
		for _, pattern := range guardPatterns {
			matched, err := doublestar.Match(pattern, edit.Path)
			if err != nil {
				return fmt.Errorf("bad guard pattern %q: %w", pattern, err)
			}
			if matched {
				return fmt.Errorf("%w: %s matches %q", ErrGuardedPath, edit.Path, pattern)
			}
		}
	}
	return nil
}

// Apply writes the edits into the repository checkout. Validate first;
// Apply assumes a vetted change set.
func (cs *ChangeSet) Apply(repoRoot string) error {
	for _, edit := range cs.Edits {
		target := filepath.Join(repoRoot, filepath.FromSlash(edit.Path))
		switch edit.Op {
		case OpDelete:
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", edit.Path, err)
			}
		case OpCreate, OpModify:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create directory for %s: %w", edit.Path, err)
			}
			if err := os.WriteFile(target, []byte(edit.Content), 0644); err != nil {
				return fmt.Errorf("write %s: %w", edit.Path, err)
			}
		}
	}
	return nil
}

// checkPath rejects absolute paths and path traversal.
func checkPath(path string) error {
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %s is absolute", ErrUnsafePath, path)
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}
	return nil
}
