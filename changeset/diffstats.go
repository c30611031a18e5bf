package changeset

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/c360studio/ticketflow/workflow"
)

// DiffStats parses a unified diff and returns per-file line stats,
// split into created and modified files. Changed hunk lines count as
// both an addition and a removal.
func DiffStats(unified []byte) (created, modified []workflow.FileChange, err error) {
	fileDiffs, err := diff.ParseMultiFileDiff(unified)
	if err != nil {
		return nil, nil, fmt.Errorf("parse diff: %w", err)
	}

	for _, fd := range fileDiffs {
		stat := fd.Stat()
		change := workflow.FileChange{
			Path:         diffPath(fd),
			LinesAdded:   int(stat.Added + stat.Changed),
			LinesRemoved: int(stat.Deleted + stat.Changed),
		}
		if fd.OrigName == "/dev/null" {
			created = append(created, change)
		} else {
			modified = append(modified, change)
		}
	}
	return created, modified, nil
}

// diffPath returns the repo-relative path of a file diff, preferring
// the post-image name and stripping the a/ b/ prefixes git adds.
func diffPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}
