// Package output persists rendered artifacts.
package output

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

// Change describes what a write did to an artifact on disk.
type Change struct {
	Path      string
	Created   bool
	Unchanged bool
	Added     int
	Removed   int
}

// Writer replaces artifacts as whole files and logs how they changed.
type Writer struct {
	logger *log.Logger
}

// NewWriter creates a new Writer.
func NewWriter(logger *log.Logger) *Writer {
	return &Writer{logger: logger}
}

// Write replaces path with data. The new content is written to a temporary
// file next to path and renamed into place, so readers never see a partial file.
func (w *Writer) Write(path string, data []byte) (Change, error) {
	change := Change{Path: path}

	previous, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		change.Created = true
	case err != nil:
		return change, &domain.OutputError{Path: path, Err: err}
	}

	if !change.Created {
		change.Added, change.Removed = lineDelta(string(previous), string(data))
		change.Unchanged = change.Added == 0 && change.Removed == 0
	}

	if err := replaceFile(path, data); err != nil {
		return change, &domain.OutputError{Path: path, Err: err}
	}

	switch {
	case change.Created:
		w.logger.Printf("Created %s (%d bytes)", path, len(data))
	case change.Unchanged:
		w.logger.Printf("Rewrote %s, no changes", path)
	default:
		w.logger.Printf("Updated %s: +%d -%d lines", path, change.Added, change.Removed)
	}
	return change, nil
}

func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// lineDelta counts inserted and deleted lines between two versions of a file.
func lineDelta(from, to string) (added, removed int) {
	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToRunes(from, to)
	diffs := dmp.DiffMainRunes(src, dst, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}
