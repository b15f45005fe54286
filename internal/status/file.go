package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moby/sys/atomicwriter"
)

// FileWriter overwrites a single JSON file with every Record.
type FileWriter struct {
	path string
}

// NewFileWriter writes to path; the directory must already exist.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Path returns the destination file.
func (w *FileWriter) Path() string {
	return w.path
}

// Publish replaces the file atomically so readers never see a partial record.
func (w *FileWriter) Publish(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := atomicwriter.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
