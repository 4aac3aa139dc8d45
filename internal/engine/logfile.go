package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// Logs manages the append-only log artifacts, one plain-text file per job id
// under the job's directory. Exactly one writer (the worker) appends while
// any number of readers open the file independently, so a reader can tail a
// job from the beginning at any point in its lifetime.
type Logs struct {
	dataDir string
}

// NewLogs creates the log manager rooted at dataDir.
func NewLogs(dataDir string) *Logs {
	return &Logs{dataDir: dataDir}
}

// Path returns the log file location for the given job id.
func (l *Logs) Path(jobID string) string {
	return filepath.Join(l.dataDir, "jobs", jobID, "job.log")
}

// Create makes the empty log file at submission time, so the log is tailable
// before the process produces its first byte.
func (l *Logs) Create(jobID string) (string, error) {
	path := l.Path(jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("create log: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close log: %w", err)
	}
	return path, nil
}

// OpenAppend opens the log for the single writer.
func (l *Logs) OpenAppend(jobID string) (*os.File, error) {
	f, err := os.OpenFile(l.Path(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log for append: %w", err)
	}
	return f, nil
}

// Open opens the log for reading from the beginning.
func (l *Logs) Open(jobID string) (*os.File, error) {
	f, err := os.Open(l.Path(jobID))
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return f, nil
}
