package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNoChunks marks a full reindex that produced zero parseable
	// chunks. Nothing to index is an error for that task type.
	ErrNoChunks = errors.New("no parseable chunks found")

	// ErrTaskActive is matched by errors.Is against *TaskActiveError.
	ErrTaskActive = errors.New("a task is already active for this repository")
)

// TaskActiveError rejects a submission while another task is non-terminal.
// It carries the existing task's id so callers can watch that one instead.
type TaskActiveError struct {
	ExistingTaskID string
}

func (e *TaskActiveError) Error() string {
	return fmt.Sprintf("a task is already active for this repository (task %s)", e.ExistingTaskID)
}

func (e *TaskActiveError) Is(target error) bool {
	return target == ErrTaskActive
}
