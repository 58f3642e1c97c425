package app

import "time"

// Operation tracks one CLI invocation for the log. Its ID tags every log
// line written while it runs.
type Operation struct {
	ID         string
	Command    string
	Parameters string
	StartedAt  time.Time
	Status     string // "running", "success" or "error"
	Err        error
}

// NewOperation starts an operation at now. The ID is the UTC start time.
func NewOperation(command, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         now.UTC().Format("20060102T150405Z"),
		Command:    command,
		Parameters: parameters,
		StartedAt:  now,
		Status:     "running",
	}
}

// Finish records the outcome of the operation. Only the first call counts.
func (op *Operation) Finish(err error) {
	if op.Finished() {
		return
	}
	op.Err = err
	op.Status = "success"
	if err != nil {
		op.Status = "error"
	}
}

// Finished returns true once an outcome has been recorded.
func (op *Operation) Finished() bool {
	return op.Status != "running"
}
