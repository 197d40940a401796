package app

import (
	"strings"
	"time"
)

// Operation describes one CLI invocation of the agent. Its RunID tags every
// log line written during the invocation.
type Operation struct {
	RunID      string
	Name       string
	Parameters string
	StartedAt  time.Time
	Status     string // "success" or "error"
}

// NewOperation creates an operation that started at now.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		RunID:      now.UTC().Format("20060102T150405Z") + "-" + strings.ToLower(name),
		Name:       name,
		Parameters: parameters,
		StartedAt:  now,
		Status:     "success",
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Elapsed returns how long the operation has been running at now.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
