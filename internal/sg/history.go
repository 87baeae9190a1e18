package sg

import "time"

// Operation is one journaled orchestrator operation.
type Operation struct {
	ID         int64
	Kind       string
	Parameters string
	Status     string // "running", "success" or "error"
	Detail     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// History is the operations journal.
type History interface {
	Start(kind, parameters string) (int64, error)
	Finish(id int64, status, detail string) error
	Recent(limit int) ([]*Operation, error)
	Close() error
}

// NopHistory records nothing.
type NopHistory struct{}

func (NopHistory) Start(string, string) (int64, error) { return 0, nil }
func (NopHistory) Finish(int64, string, string) error  { return nil }
func (NopHistory) Recent(int) ([]*Operation, error)    { return nil, nil }
func (NopHistory) Close() error                        { return nil }
