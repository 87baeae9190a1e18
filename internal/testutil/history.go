package testutil

import (
	"fmt"
	"sync"

	"sg-go/internal/sg"
)

// MemoryHistory is an in-memory operations journal.
type MemoryHistory struct {
	mu    sync.Mutex
	clock sg.Clock
	ops   []*sg.Operation
}

func NewMemoryHistory(clock sg.Clock) *MemoryHistory {
	return &MemoryHistory{clock: clock}
}

func (h *MemoryHistory) Start(kind, parameters string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	op := &sg.Operation{
		ID:         int64(len(h.ops) + 1),
		Kind:       kind,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  h.clock.Now(),
	}
	h.ops = append(h.ops, op)
	return op.ID, nil
}

func (h *MemoryHistory) Finish(id int64, status, detail string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id < 1 || int(id) > len(h.ops) {
		return fmt.Errorf("%w: operation %d", sg.ErrNotFound, id)
	}
	op := h.ops[id-1]
	now := h.clock.Now()
	op.Status, op.Detail, op.FinishedAt = status, detail, &now
	return nil
}

func (h *MemoryHistory) Recent(limit int) ([]*sg.Operation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*sg.Operation
	for i := len(h.ops) - 1; i >= 0 && len(out) < limit; i-- {
		op := *h.ops[i]
		out = append(out, &op)
	}
	return out, nil
}

func (h *MemoryHistory) Close() error { return nil }

var _ sg.History = (*MemoryHistory)(nil)
