package testutil

import (
	"fmt"
	"sync"
	"time"
)

// saveTime is the instant FixedClock starts at. Snapshot IDs stamped at
// this time begin with "20240115_103000_000".
var saveTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// Clock is a hand-driven sg.Clock. Safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// FixedClock returns a Clock stopped at saveTime.
func FixedClock() *Clock {
	return &Clock{now: saveTime}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock by d. Negative values rewind it.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sequence hands out transaction IDs "<prefix>-0001", "<prefix>-0002", ...
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}
