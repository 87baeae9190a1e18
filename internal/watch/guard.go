// Package watch re-checks save documents that change on disk, so edits made
// outside the orchestrator that leave a document unreadable or invalid are
// reported as soon as they land.
package watch

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sg-go/internal/document"
	"sg-go/internal/fs"
	"sg-go/internal/sg"
	"sg-go/internal/validate"
)

// DefaultDebounce is how long a document must stay quiet before it is checked.
const DefaultDebounce = 500 * time.Millisecond

// Status is the outcome of checking one document.
type Status string

const (
	StatusOK        Status = "ok"
	StatusWarnings  Status = "warnings"
	StatusInvalid   Status = "invalid"
	StatusCorrupted Status = "corrupted"
	StatusMissing   Status = "missing"
)

// Report describes the state of a document after a change.
type Report struct {
	Path      string
	Kind      validate.Kind
	Status    Status
	Result    validate.Result
	Err       error
	CheckedAt time.Time
}

// Healthy reports whether the document can be loaded and saved as is.
func (r Report) Healthy() bool {
	return r.Status == StatusOK || r.Status == StatusWarnings
}

// Guard watches one user directory.
type Guard struct {
	layout    sg.Layout
	validator sg.Validator
	ignore    *fs.Filter
	clock     sg.Clock
	logger    sg.Logger
	debounce  time.Duration

	reports chan Report

	mu       sync.Mutex
	pending  map[string]*time.Timer
	inflight sync.WaitGroup
}

// NewGuard creates a guard. A nil ignore matcher ignores nothing; a
// non-positive debounce uses DefaultDebounce.
func NewGuard(layout sg.Layout, validator sg.Validator, ignore *fs.Filter, clock sg.Clock, logger sg.Logger, debounce time.Duration) *Guard {
	if ignore == nil {
		ignore = fs.NewFilter(nil)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Guard{
		layout:    layout,
		validator: validator,
		ignore:    ignore,
		clock:     clock,
		logger:    logger,
		debounce:  debounce,
		reports:   make(chan Report, 16),
		pending:   make(map[string]*time.Timer),
	}
}

// Reports delivers one Report per settled change. It is closed when Run
// returns. Reports are dropped, and logged, if nobody is reading.
func (g *Guard) Reports() <-chan Report {
	return g.reports
}

// Check reads and validates the document at path.
func (g *Guard) Check(path string) Report {
	r := Report{Path: path, Kind: g.layout.KindOf(path), CheckedAt: g.clock.Now()}

	doc, err := document.ReadFile(path)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		r.Status, r.Err = StatusMissing, err
		return r
	case err != nil:
		r.Status, r.Err = StatusCorrupted, err
		return r
	}

	r.Result = g.validator.Validate(doc, r.Kind)
	switch {
	case !r.Result.Valid:
		r.Status = StatusInvalid
	case r.Result.HasWarnings():
		r.Status = StatusWarnings
	default:
		r.Status = StatusOK
	}
	return r
}

// CheckAll checks every document in the layout that exists.
func (g *Guard) CheckAll() []Report {
	var out []Report
	for _, p := range g.layout.DocumentPaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		out = append(out, g.Check(p))
	}
	return out
}

// Run watches the user directory until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	defer close(g.reports)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := g.layout.UserDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	g.logger.Info("watching documents", "dir", dir, "debounce", g.debounce)

	defer func() {
		g.stopTimers()
		g.inflight.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !g.relevant(event) {
				continue
			}
			g.schedule(ctx, event.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			g.logger.Warn("watcher error", "error", err)
		}
	}
}

func (g *Guard) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	rel, err := filepath.Rel(g.layout.UserDir(), event.Name)
	if err != nil || g.ignore.Ignored(rel) {
		return false
	}
	for _, p := range g.layout.DocumentPaths() {
		if filepath.Clean(event.Name) == p {
			return true
		}
	}
	return false
}

// schedule (re)starts the debounce timer for path. Every timer holds one
// inflight count, released by its func or by whoever stops it first.
func (g *Guard) schedule(ctx context.Context, path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.pending[path]; ok && prev.Stop() {
		g.inflight.Done()
	}
	g.inflight.Add(1)
	var t *time.Timer
	t = time.AfterFunc(g.debounce, func() {
		defer g.inflight.Done()
		g.mu.Lock()
		if g.pending[path] == t {
			delete(g.pending, path)
		}
		g.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		g.emit(g.Check(path))
	})
	g.pending[path] = t
}

func (g *Guard) stopTimers() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for path, t := range g.pending {
		if t.Stop() {
			g.inflight.Done()
		}
		delete(g.pending, path)
	}
}

func (g *Guard) emit(r Report) {
	args := []any{"path", r.Path, "status", r.Status}
	switch {
	case r.Err != nil:
		g.logger.Error("document unreadable after external change", append(args, "error", r.Err)...)
	case !r.Healthy():
		g.logger.Warn("document invalid after external change", append(args, "issues", r.Result.Summary())...)
	default:
		g.logger.Debug("document checked", args...)
	}

	select {
	case g.reports <- r:
	default:
		g.logger.Warn("dropping watch report, reader is behind", "path", r.Path)
	}
}
