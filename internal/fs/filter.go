package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FilterFileName is the per-user pattern file read by LoadFilter.
const FilterFileName = ".sgignore"

// builtinRules hide the pattern file and the artifacts of in-flight writes.
// They are evaluated first, so a user rule can still negate them.
var builtinRules = []string{FilterFileName, ".*.tmp", "*.old", "*.rollback_old", "backups/"}

type rule struct {
	glob    string
	negate  bool
	dirOnly bool // trailing '/': matches the directory and everything below it
	rooted  bool // has a '/': matched against the whole relative path
}

// Filter decides which files under a save directory are left alone by the
// watcher. Rules follow a small subset of gitignore: '#' comments, '!'
// negation, a trailing '/' for directories, and the last matching rule wins.
type Filter struct {
	rules []rule
}

// NewFilter compiles lines into a Filter. Malformed globs are dropped.
func NewFilter(lines []string) *Filter {
	f := &Filter{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var r rule
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			r.negate, line = true, rest
		}
		if rest, ok := strings.CutSuffix(line, "/"); ok {
			r.dirOnly, line = true, rest
		}
		if rest, ok := strings.CutPrefix(line, "/"); ok {
			r.rooted, line = true, rest
		}
		if line == "" {
			continue
		}
		if _, err := path.Match(line, ""); err != nil {
			continue
		}
		r.glob = line
		r.rooted = r.rooted || strings.Contains(line, "/")
		f.rules = append(f.rules, r)
	}
	return f
}

// Ignored reports whether rel, a path relative to the save directory, is
// excluded.
func (f *Filter) Ignored(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || strings.HasPrefix(rel, "../") {
		return false
	}
	ignored := false
	for _, r := range f.rules {
		if r.matches(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(rel string) bool {
	if r.dirOnly {
		// Any proper parent directory of rel.
		dirs := strings.Split(rel, "/")
		dirs = dirs[:len(dirs)-1]
		for i := range dirs {
			if r.matchOne(strings.Join(dirs[:i+1], "/"), dirs[i]) {
				return true
			}
		}
		return false
	}
	return r.matchOne(rel, path.Base(rel))
}

func (r rule) matchOne(full, base string) bool {
	target := base
	if r.rooted {
		target = full
	}
	ok, _ := path.Match(r.glob, target)
	return ok
}

// LoadFilter builds the Filter for dir: the built-in rules, then extra (from
// config), then dir/.sgignore.
func LoadFilter(dir string, extra []string) (*Filter, error) {
	fromFile, err := readRules(filepath.Join(dir, FilterFileName))
	if err != nil {
		return nil, err
	}
	lines := append(append(append([]string{}, builtinRules...), extra...), fromFile...)
	return NewFilter(lines), nil
}

// readRules returns the lines of a pattern file; a missing file has none.
func readRules(name string) ([]string, error) {
	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return lines, nil
}
