// Package catalog holds the reference tables (species, moves, abilities,
// natures, modifiers) that validation cross-checks documents against.
//
// A Catalog is loaded once and passed explicitly to whatever needs it.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Table maps numeric IDs to display names and back.
type Table struct {
	byID   map[int]string
	byName map[string]int
}

// NewTable builds a Table from an ID to name mapping.
func NewTable(names map[int]string) *Table {
	t := &Table{byID: make(map[int]string, len(names)), byName: make(map[string]int, len(names))}
	for id, name := range names {
		t.byID[id] = name
		t.byName[normalize(name)] = id
	}
	return t
}

// Name returns the display name of id.
func (t *Table) Name(id int) (string, bool) {
	if t == nil {
		return "", false
	}
	name, ok := t.byID[id]
	return name, ok
}

// ID returns the ID for a name, ignoring case and separators.
func (t *Table) ID(name string) (int, bool) {
	if t == nil {
		return 0, false
	}
	id, ok := t.byName[normalize(name)]
	return id, ok
}

// Len returns the number of entries. An empty table means the data was not
// available, so lookups against it should not be treated as failures.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byID)
}

// Known reports whether id is present. It is always true for an empty table.
func (t *Table) Known(id int) bool {
	if t.Len() == 0 {
		return true
	}
	_, ok := t.byID[id]
	return ok
}

func normalize(name string) string {
	r := strings.NewReplacer(" ", "_", "-", "_")
	return strings.ToLower(r.Replace(strings.TrimSpace(name)))
}

// Catalog is the full set of reference tables.
type Catalog struct {
	Species   *Table
	Moves     *Table
	Abilities *Table
	Natures   *Table
	Modifiers *Table

	globalModifiers map[string]bool
}

// Empty returns a catalog with no data. Validation against it skips every
// catalog lookup.
func Empty() *Catalog {
	return &Catalog{
		Species:         NewTable(nil),
		Moves:           NewTable(nil),
		Abilities:       NewTable(nil),
		Natures:         NewTable(nil),
		Modifiers:       NewTable(nil),
		globalModifiers: map[string]bool{},
	}
}

// WithGlobalModifiers marks modifier type IDs that apply to the whole run
// rather than a single party member.
func (c *Catalog) WithGlobalModifiers(typeIDs ...string) *Catalog {
	for _, id := range typeIDs {
		c.globalModifiers[id] = true
	}
	return c
}

// IsGlobalModifier reports whether modifiers of typeID never target a party
// member.
func (c *Catalog) IsGlobalModifier(typeID string) bool {
	return c.globalModifiers[typeID]
}

// tableFile is the on-disk layout of one table.
type tableFile struct {
	NameToID map[string]int    `json:"name_to_id"`
	IDToName map[string]string `json:"id_to_name"`
	Global   []string          `json:"global,omitempty"`
}

// Load reads every table from dir. A missing file yields an empty table; a
// file that exists but cannot be parsed is an error.
func Load(dir string) (*Catalog, error) {
	c := Empty()

	files := []struct {
		name  string
		table **Table
	}{
		{"species.json", &c.Species},
		{"moves.json", &c.Moves},
		{"abilities.json", &c.Abilities},
		{"natures.json", &c.Natures},
		{"modifiers.json", &c.Modifiers},
	}

	for _, f := range files {
		tf, err := readTableFile(filepath.Join(dir, f.name))
		if err != nil {
			return nil, err
		}
		if tf == nil {
			continue
		}
		names, err := tf.names()
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", f.name, err)
		}
		*f.table = NewTable(names)
		c.WithGlobalModifiers(tf.Global...)
	}

	return c, nil
}

func readTableFile(path string) (*tableFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	var tf tableFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}
	return &tf, nil
}

func (tf *tableFile) names() (map[int]string, error) {
	names := make(map[int]string, len(tf.IDToName)+len(tf.NameToID))
	for name, id := range tf.NameToID {
		names[id] = name
	}
	for raw, name := range tf.IDToName {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", raw, err)
		}
		names[id] = name
	}
	return names, nil
}
