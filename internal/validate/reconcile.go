package validate

import (
	"sg-go/internal/document"
)

// fieldDefaults holds the value a field falls back to when it is invalid and
// the original document has no usable value either.
var fieldDefaults = map[string]func() *document.Value{
	"level":          func() *document.Value { return document.Int(1) },
	"lvl":            func() *document.Value { return document.Int(1) },
	"friendship":     zero,
	"luck":           zero,
	"nature":         zero,
	"abilityId":      zero,
	"hp":             func() *document.Value { return document.Int(1) },
	"exp":            zero,
	"money":          zero,
	"shiny":          func() *document.Value { return document.Bool(false) },
	"passive":        func() *document.Value { return document.Bool(false) },
	"pokerus":        func() *document.Value { return document.Bool(false) },
	"nickname":       func() *document.Value { return document.Str("") },
	"ivs":            func() *document.Value { return document.Array(zero(), zero(), zero(), zero(), zero(), zero()) },
	"seenCount":      zero,
	"caughtCount":    zero,
	"hatchedCount":   zero,
	"candyCount":     zero,
	"abilityAttr":    zero,
	"passiveAttr":    zero,
	"valueReduction": zero,
	"stackCount":     zero,
	"wave":           zero,
	"currentWave":    zero,
	"waveIndex":      zero,
}

// elementDefaults holds the fallback for one element of a list field.
var elementDefaults = map[string]func() *document.Value{
	"ivs":     zero,
	"moveset": zero,
	"moves":   zero,
	"moveIds": zero,
}

func zero() *document.Value { return document.Int(0) }

// Correction records one field changed by Reconcile.
type Correction struct {
	Path   string
	From   *document.Value
	To     *document.Value
	Source string // "original" or "default"
}

// Draft pairs an unmodified snapshot of a document with a working copy that
// an editor changes freely. Reconcile repairs the working copy before it is
// saved.
type Draft struct {
	Original *document.Value
	Working  *document.Value
	Kind     Kind
}

// NewDraft starts a draft whose working copy is a deep copy of original.
func NewDraft(original *document.Value, kind Kind) *Draft {
	return &Draft{Original: original, Working: original.Clone(), Kind: kind}
}

// Reconcile validates the working copy and reverts every field flagged with
// an Error to its value in the original document, or to the field default
// when the original has no valid value. It returns the corrections made and
// the validation result of the repaired working copy.
func (d *Draft) Reconcile(v *Validator) ([]Correction, Result) {
	res := v.Validate(d.Working, d.Kind)
	if res.Valid || !d.Working.IsObject() {
		return nil, res
	}

	flagged := map[string]bool{}
	for _, issue := range v.Validate(d.Original, d.Kind).Errors() {
		flagged[issue.Path] = true
	}

	var corrections []Correction
	for _, issue := range res.Errors() {
		at, err := document.ParsePath(issue.Path)
		if err != nil || len(at) == 0 || issue.Path == "root" {
			continue
		}
		current, ok := d.Working.Lookup(at)
		if !ok {
			continue
		}

		replacement, source := d.fallback(at, flagged[issue.Path])
		if replacement == nil || replacement.Equal(current) {
			continue
		}
		if err := d.Working.SetPath(at, replacement); err != nil {
			continue
		}
		corrections = append(corrections, Correction{
			Path:   issue.Path,
			From:   current,
			To:     replacement,
			Source: source,
		})
	}

	return corrections, v.Validate(d.Working, d.Kind)
}

// fallback picks the original value at the path when the original passes
// validation there, else the rule default.
func (d *Draft) fallback(at document.Path, flaggedInOriginal bool) (*document.Value, string) {
	if orig, ok := d.Original.Lookup(at); ok && !flaggedInOriginal {
		return orig.Clone(), "original"
	}

	last, _ := at.Last()
	table := fieldDefaults
	if last.IsIndex {
		table = elementDefaults
	}
	for i := len(at) - 1; i >= 0; i-- {
		if at[i].IsIndex {
			continue
		}
		if def, ok := table[at[i].Key]; ok {
			return def(), "default"
		}
		break
	}
	return nil, ""
}
