// Package validate checks save documents against declarative rules and
// reports graded issues. Validation never mutates a document and performs no
// I/O beyond what was loaded at construction.
package validate

import (
	"bytes"
	"embed"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sg-go/internal/catalog"
	"sg-go/internal/document"
)

// MaxPartySize is the largest party a run slot may hold.
const MaxPartySize = 6

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://sg.local/schemas/"

// Validator validates trainer and slot documents. It is safe for concurrent
// use once constructed.
type Validator struct {
	catalog *catalog.Catalog
	schemas map[Kind]*jsonschema.Schema
	rules   map[Kind]check
}

// New compiles the document schemas and builds the rule sets against cat.
// A nil catalog behaves like catalog.Empty.
func New(cat *catalog.Catalog) (*Validator, error) {
	if cat == nil {
		cat = catalog.Empty()
	}

	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Validator{
		catalog: cat,
		schemas: schemas,
		rules: map[Kind]check{
			KindTrainer: trainerRules(cat),
			KindSlot:    slotRules(cat),
		},
	}, nil
}

func compileSchemas() (map[Kind]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	files := map[Kind]string{
		KindTrainer: "trainer.schema.json",
		KindSlot:    "slot.schema.json",
	}

	out := make(map[Kind]*jsonschema.Schema, len(files))
	for kind, name := range files {
		data, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", name, err)
		}
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		out[kind] = s
	}
	return out, nil
}

// Validate checks doc as a document of the given kind.
//
// A top level that is not a mapping yields a single Error and nothing else
// is inspected. Unknown fields are ignored.
func (v *Validator) Validate(doc *document.Value, kind Kind) Result {
	r := &report{}
	if !doc.IsObject() {
		r.add(SeverityError, document.Root,
			fmt.Sprintf("%s document must be a mapping, got %s", kind, doc.Kind()),
			"object", doc.Kind().String())
		return r.result()
	}

	rules, ok := v.rules[kind]
	if !ok {
		r.add(SeverityInfo, document.Root, "no rules for unknown document kind; only structure was checked", "", "")
		return r.result()
	}

	v.schemaPass(doc, kind, r)
	rules.apply(doc, document.Root, r)

	switch kind {
	case KindTrainer:
		v.trainerCrossRefs(doc, r)
	case KindSlot:
		v.slotCrossRefs(doc, r)
	}
	return r.result()
}

// ValidateTrainer is Validate with KindTrainer.
func (v *Validator) ValidateTrainer(doc *document.Value) Result { return v.Validate(doc, KindTrainer) }

// ValidateSlot is Validate with KindSlot.
func (v *Validator) ValidateSlot(doc *document.Value) Result { return v.Validate(doc, KindSlot) }

// ValidateCombined validates a trainer and slot pair and merges their
// issues, each path prefixed with the document it came from.
func (v *Validator) ValidateCombined(trainer, slot *document.Value) Result {
	r := &report{}
	for _, part := range []struct {
		name string
		res  Result
	}{
		{"trainer", v.ValidateTrainer(trainer)},
		{"slot", v.ValidateSlot(slot)},
	} {
		for _, issue := range part.res.Issues {
			issue.Path = part.name + ":" + issue.Path
			r.issues = append(r.issues, issue)
		}
	}
	return r.result()
}

// schemaPass reports section type mismatches found by the JSON schema.
func (v *Validator) schemaPass(doc *document.Value, kind Kind, r *report) {
	s, ok := v.schemas[kind]
	if !ok {
		return
	}
	err := s.Validate(doc.Interface())
	if err == nil {
		return
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		r.add(SeverityError, document.Root, fmt.Sprintf("schema check failed: %v", err), "", "")
		return
	}
	for _, leaf := range leaves(verr) {
		at := doc.PointerPath(leaf.InstanceLocation)
		node, _ := doc.Lookup(at)
		r.add(SeverityError, at, fmt.Sprintf("%s: %s", pathText(at), leaf.Message), "", describe(node))
	}
}

// leaves returns the innermost causes of a schema validation error.
func leaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func (v *Validator) trainerCrossRefs(doc *document.Value, r *report) {
	if stats, ok := doc.Get("gameStats"); !ok || stats.IsNull() {
		r.add(SeverityWarning, document.Root.Key("gameStats"), "trainer document has no gameStats section", "object", "missing")
	}

	dex, _ := doc.Get("dexData")
	starters, _ := doc.Get("starterData")
	if dex.IsObject() && dex.Len() == 0 {
		r.add(SeverityInfo, document.Root.Key("dexData"), "dexData is empty", "", "")
	}
	if !starters.IsObject() {
		return
	}
	for _, id := range starters.Keys() {
		if dex.IsObject() && dex.Has(id) {
			continue
		}
		r.add(SeverityWarning, document.Root.Key("starterData").Key(id),
			fmt.Sprintf("starter entry %s has no matching dexData entry", id), "dexData."+id, "missing")
	}
}

func (v *Validator) slotCrossRefs(doc *document.Value, r *report) {
	party, _ := doc.Get("party")
	if !party.IsArray() || party.Len() == 0 {
		r.add(SeverityInfo, document.Root.Key("party"), "party is empty", "", "")
	}

	memberIDs := map[int64]bool{}
	for _, mon := range party.Items() {
		if id, ok := mon.Get("id"); ok {
			if n, ok := id.AsInt(); ok {
				memberIDs[n] = true
			}
		}
	}

	mods, _ := doc.Get("modifiers")
	for i, mod := range mods.Items() {
		if !mod.IsObject() || v.nonTargeted(mod) {
			continue
		}
		args, _ := mod.Get("args")
		target, ok := args.Index(0).AsInt()
		if !ok || memberIDs[target] {
			continue
		}
		typeID := ""
		if t, ok := mod.Get("typeId"); ok {
			typeID, _ = t.AsString()
		}
		r.add(SeverityWarning, document.Root.Key("modifiers").Index(i).Key("args").Index(0),
			fmt.Sprintf("modifier %d (%s) references party member id %d, which is not in the party", i, typeID, target),
			"party member id", fmt.Sprintf("%d", target))
	}
}

// nonTargeted reports whether a modifier applies globally rather than to a
// party member: either it is flagged as a player-wide modifier or its type
// is listed as global in the catalog.
func (v *Validator) nonTargeted(mod *document.Value) bool {
	if p, ok := mod.Get("player"); ok {
		if b, _ := p.AsBool(); b {
			return true
		}
	}
	if g, ok := mod.Get("global"); ok {
		if b, _ := g.AsBool(); b {
			return true
		}
	}
	if t, ok := mod.Get("typeId"); ok {
		if name, ok := t.AsString(); ok && v.catalog.IsGlobalModifier(name) {
			return true
		}
	}
	return false
}
