package validate

import (
	"fmt"

	"sg-go/internal/catalog"
	"sg-go/internal/document"
)

// check is one declarative rule applied to the node found at a path.
type check interface {
	apply(v *document.Value, at document.Path, r *report)
}

// checkFunc adapts a function to check.
type checkFunc func(v *document.Value, at document.Path, r *report)

func (f checkFunc) apply(v *document.Value, at document.Path, r *report) { f(v, at, r) }

// allOf applies each check in order.
type allOf []check

func (a allOf) apply(v *document.Value, at document.Path, r *report) {
	for _, c := range a {
		c.apply(v, at, r)
	}
}

// intRange requires an integer within [min, max]. A nil max leaves the range
// open above.
type intRange struct {
	min      int64
	max      *int64
	severity Severity
}

func between(lo, hi int64) intRange { return intRange{min: lo, max: &hi, severity: SeverityError} }
func atLeast(lo int64) intRange     { return intRange{min: lo, severity: SeverityError} }

func (c intRange) expected() string {
	if c.max == nil {
		return fmt.Sprintf(">= %d", c.min)
	}
	return fmt.Sprintf("%d..%d", c.min, *c.max)
}

func (c intRange) apply(v *document.Value, at document.Path, r *report) {
	n, ok := v.AsInt()
	if !ok {
		r.add(c.severity, at, fmt.Sprintf("%s must be an integer", pathText(at)), "integer", describe(v))
		return
	}
	if n < c.min || (c.max != nil && n > *c.max) {
		msg := fmt.Sprintf("%s must be between %d and %d, got %d", pathText(at), c.min, derefOr(c.max, 0), n)
		if c.max == nil {
			msg = fmt.Sprintf("%s must be at least %d, got %d", pathText(at), c.min, n)
		}
		r.add(c.severity, at, msg, c.expected(), describe(v))
	}
}

func derefOr(p *int64, d int64) int64 {
	if p == nil {
		return d
	}
	return *p
}

// statValue accepts any number; negative or non-numeric values are suspicious
// but do not block a write.
var statValue = checkFunc(func(v *document.Value, at document.Path, r *report) {
	f, ok := v.AsFloat()
	if !ok {
		r.add(SeverityWarning, at, fmt.Sprintf("%s should be a number", pathText(at)), "number", describe(v))
		return
	}
	if f < 0 {
		r.add(SeverityWarning, at, fmt.Sprintf("%s is negative (%s)", pathText(at), v.NumberText()), ">= 0", describe(v))
	}
})

// boolean requires true or false.
var boolean = checkFunc(func(v *document.Value, at document.Path, r *report) {
	if _, ok := v.AsBool(); !ok {
		r.add(SeverityError, at, fmt.Sprintf("%s must be true or false", pathText(at)), "boolean", describe(v))
	}
})

// text requires a string.
var text = checkFunc(func(v *document.Value, at document.Path, r *report) {
	if _, ok := v.AsString(); !ok {
		r.add(SeverityError, at, fmt.Sprintf("%s must be a string", pathText(at)), "string", describe(v))
	}
})

// list requires an array, optionally of a fixed length or bounded size, and
// applies elem to every element.
type list struct {
	length int
	max    int
	elem   check

	// tooMany formats the message for an array longer than max.
	tooMany func(at document.Path, n int) string

	// quiet skips a type mismatch, leaving it to the schema pass.
	quiet bool
}

func (c list) apply(v *document.Value, at document.Path, r *report) {
	if !v.IsArray() {
		if !c.quiet {
			r.add(SeverityError, at, fmt.Sprintf("%s must be a list", pathText(at)), "array", describe(v))
		}
		return
	}
	n := v.Len()
	if c.length > 0 && n != c.length {
		r.add(SeverityError, at, fmt.Sprintf("%s must have exactly %d entries, found %d", pathText(at), c.length, n),
			fmt.Sprintf("%d entries", c.length), fmt.Sprintf("%d entries", n))
		return
	}
	if c.max > 0 && n > c.max {
		msg := fmt.Sprintf("%s has %d entries, maximum is %d", pathText(at), n, c.max)
		if c.tooMany != nil {
			msg = c.tooMany(at, n)
		}
		r.add(SeverityError, at, msg, fmt.Sprintf("<= %d entries", c.max), fmt.Sprintf("%d entries", n))
	}
	if c.elem == nil {
		return
	}
	for i, item := range v.Items() {
		c.elem.apply(item, at.Index(i), r)
	}
}

// mapOf requires an object and applies entry to every member.
type mapOf struct {
	entry check
	quiet bool
}

func (c mapOf) apply(v *document.Value, at document.Path, r *report) {
	if !v.IsObject() {
		if !c.quiet {
			r.add(SeverityError, at, fmt.Sprintf("%s must be a mapping", pathText(at)), "object", describe(v))
		}
		return
	}
	for _, k := range v.Keys() {
		m, _ := v.Get(k)
		c.entry.apply(m, at.Key(k), r)
	}
}

// field binds a check to a named member. When several names are given the
// first one present is used. Null members count as absent.
type field struct {
	names    []string
	check    check
	required bool
}

func optional(name string, c check) field { return field{names: []string{name}, check: c} }

// object requires an object and applies its field rules. Members without a
// rule are ignored.
type object struct {
	fields []field
}

func (c object) apply(v *document.Value, at document.Path, r *report) {
	if !v.IsObject() {
		r.add(SeverityError, at, fmt.Sprintf("%s must be an object", pathText(at)), "object", describe(v))
		return
	}
	for _, f := range c.fields {
		name, m := firstPresent(v, f.names)
		if m == nil {
			if f.required {
				r.add(SeverityError, at.Key(f.names[0]), fmt.Sprintf("%s is missing required field %s", pathText(at), f.names[0]), "present", "missing")
			}
			continue
		}
		f.check.apply(m, at.Key(name), r)
	}
}

func firstPresent(v *document.Value, names []string) (string, *document.Value) {
	for _, n := range names {
		if m, ok := v.Get(n); ok && !m.IsNull() {
			return n, m
		}
	}
	return "", nil
}

// known warns when an integer ID is absent from a catalog table.
func known(what string, table *catalog.Table) check {
	return checkFunc(func(v *document.Value, at document.Path, r *report) {
		id, ok := v.AsInt()
		if !ok || table.Known(int(id)) {
			return
		}
		r.add(SeverityWarning, at, fmt.Sprintf("%s: unknown %s ID %d", pathText(at), what, id), what+" ID", describe(v))
	})
}

// speciesID requires a positive integer species ID.
func speciesID(cat *catalog.Catalog) check {
	return allOf{
		checkFunc(func(v *document.Value, at document.Path, r *report) {
			id, ok := v.AsInt()
			if !ok || id < 1 {
				r.add(SeverityError, at, fmt.Sprintf("%s must be a positive species ID", pathText(at)), "integer >= 1", describe(v))
			}
		}),
		known("species", cat.Species),
	}
}

// moveRef accepts a move ID or an object carrying moveId.
func moveRef(cat *catalog.Catalog) check {
	lookup := known("move", cat.Moves)
	ids := checkFunc(func(v *document.Value, at document.Path, r *report) {
		atLeast(0).apply(v, at, r)
		// 0 marks an empty move slot.
		if id, ok := v.AsInt(); ok && id != 0 {
			lookup.apply(v, at, r)
		}
	})
	return checkFunc(func(v *document.Value, at document.Path, r *report) {
		if v.IsObject() {
			if m, ok := v.Get("moveId"); ok {
				ids.apply(m, at.Key("moveId"), r)
				return
			}
			r.add(SeverityError, at, fmt.Sprintf("%s must carry a moveId", pathText(at)), "moveId", "missing")
			return
		}
		ids.apply(v, at, r)
	})
}

// ivList is the shape shared by dex and party IVs.
var ivList = list{length: 6, elem: between(0, 31)}

func pokemonRules(cat *catalog.Catalog) object {
	return object{fields: []field{
		{names: []string{"species", "dexId", "speciesId", "pokemonId"}, check: speciesID(cat), required: true},
		{names: []string{"level", "lvl"}, check: between(1, 100)},
		optional("ivs", ivList),
		{names: []string{"moveset", "moves", "moveIds"}, check: list{
			max:  4,
			elem: moveRef(cat),
			tooMany: func(at document.Path, n int) string {
				return fmt.Sprintf("%s has %d moves, maximum is 4", pathText(at), n)
			},
		}},
		optional("friendship", between(0, 255)),
		optional("luck", between(0, 3)),
		optional("nature", allOf{between(0, 24), known("nature", cat.Natures)}),
		optional("abilityId", allOf{atLeast(0), known("ability", cat.Abilities)}),
		optional("hp", atLeast(0)),
		optional("exp", atLeast(0)),
		optional("shiny", boolean),
		optional("passive", boolean),
		optional("pokerus", boolean),
		optional("pauseEvolutions", boolean),
		optional("nickname", text),
	}}
}

func modifierRules() object {
	return object{fields: []field{
		{names: []string{"typeId"}, check: checkFunc(func(v *document.Value, at document.Path, r *report) {
			if _, ok := v.AsString(); ok {
				return
			}
			if _, ok := v.AsInt(); ok {
				return
			}
			r.add(SeverityError, at, fmt.Sprintf("%s must be a modifier type name", pathText(at)), "string", describe(v))
		}), required: true},
		optional("stackCount", atLeast(0)),
		optional("args", list{}),
	}}
}

func trainerRules(cat *catalog.Catalog) object {
	counts := atLeast(0)
	return object{fields: []field{
		optional("dexData", mapOf{quiet: true, entry: object{fields: []field{
			optional("ivs", ivList),
			optional("seenCount", counts),
			optional("caughtCount", counts),
			optional("hatchedCount", counts),
		}}}),
		optional("starterData", mapOf{quiet: true, entry: object{fields: []field{
			optional("candyCount", counts),
			optional("abilityAttr", counts),
			optional("passiveAttr", counts),
			optional("valueReduction", counts),
			optional("classicWinCount", counts),
			optional("friendship", counts),
			optional("moveset", list{max: 4, elem: moveRef(cat)}),
		}}}),
		optional("gameStats", mapOf{quiet: true, entry: statValue}),
		optional("voucherCounts", mapOf{quiet: true, entry: counts}),
		optional("eggs", list{quiet: true, elem: object{fields: []field{
			optional("hatchWaves", counts),
			optional("species", atLeast(0)),
		}}}),
	}}
}

func slotRules(cat *catalog.Catalog) object {
	counts := atLeast(0)
	return object{fields: []field{
		optional("party", list{
			quiet: true,
			max:   MaxPartySize,
			elem:  pokemonRules(cat),
			tooMany: func(at document.Path, n int) string {
				return fmt.Sprintf("party exceeds maximum size of %d (found %d)", MaxPartySize, n)
			},
		}),
		optional("modifiers", list{quiet: true, elem: modifierRules()}),
		optional("enemyModifiers", list{quiet: true, elem: modifierRules()}),
		optional("wave", counts),
		optional("currentWave", counts),
		optional("waveIndex", counts),
		optional("money", counts),
	}}
}
