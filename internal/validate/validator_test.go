package validate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sg-go/internal/catalog"
	"sg-go/internal/document"
	"sg-go/internal/validate"
)

func newValidator(t *testing.T) *validate.Validator {
	t.Helper()
	v, err := validate.New(catalog.Empty())
	require.NoError(t, err)
	return v
}

func parse(t *testing.T, s string) *document.Value {
	t.Helper()
	v, err := document.ParseString(s)
	require.NoError(t, err)
	return v
}

func issueAt(res validate.Result, path string) (validate.Issue, bool) {
	for _, i := range res.Issues {
		if i.Path == path {
			return i, true
		}
	}
	return validate.Issue{}, false
}

const validTrainer = `{
	"dexData": {"25": {"seenCount": 3, "caughtCount": 1, "hatchedCount": 0, "ivs": [1,2,3,4,5,6]}},
	"starterData": {"25": {"candyCount": 10}},
	"gameStats": {"battles": 12, "playTime": 3600.5},
	"voucherCounts": {"0": 1},
	"eggs": []
}`

const validSlot = `{
	"party": [{"id": 101, "species": 25, "level": 12, "ivs": [31,31,31,31,31,31], "moveset": [{"moveId": 85}, {"moveId": 0}]}],
	"modifiers": [{"typeId": "EXP_SHARE", "stackCount": 1, "args": [101]}],
	"enemyModifiers": [],
	"waveIndex": 5
}`

func TestValidate_ValidDocuments(t *testing.T) {
	v := newValidator(t)

	res := v.ValidateTrainer(parse(t, validTrainer))
	assert.True(t, res.Valid, res.Issues)
	assert.Empty(t, res.Errors())

	res = v.ValidateSlot(parse(t, validSlot))
	assert.True(t, res.Valid, res.Issues)
	assert.Empty(t, res.Warnings())
}

func TestValidate_TopLevelNotMapping(t *testing.T) {
	v := newValidator(t)

	for _, src := range []string{`[1,2,3]`, `"text"`, `42`, `null`} {
		t.Run(src, func(t *testing.T) {
			res := v.ValidateSlot(parse(t, src))
			assert.False(t, res.Valid)
			require.Len(t, res.Issues, 1)
			assert.Equal(t, validate.SeverityError, res.Issues[0].Severity)
			assert.Equal(t, "root", res.Issues[0].Path)
		})
	}
}

func TestValidate_IVOutOfRange(t *testing.T) {
	v := newValidator(t)
	doc := parse(t, `{"party":[{"species":1,"level":5,"ivs":[31,31,31,31,31,32]}]}`)

	res := v.ValidateSlot(doc)

	assert.False(t, res.Valid)
	issue, ok := issueAt(res, "party[0].ivs[5]")
	require.True(t, ok, res.Issues)
	assert.Equal(t, validate.SeverityError, issue.Severity)
	assert.Equal(t, "32", issue.Actual)
	assert.Len(t, res.Errors(), 1)
}

func TestValidate_PartyTooLarge(t *testing.T) {
	v := newValidator(t)
	mons := make([]string, 7)
	for i := range mons {
		mons[i] = `{"species":1,"level":5}`
	}
	doc := parse(t, `{"party":[`+strings.Join(mons, ",")+`]}`)

	res := v.ValidateSlot(doc)

	assert.False(t, res.Valid)
	issue, ok := issueAt(res, "party")
	require.True(t, ok, res.Issues)
	assert.Contains(t, issue.Message, "party exceeds maximum size")
}

func TestValidate_FieldRules(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name     string
		kind     validate.Kind
		doc      string
		path     string
		severity validate.Severity
	}{
		{"level too high", validate.KindSlot, `{"party":[{"species":1,"level":101}]}`, "party[0].level", validate.SeverityError},
		{"level zero", validate.KindSlot, `{"party":[{"species":1,"lvl":0}]}`, "party[0].lvl", validate.SeverityError},
		{"ivs wrong length", validate.KindSlot, `{"party":[{"species":1,"ivs":[1,2,3]}]}`, "party[0].ivs", validate.SeverityError},
		{"too many moves", validate.KindSlot, `{"party":[{"species":1,"moveset":[1,2,3,4,5]}]}`, "party[0].moveset", validate.SeverityError},
		{"missing species", validate.KindSlot, `{"party":[{"level":5}]}`, "party[0].species", validate.SeverityError},
		{"species zero", validate.KindSlot, `{"party":[{"species":0}]}`, "party[0].species", validate.SeverityError},
		{"modifier without typeId", validate.KindSlot, `{"modifiers":[{"stackCount":1}]}`, "modifiers[0].typeId", validate.SeverityError},
		{"negative stack", validate.KindSlot, `{"modifiers":[{"typeId":"X","stackCount":-1}]}`, "modifiers[0].stackCount", validate.SeverityError},
		{"negative wave", validate.KindSlot, `{"waveIndex":-2}`, "waveIndex", validate.SeverityError},
		{"party not a list", validate.KindSlot, `{"party":{"a":1}}`, "party", validate.SeverityError},
		{"negative caught count", validate.KindTrainer, `{"gameStats":{},"dexData":{"1":{"caughtCount":-1}}}`, "dexData.1.caughtCount", validate.SeverityError},
		{"dex iv out of range", validate.KindTrainer, `{"gameStats":{},"dexData":{"1":{"ivs":[0,0,0,0,0,40]}}}`, "dexData.1.ivs[5]", validate.SeverityError},
		{"negative candy", validate.KindTrainer, `{"gameStats":{},"starterData":{"1":{"candyCount":-5}},"dexData":{"1":{}}}`, "starterData.1.candyCount", validate.SeverityError},
		{"negative voucher", validate.KindTrainer, `{"gameStats":{},"voucherCounts":{"2":-1}}`, "voucherCounts.2", validate.SeverityError},
		{"negative game stat", validate.KindTrainer, `{"gameStats":{"battles":-3}}`, "gameStats.battles", validate.SeverityWarning},
		{"missing game stats", validate.KindTrainer, `{"dexData":{}}`, "gameStats", validate.SeverityWarning},
		{"dexData wrong type", validate.KindTrainer, `{"gameStats":{},"dexData":[1]}`, "dexData", validate.SeverityError},
		{"orphan starter", validate.KindTrainer, `{"gameStats":{},"dexData":{"1":{}},"starterData":{"4":{"candyCount":1}}}`, "starterData.4", validate.SeverityWarning},
		{"dangling modifier target", validate.KindSlot, `{"party":[{"id":7,"species":1}],"modifiers":[{"typeId":"BERRY","args":[99]}]}`, "modifiers[0].args[0]", validate.SeverityWarning},
		{"empty party", validate.KindSlot, `{"party":[]}`, "party", validate.SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(parse(t, tt.doc), tt.kind)
			issue, ok := issueAt(res, tt.path)
			require.True(t, ok, "no issue at %s: %v", tt.path, res.Issues)
			assert.Equal(t, tt.severity, issue.Severity, issue.Message)
			assert.Equal(t, tt.severity != validate.SeverityError, res.Valid)
		})
	}
}

func TestValidate_UnknownFieldsIgnored(t *testing.T) {
	v := newValidator(t)
	res := v.ValidateSlot(parse(t, `{"party":[{"species":1,"someFutureField":{"x":[1,2]}}],"brandNewSection":"ok"}`))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Warnings())
}

func TestValidate_NonTargetedModifiers(t *testing.T) {
	cat := catalog.Empty().WithGlobalModifiers("EXP_CHARM")
	v, err := validate.New(cat)
	require.NoError(t, err)

	doc := parse(t, `{"party":[{"id":1,"species":1}],"modifiers":[
		{"typeId":"MONEY","player":true,"args":[50]},
		{"typeId":"EXP_CHARM","args":[25]},
		{"typeId":"LURE","global":true,"args":[10]}
	]}`)

	res := v.ValidateSlot(doc)
	assert.Empty(t, res.Warnings())
}

func TestValidate_CatalogLookups(t *testing.T) {
	cat := catalog.Empty()
	cat.Moves = catalog.NewTable(map[int]string{33: "Tackle"})
	cat.Species = catalog.NewTable(map[int]string{1: "Bulbasaur"})
	v, err := validate.New(cat)
	require.NoError(t, err)

	res := v.ValidateSlot(parse(t, `{"party":[{"species":2000,"moveset":[33,999,0]}]}`))

	assert.True(t, res.Valid, "unknown catalog IDs only warn")
	_, ok := issueAt(res, "party[0].species")
	assert.True(t, ok)
	_, ok = issueAt(res, "party[0].moveset[1]")
	assert.True(t, ok)
	_, ok = issueAt(res, "party[0].moveset[2]")
	assert.False(t, ok, "move 0 is an empty slot")
}

func TestValidate_DoesNotMutate(t *testing.T) {
	v := newValidator(t)
	doc := parse(t, `{"party":[{"species":1,"level":500}]}`)
	before := doc.Clone()

	v.ValidateSlot(doc)

	assert.True(t, before.Equal(doc))
}

func TestValidateCombined(t *testing.T) {
	v := newValidator(t)
	res := v.ValidateCombined(parse(t, `{"dexData":{}}`), parse(t, `{"party":[{"species":1,"level":0}]}`))

	assert.False(t, res.Valid)
	_, ok := issueAt(res, "trainer:gameStats")
	assert.True(t, ok)
	_, ok = issueAt(res, "slot:party[0].level")
	assert.True(t, ok)
}

func TestKindForPath(t *testing.T) {
	assert.Equal(t, validate.KindTrainer, validate.KindForPath("/saves/ash/trainer.json"))
	assert.Equal(t, validate.KindSlot, validate.KindForPath("/saves/ash/slot 3.json"))
	assert.Equal(t, validate.KindUnknown, validate.KindForPath("/saves/ash/notes.json"))

	k, err := validate.ParseKind("Slot")
	require.NoError(t, err)
	assert.Equal(t, validate.KindSlot, k)
	_, err = validate.ParseKind("bogus")
	assert.Error(t, err)
}

func TestDraft_Reconcile(t *testing.T) {
	v := newValidator(t)

	t.Run("reverts to original value", func(t *testing.T) {
		d := validate.NewDraft(parse(t, `{"party":[{"species":1,"level":40,"ivs":[1,2,3,4,5,31]}]}`), validate.KindSlot)
		require.NoError(t, d.Working.SetPath(mustPath(t, "party[0].ivs[5]"), document.Int(32)))
		require.NoError(t, d.Working.SetPath(mustPath(t, "party[0].level"), document.Int(250)))

		corrections, res := d.Reconcile(v)

		assert.True(t, res.Valid, res.Issues)
		assert.Len(t, corrections, 2)
		iv, _ := d.Working.Lookup(mustPath(t, "party[0].ivs[5]"))
		assert.Equal(t, "31", iv.NumberText())
		lvl, _ := d.Working.Lookup(mustPath(t, "party[0].level"))
		assert.Equal(t, "40", lvl.NumberText())
		for _, c := range corrections {
			assert.Equal(t, "original", c.Source)
		}
	})

	t.Run("falls back to default", func(t *testing.T) {
		d := validate.NewDraft(parse(t, `{"party":[{"species":1}]}`), validate.KindSlot)
		party, _ := d.Working.Get("party")
		party.Index(0).Set("friendship", document.Int(999))

		corrections, res := d.Reconcile(v)

		assert.True(t, res.Valid)
		require.Len(t, corrections, 1)
		assert.Equal(t, "default", corrections[0].Source)
		assert.Equal(t, "0", corrections[0].To.NumberText())
	})

	t.Run("leaves uncorrectable errors", func(t *testing.T) {
		d := validate.NewDraft(parse(t, `{"party":[]}`), validate.KindSlot)
		party, _ := d.Working.Get("party")
		party.Append(parse(t, `{"level":5}`))

		corrections, res := d.Reconcile(v)

		assert.Empty(t, corrections)
		assert.False(t, res.Valid)
	})
}

func mustPath(t *testing.T, s string) document.Path {
	t.Helper()
	p, err := document.ParsePath(s)
	require.NoError(t, err)
	return p
}
