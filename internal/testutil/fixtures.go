package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"sg-go/internal/document"
)

// TrainerJSON is a small valid trainer document.
const TrainerJSON = `{
  "trainerId": 4242,
  "secretId": 17,
  "gameMode": 0,
  "timestamp": 1705314600000,
  "dexData": {
    "1": {"seenAttr": 3, "caughtAttr": 3, "natureAttr": 1, "seenCount": 4, "caughtCount": 1, "hatchedCount": 0, "ivs": [10, 12, 31, 0, 5, 9]},
    "4": {"seenAttr": 1, "caughtAttr": 0, "natureAttr": 0, "seenCount": 1, "caughtCount": 0, "hatchedCount": 0, "ivs": [0, 0, 0, 0, 0, 0]}
  },
  "starterData": {
    "1": {"moveset": [33, 45], "candyCount": 7, "abilityAttr": 1, "passiveAttr": 0, "valueReduction": 0, "classicWinCount": 1, "friendship": 20}
  },
  "gameStats": {"battles": 12, "classicSessionsPlayed": 3, "pokemonCaught": 5},
  "voucherCounts": {"0": 2, "1": 0},
  "eggs": []
}`

// SlotJSON is a small valid run slot document.
const SlotJSON = `{
  "seed": "abcdef",
  "playTime": 600,
  "gameMode": 0,
  "waveIndex": 12,
  "money": 1500,
  "party": [
    {"id": 101, "species": 1, "level": 14, "exp": 900, "friendship": 70, "luck": 0, "nature": 3, "abilityId": 65,
     "ivs": [10, 12, 31, 0, 5, 9], "moveset": [{"moveId": 33, "ppUsed": 0}, {"moveId": 45, "ppUsed": 1}],
     "hp": 40, "shiny": false, "pokerus": false},
    {"id": 102, "species": 4, "level": 9, "exp": 300, "friendship": 50, "luck": 1, "nature": 10, "abilityId": 66,
     "ivs": [1, 2, 3, 4, 5, 6], "moveset": [{"moveId": 10, "ppUsed": 0}], "hp": 27, "shiny": true}
  ],
  "modifiers": [
    {"typeId": "EXP_CHARM", "player": true, "stackCount": 1, "args": []},
    {"typeId": "LEFTOVERS", "player": true, "stackCount": 1, "args": [101]}
  ],
  "enemyModifiers": [],
  "timestamp": 1705314600000
}`

// MustParse parses s or fails the test.
func MustParse(t testing.TB, s string) *document.Value {
	t.Helper()
	v, err := document.ParseString(s)
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return v
}

// Trainer returns a fresh copy of TrainerJSON.
func Trainer(t testing.TB) *document.Value { return MustParse(t, TrainerJSON) }

// Slot returns a fresh copy of SlotJSON.
func Slot(t testing.TB) *document.Value { return MustParse(t, SlotJSON) }

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// WriteDoc writes doc to path as indented JSON.
func WriteDoc(t testing.TB, path string, doc *document.Value) {
	t.Helper()
	data, err := doc.MarshalIndent()
	if err != nil {
		t.Fatalf("serializing %s: %v", path, err)
	}
	WriteFile(t, path, data)
}

// ReadFile returns the content of path or fails the test.
func ReadFile(t testing.TB, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return data
}

// ReadDoc parses the document at path or fails the test.
func ReadDoc(t testing.TB, path string) *document.Value {
	t.Helper()
	return MustParse(t, string(ReadFile(t, path)))
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Checksum is the lowercase hex SHA-256 of data, as stored in snapshot entries.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
