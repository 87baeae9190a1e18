package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Run("missing files give empty tables", func(t *testing.T) {
		c, err := Load(t.TempDir())
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if c.Moves.Len() != 0 {
			t.Errorf("Moves.Len() = %d, want 0", c.Moves.Len())
		}
		if !c.Moves.Known(9999) {
			t.Error("Known() on empty table = false, want true")
		}
	})

	t.Run("reads both directions", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "moves.json"), `{"name_to_id":{"tackle":33},"id_to_name":{"33":"Tackle","85":"Thunderbolt"}}`)
		writeFile(t, filepath.Join(dir, "modifiers.json"), `{"name_to_id":{},"id_to_name":{},"global":["EXP_CHARM"]}`)

		c, err := Load(dir)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if name, ok := c.Moves.Name(85); !ok || name != "Thunderbolt" {
			t.Errorf("Name(85) = %q, %v", name, ok)
		}
		if id, ok := c.Moves.ID("THUNDERBOLT"); !ok || id != 85 {
			t.Errorf("ID(THUNDERBOLT) = %d, %v", id, ok)
		}
		if c.Moves.Known(1) {
			t.Error("Known(1) = true, want false")
		}
		if !c.IsGlobalModifier("EXP_CHARM") {
			t.Error("IsGlobalModifier(EXP_CHARM) = false")
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "natures.json"), `{not json`)

		if _, err := Load(dir); err == nil {
			t.Error("Load() expected error for malformed file")
		}
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
