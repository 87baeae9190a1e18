package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		tmpDir := t.TempDir()
		root := filepath.Join(tmpDir, "vault")

		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}

		if _, err := os.Stat(filepath.Join(root, "content")); err != nil {
			t.Errorf("content directory not created: %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "metadata")); err != nil {
			t.Errorf("metadata directory not created: %v", err)
		}

		if v.name != "test" {
			t.Errorf("name = %q, want %q", v.name, "test")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault("test", t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_MetadataLayout(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	data := "manifest"
	if err := v.PutMetadata("ash", "snapshot/20240115_103000_000_save", strings.NewReader(data), int64(len(data)), 7); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	p := filepath.Join(v.metadataDir, "ash", "snapshot", "20240115_103000_000_save")
	content, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("failed to read metadata file: %v", err)
	}
	if string(content) != data {
		t.Errorf("metadata = %q, want %q", string(content), data)
	}
	version, err := os.ReadFile(p + versionSuffix)
	if err != nil {
		t.Fatalf("failed to read version file: %v", err)
	}
	if string(version) != "7" {
		t.Errorf("version = %q, want %q", string(version), "7")
	}
}

func TestFileSystemVault_RejectsEscapingNames(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	tests := []struct {
		owner, name string
	}{
		{"ash", "../escape"},
		{"ash", "a/../../b"},
		{"ash", ""},
		{"ash", "x" + versionSuffix},
		{"..", "a"},
		{"a/b", "c"},
	}
	for _, tt := range tests {
		if err := v.PutMetadata(tt.owner, tt.name, strings.NewReader("x"), 1, 1); err == nil {
			t.Errorf("PutMetadata(%q, %q) expected error", tt.owner, tt.name)
		}
	}

	if err := v.PutContent("../x", strings.NewReader("x"), 1); err == nil {
		t.Error("PutContent() expected error for path-like checksum")
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	v := &FileSystemVault{
		name:        "test",
		root:        "/nonexistent/path",
		contentDir:  "/nonexistent/path/content",
		metadataDir: "/nonexistent/path/metadata",
	}

	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() expected error for missing root")
	}
}

func TestFileSystemVault_AtomicWrite(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	data := "hello world"
	if err := v.PutContent("abc123", strings.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if err := v.PutContent("def456", strings.NewReader(data), 99); err == nil {
		t.Fatal("PutContent() expected error for size mismatch")
	}

	entries, err := os.ReadDir(v.contentDir)
	if err != nil {
		t.Fatalf("failed to read content dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "abc123" {
		for _, e := range entries {
			t.Errorf("unexpected file in content dir: %s", e.Name())
		}
	}
}
