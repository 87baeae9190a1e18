package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"sg-go/internal/atomicfile"
	"sg-go/internal/sg"
)

const versionSuffix = ".version"

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// It stores content and metadata as files in a directory structure:
//
//	<root>/
//	  content/
//	    <checksum>             (content files, named by SHA-256)
//	  metadata/
//	    <owner>/<name>         (named metadata items; name may contain '/')
//	    <owner>/<name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	metadataDir := filepath.Join(root, "metadata")

	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	return &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  contentDir,
		metadataDir: metadataDir,
	}, nil
}

// PutContent stores content identified by its checksum.
// The operation is idempotent: storing the same checksum multiple times is safe.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	destPath, err := v.contentPath(checksum)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return writeFile(destPath, r, size)
}

// GetContent retrieves content by checksum and writes it to w.
func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	srcPath, err := v.contentPath(checksum)
	if err != nil {
		return err
	}
	return readFile(srcPath, w, fmt.Sprintf("content %s", checksum))
}

// PutMetadata stores a named item for owner along with a version marker.
// The version file is written after the item, so a reader never sees a
// version for content that is not there yet.
func (v *FileSystemVault) PutMetadata(owner string, name string, r io.Reader, size int64, version int64) error {
	destPath, err := v.metadataPath(owner, name)
	if err != nil {
		return err
	}
	if err := writeFile(destPath, r, size); err != nil {
		return err
	}
	return atomicfile.WriteFile(destPath+versionSuffix, []byte(strconv.FormatInt(version, 10)))
}

// GetMetadataVersion returns the version of a named item.
// Returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(owner string, name string) (int64, error) {
	p, err := v.metadataPath(owner, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(p + versionSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata retrieves a named item for owner and writes it to w.
func (v *FileSystemVault) GetMetadata(owner string, name string, w io.Writer) error {
	p, err := v.metadataPath(owner, name)
	if err != nil {
		return err
	}
	return readFile(p, w, fmt.Sprintf("metadata %q for %s", name, owner))
}

// ListMetadata returns the sorted names stored for owner that start with prefix.
func (v *FileSystemVault) ListMetadata(owner string, prefix string) ([]string, error) {
	dir := filepath.Join(v.metadataDir, owner)
	var names []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), versionSuffix) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing metadata for %s: %w", owner, err)
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	for _, dir := range []string{v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

func (v *FileSystemVault) contentPath(checksum string) (string, error) {
	if checksum == "" || strings.ContainsAny(checksum, `/\.`) {
		return "", fmt.Errorf("invalid checksum %q", checksum)
	}
	return filepath.Join(v.contentDir, checksum), nil
}

// metadataPath maps owner/name to a file below the metadata directory,
// refusing names that would escape it.
func (v *FileSystemVault) metadataPath(owner, name string) (string, error) {
	if owner == "" || strings.ContainsAny(owner, `/\`) || owner == "." || owner == ".." {
		return "", fmt.Errorf("invalid owner %q", owner)
	}
	clean := path.Clean("/" + name)
	if name == "" || clean != "/"+name || strings.HasSuffix(name, versionSuffix) {
		return "", fmt.Errorf("invalid metadata name %q", name)
	}
	return filepath.Join(v.metadataDir, owner, filepath.FromSlash(name)), nil
}

// writeFile atomically writes exactly expectedSize bytes from r to destPath.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	if _, _, err := atomicfile.WriteFrom(destPath, r, expectedSize, ""); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(destPath), err)
	}
	return nil
}

// readFile copies the file at srcPath to w.
func readFile(srcPath string, w io.Writer, what string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", sg.ErrNotFound, what)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

var _ sg.Vault = (*FileSystemVault)(nil)
