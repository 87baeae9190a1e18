package sg

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const mirrorPrefix = "snapshot/"

// mirrorManifest is what Push stores as vault metadata for a snapshot.
type mirrorManifest struct {
	Metadata *BackupMetadata `json:"metadata"`
	Entries  []mirrorEntry   `json:"entries"`
}

type mirrorEntry struct {
	BackupEntry

	// Content is the checksum of the encrypted copy in the vault.
	Content string `json:"content"`
}

// Mirror copies snapshots to and from off-site storage. File contents are
// encrypted before they leave the machine and stored by the checksum of the
// ciphertext.
type Mirror struct {
	store  BackupStore
	vault  Vault
	enc    Encryptor
	owner  string
	logger Logger
}

func NewMirror(store BackupStore, vault Vault, enc Encryptor, owner string, logger Logger) *Mirror {
	return &Mirror{store: store, vault: vault, enc: enc, owner: owner, logger: logger}
}

// Push uploads snapshot id. Pushing the same snapshot twice is harmless.
func (m *Mirror) Push(id string) error {
	if m.vault == nil {
		return ErrNoVault
	}
	meta, entries, err := m.store.Details(id)
	if err != nil {
		return err
	}
	if ok, problems := m.store.Verify(id); !ok {
		return fmt.Errorf("%w: snapshot %s: %s", ErrIntegrity, id, strings.Join(problems, "; "))
	}

	manifest := mirrorManifest{Metadata: meta}
	for _, e := range entries {
		content, err := m.pushContent(e)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", e.OriginalPath, err)
		}
		manifest.Entries = append(manifest.Entries, mirrorEntry{BackupEntry: *e, Content: content})
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := m.vault.PutMetadata(m.owner, mirrorPrefix+id, bytes.NewReader(data), int64(len(data)), meta.Timestamp.Unix()); err != nil {
		return fmt.Errorf("uploading manifest: %w", err)
	}

	m.logger.Info("snapshot mirrored", "snapshot", id, "files", len(entries))
	return nil
}

func (m *Mirror) pushContent(e *BackupEntry) (string, error) {
	f, err := os.Open(e.BackupPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := m.enc.Encrypt(f, &buf); err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])

	if err := m.vault.PutContent(checksum, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return "", err
	}
	return checksum, nil
}

// Pull downloads snapshot id and stores it as a new local snapshot. The
// decrypted copies must match the recorded sizes and checksums.
func (m *Mirror) Pull(id string, dc DecryptionContext) (string, error) {
	if m.vault == nil {
		return "", ErrNoVault
	}
	manifest, err := m.manifest(id)
	if err != nil {
		return "", err
	}

	content := make(map[string]string, len(manifest.Entries))
	entries := make([]*BackupEntry, len(manifest.Entries))
	for i := range manifest.Entries {
		e := manifest.Entries[i].BackupEntry
		entries[i] = &e
		content[e.OriginalPath] = manifest.Entries[i].Content
	}

	fetch := func(e *BackupEntry, w io.Writer) error {
		var cipher bytes.Buffer
		if err := m.vault.GetContent(content[e.OriginalPath], &cipher); err != nil {
			return err
		}
		return dc.Decrypt(&cipher, w)
	}

	local, err := m.store.Import(manifest.Metadata, entries, fetch)
	if err != nil {
		return "", fmt.Errorf("importing %s: %w", id, err)
	}
	m.logger.Info("snapshot pulled", "snapshot", id, "local", local)
	return local, nil
}

func (m *Mirror) manifest(id string) (*mirrorManifest, error) {
	version, err := m.vault.GetMetadataVersion(m.owner, mirrorPrefix+id)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, fmt.Errorf("%w: mirrored snapshot %s", ErrNotFound, id)
	}

	var buf bytes.Buffer
	if err := m.vault.GetMetadata(m.owner, mirrorPrefix+id, &buf); err != nil {
		return nil, err
	}
	var manifest mirrorManifest
	if err := json.Unmarshal(buf.Bytes(), &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest of %s: %w", ErrIntegrity, id, err)
	}
	if manifest.Metadata == nil {
		return nil, fmt.Errorf("%w: manifest of %s has no metadata", ErrIntegrity, id)
	}
	return &manifest, nil
}

// List returns the IDs of mirrored snapshots, newest first.
func (m *Mirror) List() ([]string, error) {
	if m.vault == nil {
		return nil, ErrNoVault
	}
	names, err := m.vault.ListMetadata(m.owner, mirrorPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(names))
	for i, n := range names {
		ids[i] = strings.TrimPrefix(n, mirrorPrefix)
	}
	// IDs start with a sortable timestamp.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}
