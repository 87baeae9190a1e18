package vault

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"sg-go/internal/sg"
)

type memRecord struct {
	data    []byte
	version int64
}

// MemoryVault keeps mirrored snapshots in process memory. It backs the
// "memory" vault type and tests. Safe for concurrent use.
type MemoryVault struct {
	name string

	mu      sync.RWMutex
	blobs   map[string][]byte               // checksum -> sealed bytes
	records map[string]map[string]memRecord // owner -> name -> record
}

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		blobs:   map[string][]byte{},
		records: map[string]map[string]memRecord{},
	}
}

// readExactly reads all of r and fails unless it held size bytes.
func readExactly(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return fmt.Errorf("storing content %s: %w", checksum, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[checksum]; !ok {
		m.blobs[checksum] = data
	}
	return nil
}

func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.blobs[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: content %s in vault %s", sg.ErrNotFound, checksum, m.name)
	}
	_, err := w.Write(data)
	return err
}

func (m *MemoryVault) PutMetadata(owner, name string, r io.Reader, size, version int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return fmt.Errorf("storing %s for %s: %w", name, owner, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.records[owner]
	if !ok {
		byName = map[string]memRecord{}
		m.records[owner] = byName
	}
	byName[name] = memRecord{data: data, version: version}
	return nil
}

func (m *MemoryVault) lookup(owner, name string) (memRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[owner][name]
	return rec, ok
}

// GetMetadataVersion returns 0 for a name never stored.
func (m *MemoryVault) GetMetadataVersion(owner, name string) (int64, error) {
	rec, _ := m.lookup(owner, name)
	return rec.version, nil
}

func (m *MemoryVault) GetMetadata(owner, name string, w io.Writer) error {
	rec, ok := m.lookup(owner, name)
	if !ok {
		return fmt.Errorf("%w: %s for %s in vault %s", sg.ErrNotFound, name, owner, m.name)
	}
	_, err := w.Write(rec.data)
	return err
}

func (m *MemoryVault) ListMetadata(owner, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.records[owner] {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryVault) ValidateSetup() error { return nil }

var _ sg.Vault = (*MemoryVault)(nil)
