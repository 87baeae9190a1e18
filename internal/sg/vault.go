package sg

import "io"

// Vault is off-site storage for mirrored snapshots. Content is addressed by
// checksum; metadata items are named per owner.
type Vault interface {
	// PutContent stores content identified by its checksum. Storing the same
	// checksum twice is safe. size is the number of bytes read from r.
	PutContent(checksum string, r io.Reader, size int64) error

	// GetContent writes the content stored under checksum to w.
	GetContent(checksum string, w io.Writer) error

	// PutMetadata stores a named item for owner along with a version marker.
	PutMetadata(owner string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata writes a named item for owner to w.
	GetMetadata(owner string, name string, w io.Writer) error

	// GetMetadataVersion returns 0 when nothing is stored under the name.
	GetMetadataVersion(owner string, name string) (int64, error)

	// ListMetadata returns the names stored for owner that start with prefix.
	ListMetadata(owner string, prefix string) ([]string, error)

	// ValidateSetup verifies that the vault is reachable and usable.
	ValidateSetup() error
}
