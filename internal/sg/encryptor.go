package sg

import (
	"io"
	"time"
)

// Encryptor protects snapshot copies before they leave the machine.
// Encryption needs only the public key; decryption needs the passphrase.
type Encryptor interface {
	// Setup generates a key pair and stores the private half encrypted with
	// passphrase.
	Setup(passphrase string) error

	// Encrypt writes the ciphertext of r to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key for the rest of the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Sweeper removes stale temporary artifacts left by interrupted writes.
type Sweeper interface {
	// Sweep deletes matching files under root last modified before cutoff
	// and returns their paths.
	Sweep(root string, cutoff time.Time) ([]string, error)
}
