package encryption

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"sg-go/internal/sg"
)

// testMagic opens every TestEncryptor frame.
var testMagic = []byte("sg-test-seal/1\n")

var (
	// ErrWrongPassphrase is returned by TestEncryptor.Unlock.
	ErrWrongPassphrase = errors.New("wrong passphrase")
	// ErrBadFrame is returned when a sealed stream is not one TestEncryptor
	// produced, or was altered after sealing.
	ErrBadFrame = errors.New("not a valid test seal")
)

// TestEncryptor seals data without real cryptography: the frame is the
// magic line, the plaintext, and a SHA-256 trailer over the plaintext. Output
// is deterministic and never equal to its input. Before Setup every
// passphrase unlocks; afterwards only the one given to Setup does.
type TestEncryptor struct {
	passphrase string
	keyed      bool
}

var _ sg.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	e.passphrase, e.keyed = passphrase, true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	h := sha256.New()
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing seal: %w", err)
	}
	if _, err := io.Copy(io.MultiWriter(w, h), r); err != nil {
		return fmt.Errorf("sealing: %w", err)
	}
	if _, err := w.Write(h.Sum(nil)); err != nil {
		return fmt.Errorf("writing seal trailer: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (sg.DecryptionContext, error) {
	if e.keyed && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return testOpener{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// testOpener unseals TestEncryptor frames. It buffers the whole frame, since
// the trailer must be checked before any plaintext is released.
type testOpener struct{}

func (testOpener) Decrypt(r io.Reader, w io.Writer) error {
	frame, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading sealed data: %w", err)
	}
	body, ok := bytes.CutPrefix(frame, testMagic)
	if !ok || len(body) < sha256.Size {
		return ErrBadFrame
	}
	plain, trailer := body[:len(body)-sha256.Size], body[len(body)-sha256.Size:]
	if sum := sha256.Sum256(plain); !bytes.Equal(sum[:], trailer) {
		return ErrBadFrame
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("writing plaintext: %w", err)
	}
	return nil
}
