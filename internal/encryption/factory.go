package encryption

import (
	"errors"
	"fmt"
	"path/filepath"

	"sg-go/internal/config"
	"sg-go/internal/sg"
)

// ErrUnknownType is returned for an [encryption] type sg does not support.
var ErrUnknownType = errors.New("unknown encryption type")

// NewEncryptorFromConfig returns the encryptor used to seal mirrored
// snapshots. An empty type selects age.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (sg.Encryptor, error) {
	switch cfg.Type {
	case "", "age":
		if err := checkKeyPaths(cfg); err != nil {
			return nil, err
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
}

func checkKeyPaths(cfg config.EncryptionConfig) error {
	if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
		return fmt.Errorf("age encryption requires public_key_path and private_key_path")
	}
	if filepath.Clean(cfg.PublicKeyPath) == filepath.Clean(cfg.PrivateKeyPath) {
		return fmt.Errorf("public_key_path and private_key_path both point at %s", cfg.PublicKeyPath)
	}
	return nil
}
