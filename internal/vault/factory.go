package vault

import (
	"context"
	"errors"
	"fmt"

	"sg-go/internal/config"
	"sg-go/internal/sg"
)

// ErrUnknownType is returned for a [[vaults]] type sg does not support.
var ErrUnknownType = errors.New("unknown vault type")

// NewVaultFromConfig builds the vault a [[vaults]] entry describes. The
// entry's name labels the vault in logs and status output.
func NewVaultFromConfig(cfg config.VaultConfig) (sg.Vault, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%s vault needs a name", cfg.Type)
	}
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("vault %s: filesystem vault requires fs_vault_root", cfg.Name)
		}
		return wrap(NewFileSystemVault(cfg.Name, cfg.FSVaultRoot))
	case "s3":
		return wrap(NewS3VaultFromConfig(context.Background(), cfg))
	}
	return nil, fmt.Errorf("vault %s: %w %q", cfg.Name, ErrUnknownType, cfg.Type)
}

// wrap keeps a failed constructor's typed nil out of the sg.Vault result.
func wrap[V sg.Vault](v V, err error) (sg.Vault, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
