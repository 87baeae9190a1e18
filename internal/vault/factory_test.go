package vault

import (
	"errors"
	"fmt"
	"testing"

	"sg-go/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.VaultConfig
		wantType string
		wantErr  bool
	}{
		{
			name:     "memory",
			cfg:      config.VaultConfig{Type: "memory", Name: "scratch"},
			wantType: "*vault.MemoryVault",
		},
		{
			name: "s3 with endpoint",
			cfg: config.VaultConfig{
				Type:       "s3",
				Name:       "minio",
				S3Bucket:   "saves",
				S3Region:   "us-east-1",
				S3Endpoint: "http://127.0.0.1:9000",
			},
			wantType: "*vault.S3Vault",
		},
		{
			name:    "s3 without bucket",
			cfg:     config.VaultConfig{Type: "s3", Name: "minio"},
			wantErr: true,
		},
		{
			name:    "filesystem without root",
			cfg:     config.VaultConfig{Type: "filesystem", Name: "usb"},
			wantErr: true,
		},
		{
			name:    "missing name",
			cfg:     config.VaultConfig{Type: "memory"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewVaultFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Errorf("NewVaultFromConfig() = %T, want nil on error", got)
				}
				return
			}
			if typ := fmt.Sprintf("%T", got); typ != tt.wantType {
				t.Errorf("NewVaultFromConfig() = %s, want %s", typ, tt.wantType)
			}
		})
	}
}

func TestNewVaultFromConfig_UnknownType(t *testing.T) {
	_, err := NewVaultFromConfig(config.VaultConfig{Type: "carrier-pigeon", Name: "coo"})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestNewVaultFromConfig_Filesystem(t *testing.T) {
	got, err := NewVaultFromConfig(config.VaultConfig{Type: "filesystem", Name: "usb", FSVaultRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewVaultFromConfig() error = %v", err)
	}
	if err := got.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}
