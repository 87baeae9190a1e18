package encryption

import (
	"errors"
	"testing"

	"sg-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	keys := func(pub, priv string) config.EncryptionConfig {
		return config.EncryptionConfig{Type: "age", PublicKeyPath: pub, PrivateKeyPath: priv}
	}
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		want    string
		wantErr bool
	}{
		{name: "age", cfg: keys("keys/sg.pub", "keys/sg.key"), want: "age"},
		{name: "empty type is age", cfg: config.EncryptionConfig{PublicKeyPath: "a.pub", PrivateKeyPath: "a.key"}, want: "age"},
		{name: "age missing public key", cfg: keys("", "keys/sg.key"), wantErr: true},
		{name: "age missing private key", cfg: keys("keys/sg.pub", ""), wantErr: true},
		{name: "age same file twice", cfg: keys("keys/sg", "keys/../keys/sg"), wantErr: true},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}, want: "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch got.(type) {
			case *AgeEncryptor:
				if tt.want != "age" {
					t.Errorf("got an age encryptor, want %s", tt.want)
				}
			case *TestEncryptor:
				if tt.want != "test" {
					t.Errorf("got a test encryptor, want %s", tt.want)
				}
			default:
				t.Errorf("unexpected encryptor %T", got)
			}
		})
	}
}

func TestNewEncryptorFromConfig_UnknownType(t *testing.T) {
	_, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "rot13"})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}
