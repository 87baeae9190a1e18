package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths used when no config file says otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	SavesDir   string
}

// GetDefaults resolves default paths, checking environment variables first:
//   - SG_CONFIG_PATH: config file location (default: ~/.config/sg.toml)
//   - SG_HOME: base directory for sg data (default: ~/.local/share/sg)
func GetDefaults() (Defaults, error) {
	configPath, err := fromEnvOrHome("SG_CONFIG_PATH", ".config", "sg.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := fromEnvOrHome("SG_HOME", ".local", "share", "sg")
	if err != nil {
		return Defaults{}, err
	}

	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		SavesDir:   filepath.Join(baseDir, "saves"),
	}, nil
}

// fromEnvOrHome returns $env when set, else the path under the home directory.
func fromEnvOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
