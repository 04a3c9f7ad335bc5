package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnvVar overrides the webpilot home directory.
const HomeEnvVar = "WEBPILOT_HOME"

// GetHome returns the webpilot home directory, creating it if needed.
// Priority: $WEBPILOT_HOME, then .webpilot in the working directory.
func GetHome() (string, error) {
	home := os.Getenv(HomeEnvVar)
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".webpilot")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create webpilot home directory: %w", err)
	}
	return home, nil
}

// Load resolves the home directory, reads config.yaml from it (or from
// explicitPath when non-empty) and fills default paths.
func Load(explicitPath string) (*Config, string, error) {
	home, err := GetHome()
	if err != nil {
		return nil, "", err
	}

	path := explicitPath
	if path == "" {
		path = filepath.Join(home, "config.yaml")
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, "", err
	}
	cfg.ResolvePaths(home)
	return cfg, home, nil
}
