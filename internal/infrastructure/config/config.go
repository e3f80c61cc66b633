// Package config provides configuration loading for the henix application.
// It handles environment-variable settings and the deploy inventory, which
// comes from the configuration flake's .#deploy output or a henix.yaml file.
package config

import (
	"os"
)

// Environment variable names.
const (
	// EnvBaseDir is the remote base directory under which slots are created.
	EnvBaseDir = "HENIX_BASE_DIR"

	// EnvSSHUser is the remote user for ssh and rsync.
	EnvSSHUser = "HENIX_SSH_USER"

	// EnvInventory is an explicit path to a YAML inventory file, bypassing
	// flake evaluation.
	EnvInventory = "HENIX_INVENTORY"

	// EnvLogLevel is the log level (debug, info, warn, error).
	EnvLogLevel = "LOG_LEVEL"
)

// Default values.
const (
	DefaultBaseDir  = "/etc/henix"
	DefaultSSHUser  = "root"
	DefaultLogLevel = "info"
)

// Config holds all application configuration.
type Config struct {
	// BaseDir is the remote directory under which configuration slots live.
	BaseDir string

	// SSHUser is the remote user; rebuilds need elevated privileges, so
	// this defaults to root like the original deployment contract.
	SSHUser string

	// InventoryPath is an explicit inventory file path, empty when the
	// inventory should come from the flake.
	InventoryPath string

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string
}

// Load loads the application configuration from environment variables,
// applying defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		BaseDir:       getenvDefault(EnvBaseDir, DefaultBaseDir),
		SSHUser:       getenvDefault(EnvSSHUser, DefaultSSHUser),
		InventoryPath: os.Getenv(EnvInventory),
		LogLevel:      getenvDefault(EnvLogLevel, DefaultLogLevel),
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
