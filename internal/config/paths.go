package config

import (
	"context"
	"path/filepath"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/pollcast/pollcast/internal/appid"
)

// appNamesForPaths returns the config name and binary name from app
// identity, falling back to "pollcast" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "pollcast"
	binaryName = "pollcast"

	identity, err := appid.Get(context.Background())
	if err != nil || identity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(identity.ConfigName) != "" {
		configName = identity.ConfigName
	}
	if strings.TrimSpace(identity.BinaryName) != "" {
		binaryName = identity.BinaryName
	}
	return configName, binaryName
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}
