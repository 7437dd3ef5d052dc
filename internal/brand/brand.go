// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package brand provides centralized branding constants for the daemon.
// The identity is loaded from brand.json at compile time via go:embed so
// other tools (packaging scripts, docs) can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information.
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Vendor           string `json:"vendor"`
	Description      string `json:"description"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultRunDir    string `json:"defaultRunDir"`
	BinaryName       string `json:"binaryName"`
	ServiceName      string `json:"serviceName"`
	ConfigFileName   string `json:"configFileName"`
	SettingsFileName string `json:"settingsFileName"`
	PackagesFileName string `json:"packagesFileName"`
}

var b Brand

// Exported branding variables, initialized from brand.json.
var (
	Name             string
	LowerName        string
	Vendor           string
	Description      string
	DefaultConfigDir string
	BinaryName       string
	ServiceName      string
	ConfigFileName   string
	SettingsFileName string
	PackagesFileName string
)

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Vendor = b.Vendor
	Description = b.Description
	DefaultConfigDir = b.DefaultConfigDir
	BinaryName = b.BinaryName
	ServiceName = b.ServiceName
	ConfigFileName = b.ConfigFileName
	SettingsFileName = b.SettingsFileName
	PackagesFileName = b.PackagesFileName
}

// GetRunDir returns the runtime directory, honoring an override for tests
// and non-root runs.
func GetRunDir() string {
	if dir := os.Getenv("NETPERM_RUN_DIR"); dir != "" {
		return dir
	}
	return b.DefaultRunDir
}

// DefaultConfigFile returns the full path of the default config file.
func DefaultConfigFile() string {
	return filepath.Join(b.DefaultConfigDir, b.ConfigFileName)
}

// DefaultSettingsFile returns the full path of the default settings file.
func DefaultSettingsFile() string {
	return filepath.Join(b.DefaultConfigDir, b.SettingsFileName)
}

// DefaultPackagesFile returns the full path of the default package manifest.
func DefaultPackagesFile() string {
	return filepath.Join(b.DefaultConfigDir, b.PackagesFileName)
}
