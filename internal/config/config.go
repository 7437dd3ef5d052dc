// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon's HCL configuration.
package config

import (
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/netperm/internal/brand"
	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
)

// Config is the daemon configuration, decoded from netperm.hcl.
type Config struct {
	Device  *DeviceConfig  `hcl:"device,block"`
	API     *APIConfig     `hcl:"api,block"`
	Logging *LoggingConfig `hcl:"logging,block"`
	Paths   *PathsConfig   `hcl:"paths,block"`

	// SystemPermissions grants traffic permissions to fixed uids by static
	// configuration, independent of any installed package.
	SystemPermissions []SystemPermission `hcl:"system_permission,block"`
}

// DeviceConfig carries immutable properties of the device.
type DeviceConfig struct {
	// FirstSDKInt is the SDK version the device first shipped with.
	FirstSDKInt int `hcl:"first_sdk_int,optional"`
}

// APIConfig controls the local HTTP API.
type APIConfig struct {
	Enabled bool   `hcl:"enabled,optional"`
	Listen  string `hcl:"listen,optional"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string                `hcl:"level,optional"`
	Syslog *logging.SyslogConfig `hcl:"syslog,block"`
}

// PathsConfig points at the data files the daemon watches.
type PathsConfig struct {
	PackagesFile string `hcl:"packages_file,optional"`
	SettingsFile string `hcl:"settings_file,optional"`
}

// SystemPermission grants one named permission to a list of uids.
type SystemPermission struct {
	Name string `hcl:"name,label"`
	Uids []int  `hcl:"uids"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Device == nil {
		c.Device = &DeviceConfig{}
	}
	if c.Device.FirstSDKInt == 0 {
		c.Device.FirstSDKInt = 30
	}
	if c.API == nil {
		c.API = &APIConfig{Enabled: true}
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8680"
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Paths == nil {
		c.Paths = &PathsConfig{}
	}
	if c.Paths.PackagesFile == "" {
		c.Paths.PackagesFile = brand.DefaultPackagesFile()
	}
	if c.Paths.SettingsFile == "" {
		c.Paths.SettingsFile = brand.DefaultSettingsFile()
	}
}

// Load reads and validates the configuration file at path. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "reading config file")
	}
	return Parse(path, data)
}

// Parse decodes and validates configuration bytes.
func Parse(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "decoding config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Device.FirstSDKInt < 1 {
		return errors.Errorf(errors.KindValidation,
			"device.first_sdk_int must be positive, got %d", c.Device.FirstSDKInt)
	}
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New(errors.KindValidation, "api.listen is required when the api is enabled")
	}
	seen := make(map[string]struct{})
	for _, sp := range c.SystemPermissions {
		if _, dup := seen[sp.Name]; dup {
			return errors.Errorf(errors.KindValidation,
				"duplicate system_permission block %q", sp.Name)
		}
		seen[sp.Name] = struct{}{}
		for _, uid := range sp.Uids {
			if uid < 0 {
				return errors.Errorf(errors.KindValidation,
					"system_permission %q lists negative uid %d", sp.Name, uid)
			}
		}
	}
	return nil
}

// SystemPermissionUids returns the uids statically granted perm.
func (c *Config) SystemPermissionUids(perm string) []int {
	for _, sp := range c.SystemPermissions {
		if sp.Name == perm {
			return sp.Uids
		}
	}
	return nil
}

// LoggerConfig converts the logging section into a logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Logging.Level)
	if c.Logging.Syslog != nil {
		lc.Syslog = *c.Logging.Syslog
	}
	return lc
}
