// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config provides configuration loading and persistence for
// sudokeeper. It uses Viper for file/env/flag parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	appName   = "sudokeeper"
	envPrefix = "SUDOKEEPER"
)

// Config is the full sudokeeper configuration.
type Config struct {
	Database Database `mapstructure:"database" yaml:"database"`
	Language string   `mapstructure:"language" yaml:"language"`
	Debug    bool     `mapstructure:"debug" yaml:"debug"`
	Policy   Policy   `mapstructure:"policy" yaml:"policy"`
	System   System   `mapstructure:"system" yaml:"system"`
	Deploy   Deploy   `mapstructure:"deploy" yaml:"deploy"`
}

type Database struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// Policy selects the authoritative fragment.
type Policy struct {
	Profile      string `mapstructure:"profile" yaml:"profile"`
	Principal    string `mapstructure:"principal" yaml:"principal"`
	Path         string `mapstructure:"path" yaml:"path"`
	ProfilesFile string `mapstructure:"profiles_file" yaml:"profiles_file,omitempty"`
}

// System describes the local signage host.
type System struct {
	AdminUsers     []string `mapstructure:"admin_users" yaml:"admin_users"`
	ServicesDir    string   `mapstructure:"services_dir" yaml:"services_dir"`
	PacmanLockfile string   `mapstructure:"pacman_lockfile" yaml:"pacman_lockfile"`
}

// Deploy holds fleet rollout settings.
type Deploy struct {
	User           string        `mapstructure:"user" yaml:"user"`
	Port           int           `mapstructure:"port" yaml:"port"`
	PrivateKeyFile string        `mapstructure:"private_key_file" yaml:"private_key_file,omitempty"`
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Visudo         bool          `mapstructure:"visudo" yaml:"visudo"`
}

// Defaults returns the built-in configuration values keyed by viper path.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":           "sqlite",
		"database.dsn":            "./sudokeeper.db",
		"language":                "en",
		"debug":                   false,
		"policy.profile":          "full",
		"policy.principal":        "digsig",
		"policy.path":             "/etc/sudoers.d/digsig",
		"policy.profiles_file":    "",
		"system.admin_users":      []string{"homeinfo", "root"},
		"system.services_dir":     "/usr/lib/systemd/system",
		"system.pacman_lockfile":  "/var/lib/pacman/db.lck",
		"deploy.user":             "root",
		"deploy.port":             22,
		"deploy.private_key_file": "",
		"deploy.concurrency":      8,
		"deploy.timeout":          "30s",
		"deploy.visudo":           true,
	}
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Sudokeeper")
		default:
			configDir = "/etc/" + appName
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, appName)
	}
	return filepath.Join(configDir, appName+".yaml"), nil
}

// LoadConfig merges defaults, the first config file found, SUDOKEEPER_*
// environment variables and the command's flags into a T.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(appName)
	v.SetConfigType("yaml")

	// An explicit --config path takes precedence over the search paths.
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	if p, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	if p, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// WriteConfigFile persists c to the user or system config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigTo(c, path)
}

// WriteConfigTo persists c as YAML at path.
func WriteConfigTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// 0600: the DSN may carry credentials.
	return os.WriteFile(path, data, 0o600)
}
