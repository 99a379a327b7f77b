// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/digsig/sudokeeper/internal/config"
	"github.com/spf13/cobra"
)

// isolate points the user config dir and working directory at a temp dir so
// no real sudokeeper.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("HOME", tmp)
	t.Chdir(tmp)
	return tmp
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	got, err := config.LoadConfig[config.Config](&cobra.Command{}, config.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "sqlite" || got.Policy.Profile != "full" || got.Policy.Principal != "digsig" {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	if got.Policy.Path != "/etc/sudoers.d/digsig" {
		t.Fatalf("unexpected policy path %q", got.Policy.Path)
	}
	if got.Deploy.Concurrency != 8 || got.Deploy.Timeout != 30*time.Second || !got.Deploy.Visudo {
		t.Fatalf("unexpected deploy defaults: %+v", got.Deploy)
	}
	if !slices.Equal(got.System.AdminUsers, []string{"homeinfo", "root"}) {
		t.Fatalf("unexpected admin users: %v", got.System.AdminUsers)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := isolate(t)
	yaml := "database:\n  type: postgres\n  dsn: postgresql://user@/db\nlanguage: de\npolicy:\n  profile: reduced\n"
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := config.LoadConfig[config.Config](&cobra.Command{}, config.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "postgres" || got.Language != "de" || got.Policy.Profile != "reduced" {
		t.Fatalf("file values not applied: %+v", got)
	}
	// Keys absent from the file keep their defaults.
	if got.Policy.Principal != "digsig" {
		t.Fatalf("expected default principal, got %q", got.Policy.Principal)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tmp := isolate(t)
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte("policy:\n  profile: reduced\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SUDOKEEPER_POLICY_PROFILE", "full")
	t.Setenv("SUDOKEEPER_DEPLOY_CONCURRENCY", "2")

	got, err := config.LoadConfig[config.Config](&cobra.Command{}, config.Defaults(), &file)
	if err != nil {
		t.Fatal(err)
	}
	if got.Policy.Profile != "full" || got.Deploy.Concurrency != 2 {
		t.Fatalf("env not applied: %+v", got)
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	isolate(t)
	cmd := &cobra.Command{}
	cmd.Flags().String("language", "en", "")
	if err := cmd.Flags().Set("language", "de"); err != nil {
		t.Fatal(err)
	}

	got, err := config.LoadConfig[config.Config](cmd, config.Defaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Language != "de" {
		t.Fatalf("expected flag value de, got %q", got.Language)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	tmp := isolate(t)
	file := filepath.Join(tmp, "bad.yaml")
	if err := os.WriteFile(file, []byte("policy: [unterminated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadConfig[config.Config](&cobra.Command{}, config.Defaults(), &file); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestWriteConfigFile_RoundTrip(t *testing.T) {
	isolate(t)

	c := config.Config{Language: "de"}
	c.Database.Type = "sqlite"
	c.Database.Dsn = "./sudokeeper.db"
	c.Policy.Profile = "reduced"

	if err := config.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}
	path, err := config.GetConfigPath(false)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file at %s: %v", path, err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}

	got, err := config.LoadConfig[config.Config](&cobra.Command{}, config.Defaults(), &path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Policy.Profile != "reduced" || got.Language != "de" {
		t.Fatalf("round trip lost values: %+v", got)
	}
}
