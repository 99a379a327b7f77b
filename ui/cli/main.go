// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/digsig/sudokeeper/buildvars"
	"github.com/digsig/sudokeeper/internal/config"
	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/deploy"
	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/digsig/sudokeeper/internal/system"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const modulePath = "github.com/digsig/sudokeeper"

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// app carries the state shared by all commands of one invocation.
type app struct {
	cfg      config.Config
	cfgFile  string
	verbose  bool
	profiles *policy.Set

	// Overridable in tests.
	fs     afero.Fs
	runner system.Runner
	dial   deploy.Dialer
}

func newApp() *app {
	return &app{fs: afero.NewOsFs(), runner: system.ExecRunner{}}
}

// setup loads configuration, i18n and profiles. It runs before every
// command.
func (a *app) setup(cmd *cobra.Command) error {
	var cfgPath *string
	if a.cfgFile != "" {
		if _, err := os.Stat(a.cfgFile); err != nil {
			return fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		cfgPath = &a.cfgFile
	}
	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), cfgPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg

	debugOn := a.verbose || cfg.Debug
	logging.SetDebug(debugOn)
	db.SetDebug(debugOn)
	i18n.Init(cfg.Language)

	var extra []policy.Profile
	if cfg.Policy.ProfilesFile != "" {
		extra, err = policy.LoadProfiles(cfg.Policy.ProfilesFile)
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
	}
	a.profiles = policy.NewSet(extra...)
	if _, err := a.profiles.Lookup(cfg.Policy.Profile); err != nil {
		return err
	}

	if cfgPath == nil && !configExists() {
		if err := config.WriteConfigFile(&a.cfg, false); err != nil {
			logging.Warnf("could not write default config file: %v", err)
		} else {
			logging.Debugf("wrote default config to user config path")
		}
	}
	return nil
}

// configExists reports whether any searched location holds a config file.
func configExists() bool {
	var candidates []string
	for _, sys := range []bool{false, true} {
		if p, err := config.GetConfigPath(sys); err == nil {
			candidates = append(candidates, p)
		}
	}
	candidates = append(candidates, "sudokeeper.yaml")
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func (a *app) principal() policy.Principal {
	return policy.Principal(a.cfg.Policy.Principal)
}

// expected returns the configured profile's policy, or the named profile
// when name is set.
func (a *app) expected(name string, serial int) (*policy.Policy, error) {
	if name == "" {
		name = a.cfg.Policy.Profile
	}
	pr, err := a.profiles.Lookup(name)
	if err != nil {
		return nil, err
	}
	return pr.Policy(a.principal(), serial), nil
}

func (a *app) openStore() (*db.BunStore, error) {
	st, err := db.NewStoreFromDSN(a.cfg.Database.Type, a.cfg.Database.Dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return st, nil
}

func (a *app) systemConfig() system.Config {
	sc := system.DefaultConfig()
	if len(a.cfg.System.AdminUsers) > 0 {
		sc.AdminUsers = a.cfg.System.AdminUsers
	}
	if a.cfg.System.ServicesDir != "" {
		sc.ServicesDir = a.cfg.System.ServicesDir
	}
	if a.cfg.System.PacmanLockfile != "" {
		sc.PacmanLockfile = a.cfg.System.PacmanLockfile
	}
	return sc
}

// Execute runs the CLI entrypoint. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd creates and configures a new root cobra command. Every call
// returns an independent command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sudokeeper",
		Short: "Sudokeeper manages the sudoers fragment of digital signage hosts.",
		Long: `Sudokeeper renders, validates, installs and audits the sudoers fragment
that lets the signage account run its administrative commands without a
password: reboot, pacman unlock, application unit toggles and SMART checks.

The fragment is built from a named profile ("full" or "reduced"). The
configured profile is authoritative; check, verify and audit report which
profile an installed fragment actually matches.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Output language ("en", "de")`)
	cmd.PersistentFlags().String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "./sudokeeper.db", "Database connection string (DSN)")

	cmd.AddCommand(
		newRenderCmd(a),
		newCheckCmd(a),
		newVerifyCmd(a),
		newInstallCmd(a),
		newWatchCmd(a),
		newHostCmd(a),
		newDeployCmd(a),
		newAuditCmd(a),
		newRunCmd(a),
		newDashboardCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newMigrateCmd(a),
		newDBMaintainCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		// Skip configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
			return nil
		},
	}
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from the
// runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" && resolvedVersion == "dev" {
			resolvedVersion = info.Main.Version
		}
		// Some build paths only record our module as a dependency.
		if resolvedVersion == "dev" || resolvedVersion == "(devel)" {
			for _, dep := range info.Deps {
				if dep.Path == modulePath && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}

// promptForConfirmation displays a prompt and reads a line from in.
func promptForConfirmation(in io.Reader, out io.Writer, prompt string) string {
	fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}

// readInput reads a local file, or stdin when path is "-".
func (a *app) readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := afero.ReadFile(a.fs, filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return data, nil
}
