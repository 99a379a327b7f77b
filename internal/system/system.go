// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package system runs the administrative commands granted to the signage
// account. Every privileged invocation is checked against the loaded sudoers
// policy before it is handed to sudo, so a command the fragment does not
// grant never reaches the privilege tool.
package system // import "github.com/digsig/sudokeeper/internal/system"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/spf13/afero"
)

var (
	// ErrNotGranted is returned when the policy does not permit a command.
	ErrNotGranted = errors.New("command is not granted by the sudoers policy")
	// ErrUnderAdministration blocks disruptive actions while an admin is logged in.
	ErrUnderAdministration = errors.New("the system is currently under administration")
	// ErrPackageManagerActive blocks actions while pacman is running or locked.
	ErrPackageManagerActive = errors.New("the package manager is currently running")
	// ErrUnknownApplication is returned for an application identifier that
	// matches neither a name nor a unit.
	ErrUnknownApplication = errors.New("invalid application")
	// ErrNoApplication is returned when no application unit is installed.
	ErrNoApplication = errors.New("no application installed")
	// ErrNotImplemented is returned on platforms without systemd tooling.
	ErrNotImplemented = errors.New("action is not implemented on this platform")
)

const (
	Sudo      = "/usr/bin/sudo"
	Systemctl = "/usr/bin/systemctl"
	Loginctl  = "/usr/bin/loginctl"
	Pidof     = "/usr/bin/pidof"
	Smartctl  = "/usr/bin/smartctl"
	BeepBin   = "/usr/bin/beep"
	Rm        = "/usr/bin/rm"
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// Config holds host-specific settings for the executor.
type Config struct {
	// AdminUsers are accounts whose login session blocks a reboot.
	AdminUsers []string
	// ServicesDir holds installed systemd unit files.
	ServicesDir string
	// PacmanLockfile is the pacman database lock.
	PacmanLockfile string
}

// DefaultConfig returns the stock signage host layout.
func DefaultConfig() Config {
	return Config{
		AdminUsers:     []string{"homeinfo", "root"},
		ServicesDir:    "/usr/lib/systemd/system",
		PacmanLockfile: policy.PacmanLockfile,
	}
}

// Executor runs granted commands for one principal.
type Executor struct {
	policy    *policy.Policy
	principal string
	runner    Runner
	fs        afero.Fs
	cfg       Config
	goos      string
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option { return func(e *Executor) { e.runner = r } }

// WithFs replaces the filesystem used for lock and unit file checks.
func WithFs(fs afero.Fs) Option { return func(e *Executor) { e.fs = fs } }

// WithConfig replaces the host configuration.
func WithConfig(cfg Config) Option { return func(e *Executor) { e.cfg = cfg } }

// withGOOS overrides the platform check in tests.
func withGOOS(goos string) Option { return func(e *Executor) { e.goos = goos } }

// NewExecutor returns an Executor bound to p and principal.
func NewExecutor(p *policy.Policy, principal string, opts ...Option) *Executor {
	e := &Executor{
		policy:    p,
		principal: principal,
		runner:    ExecRunner{},
		fs:        afero.NewOsFs(),
		cfg:       DefaultConfig(),
		goos:      runtime.GOOS,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Executor) supported() error {
	if e.goos != "linux" {
		return ErrNotImplemented
	}
	return nil
}

// sudo runs argv through sudo after checking the policy grants it.
func (e *Executor) sudo(ctx context.Context, argv ...string) ([]byte, error) {
	alias, ok := e.policy.Permits(e.principal, argv)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotGranted, strings.Join(argv, " "))
	}
	logging.Debugf("running %s via alias %s", strings.Join(argv, " "), alias)
	out, err := e.runner.Run(ctx, Sudo, append([]string{"-n"}, argv...)...)
	if err != nil {
		return out, fmt.Errorf("sudo %s: %w", strings.Join(argv, " "), err)
	}
	return out, nil
}

// check runs an unprivileged command and reports whether it exited zero.
func (e *Executor) check(ctx context.Context, name string, args ...string) bool {
	_, err := e.runner.Run(ctx, name, args...)
	return err == nil
}

// Beep performs a speaker beep to identify the system.
func (e *Executor) Beep(ctx context.Context, args ...string) error {
	if err := e.supported(); err != nil {
		return err
	}
	if out, err := e.runner.Run(ctx, BeepBin, args...); err != nil {
		return fmt.Errorf("beep: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}
