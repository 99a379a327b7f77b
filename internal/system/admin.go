// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/spf13/afero"
)

// Session is one entry of `loginctl list-sessions -o json`.
type Session struct {
	Session string `json:"session"`
	UID     int    `json:"uid"`
	User    string `json:"user"`
	Seat    string `json:"seat"`
	TTY     string `json:"tty"`
}

// Sessions lists the active login sessions.
func (e *Executor) Sessions(ctx context.Context) ([]Session, error) {
	out, err := e.runner.Run(ctx, Loginctl, "list-sessions", "-o", "json")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []Session
	if err := json.Unmarshal(out, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

// LoggedInUsers returns the distinct users with an active session.
func (e *Executor) LoggedInUsers(ctx context.Context) ([]string, error) {
	sessions, err := e.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var users []string
	for _, s := range sessions {
		if !slices.Contains(users, s.User) {
			users = append(users, s.User)
		}
	}
	return users, nil
}

// UnderAdministration reports whether an admin user is logged in.
func (e *Executor) UnderAdministration(ctx context.Context) (bool, error) {
	users, err := e.LoggedInUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if slices.Contains(e.cfg.AdminUsers, u) {
			return true, nil
		}
	}
	return false, nil
}

// PacmanRunning reports whether a pacman process exists.
func (e *Executor) PacmanRunning(ctx context.Context) bool {
	return e.check(ctx, Pidof, "pacman")
}

// PacmanLocked reports whether the pacman database lock exists. A lock
// that cannot be checked counts as held.
func (e *Executor) PacmanLocked() bool {
	ok, err := regularFile(e.fs, e.cfg.PacmanLockfile)
	if err != nil {
		logging.Warnf("cannot check pacman lock %s: %v", e.cfg.PacmanLockfile, err)
		return true
	}
	return ok
}

// regularFile reports whether path names a regular file. A missing path is
// not an error.
func regularFile(fsys afero.Fs, path string) (bool, error) {
	fi, err := fsys.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

// Reboot restarts the host unless an admin is logged in or the package
// manager is busy.
func (e *Executor) Reboot(ctx context.Context) error {
	if err := e.supported(); err != nil {
		return err
	}
	admin, err := e.UnderAdministration(ctx)
	if err != nil {
		return err
	}
	if admin {
		return ErrUnderAdministration
	}
	if e.PacmanLocked() || e.PacmanRunning(ctx) {
		return ErrPackageManagerActive
	}
	_, err = e.sudo(ctx, Systemctl, "reboot")
	return err
}

// UnlockPacman removes a stale pacman lock. It refuses while pacman runs.
func (e *Executor) UnlockPacman(ctx context.Context) error {
	if err := e.supported(); err != nil {
		return err
	}
	if e.PacmanRunning(ctx) {
		return ErrPackageManagerActive
	}
	_, err := e.sudo(ctx, Rm, "-f", e.cfg.PacmanLockfile)
	return err
}
