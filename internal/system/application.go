// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package system

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Application is a digital signage player and its systemd unit.
type Application struct {
	Name string
	Unit string
}

// Applications in order of preference.
var Applications = []Application{
	{Name: "html", Unit: "html5ds.service"},
	{Name: "air", Unit: "application.service"},
}

// LookupApplication resolves an application by name or unit name.
func LookupApplication(id string) (Application, error) {
	for _, a := range Applications {
		if strings.EqualFold(a.Name, id) || a.Unit == id {
			return a, nil
		}
	}
	return Application{}, fmt.Errorf("%w: %q", ErrUnknownApplication, id)
}

// PreferredApplication returns the first application whose unit file is
// installed.
func (e *Executor) PreferredApplication() (Application, error) {
	for _, a := range Applications {
		if ok, _ := regularFile(e.fs, filepath.Join(e.cfg.ServicesDir, a.Unit)); ok {
			return a, nil
		}
	}
	return Application{}, ErrNoApplication
}

func (e *Executor) application(id string) (Application, error) {
	if id == "" {
		return e.PreferredApplication()
	}
	return LookupApplication(id)
}

// EnableApplication enables and starts the application unit.
func (e *Executor) EnableApplication(ctx context.Context, id string) (Application, error) {
	return e.toggleApplication(ctx, "enable", id)
}

// DisableApplication disables and stops the application unit.
func (e *Executor) DisableApplication(ctx context.Context, id string) (Application, error) {
	return e.toggleApplication(ctx, "disable", id)
}

func (e *Executor) toggleApplication(ctx context.Context, verb, id string) (Application, error) {
	if err := e.supported(); err != nil {
		return Application{}, err
	}
	app, err := e.application(id)
	if err != nil {
		return Application{}, err
	}
	_, err = e.sudo(ctx, Systemctl, verb, "--now", app.Unit)
	return app, err
}

// ServiceState lists the applications that are enabled and running.
type ServiceState struct {
	Enabled []string `json:"enabled"`
	Running []string `json:"running"`
}

// ApplicationStatus queries every known application unit.
func (e *Executor) ApplicationStatus(ctx context.Context) (ServiceState, error) {
	if err := e.supported(); err != nil {
		return ServiceState{}, err
	}
	state := ServiceState{Enabled: []string{}, Running: []string{}}
	for _, a := range Applications {
		if e.check(ctx, Systemctl, "is-enabled", a.Unit, "--quiet") {
			state.Enabled = append(state.Enabled, a.Name)
		}
		if e.check(ctx, Systemctl, "is-active", a.Unit, "--quiet") {
			state.Running = append(state.Running, a.Name)
		}
	}
	return state, nil
}
