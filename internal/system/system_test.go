// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package system

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/spf13/afero"
)

type result struct {
	out string
	err error
}

// fakeRunner answers commands by their joined argv and records every call.
type fakeRunner struct {
	results map[string]result
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	if r, ok := f.results[key]; ok {
		return []byte(r.out), r.err
	}
	return nil, errors.New("exit status 1")
}

func (f *fakeRunner) called(key string) bool {
	return slices.Contains(f.calls, key)
}

var errExit = errors.New("exit status 1")

func newExecutor(t *testing.T, profile string, r *fakeRunner, fsys afero.Fs) *Executor {
	t.Helper()
	pr, err := policy.NewSet().Lookup(profile)
	if err != nil {
		t.Fatal(err)
	}
	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	return NewExecutor(pr.Policy(policy.DefaultPrincipal, 1), string(policy.DefaultPrincipal),
		WithRunner(r), WithFs(fsys), withGOOS("linux"))
}

const noSessions = `[]`
const adminSession = `[{"session":"3","uid":1000,"user":"homeinfo","seat":"","tty":"pts/0"}]`
const userSession = `[{"session":"1","uid":1001,"user":"digsig","seat":"seat0","tty":"tty1"}]`

func TestReboot(t *testing.T) {
	const rebootCmd = "/usr/bin/sudo -n /usr/bin/systemctl reboot"

	tests := []struct {
		name     string
		sessions string
		pacman   bool
		lockfile bool
		want     error
		rebooted bool
	}{
		{name: "ok", sessions: userSession, rebooted: true},
		{name: "no sessions", sessions: noSessions, rebooted: true},
		{name: "admin logged in", sessions: adminSession, want: ErrUnderAdministration},
		{name: "pacman running", sessions: noSessions, pacman: true, want: ErrPackageManagerActive},
		{name: "pacman locked", sessions: noSessions, lockfile: true, want: ErrPackageManagerActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{results: map[string]result{
				"/usr/bin/loginctl list-sessions -o json": {out: tt.sessions},
				rebootCmd: {},
			}}
			if tt.pacman {
				r.results["/usr/bin/pidof pacman"] = result{out: "1234"}
			}
			fsys := afero.NewMemMapFs()
			if tt.lockfile {
				_ = afero.WriteFile(fsys, policy.PacmanLockfile, nil, 0o644)
			}
			e := newExecutor(t, policy.ProfileReduced, r, fsys)
			err := e.Reboot(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Reboot() error = %v, want %v", err, tt.want)
			}
			if r.called(rebootCmd) != tt.rebooted {
				t.Fatalf("reboot invoked = %v, want %v (calls %v)", r.called(rebootCmd), tt.rebooted, r.calls)
			}
		})
	}
}

// statErrFs fails every Stat with err.
type statErrFs struct {
	afero.Fs
	err error
}

func (f statErrFs) Stat(name string) (os.FileInfo, error) {
	return nil, &fs.PathError{Op: "stat", Path: name, Err: f.err}
}

func TestPacmanLocked(t *testing.T) {
	dirLock := afero.NewMemMapFs()
	_ = dirLock.MkdirAll(policy.PacmanLockfile, 0o755)
	fileLock := afero.NewMemMapFs()
	_ = afero.WriteFile(fileLock, policy.PacmanLockfile, nil, 0o644)

	tests := []struct {
		name string
		fsys afero.Fs
		want bool
	}{
		{name: "absent", fsys: afero.NewMemMapFs(), want: false},
		{name: "regular file", fsys: fileLock, want: true},
		{name: "directory", fsys: dirLock, want: false},
		{name: "permission denied", fsys: statErrFs{Fs: afero.NewMemMapFs(), err: fs.ErrPermission}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExecutor(t, policy.ProfileReduced, &fakeRunner{}, tt.fsys)
			if got := e.PacmanLocked(); got != tt.want {
				t.Fatalf("PacmanLocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReboot_SessionsError(t *testing.T) {
	r := &fakeRunner{results: map[string]result{}}
	e := newExecutor(t, policy.ProfileFull, r, nil)
	if err := e.Reboot(context.Background()); err == nil || !strings.Contains(err.Error(), "list sessions") {
		t.Fatalf("expected list sessions error, got %v", err)
	}
}

func TestUnlockPacman(t *testing.T) {
	const unlock = "/usr/bin/sudo -n /usr/bin/rm -f /var/lib/pacman/db.lck"

	r := &fakeRunner{results: map[string]result{unlock: {}}}
	if err := newExecutor(t, policy.ProfileReduced, r, nil).UnlockPacman(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.called(unlock) {
		t.Fatalf("expected unlock invocation, calls %v", r.calls)
	}

	r = &fakeRunner{results: map[string]result{"/usr/bin/pidof pacman": {out: "99"}, unlock: {}}}
	err := newExecutor(t, policy.ProfileReduced, r, nil).UnlockPacman(context.Background())
	if !errors.Is(err, ErrPackageManagerActive) || r.called(unlock) {
		t.Fatalf("expected refusal while pacman runs, got %v", err)
	}
}

func TestUnlockPacman_LockfileOutsidePolicy(t *testing.T) {
	r := &fakeRunner{results: map[string]result{}}
	e := newExecutor(t, policy.ProfileReduced, r, nil)
	e.cfg.PacmanLockfile = "/tmp/db.lck"
	err := e.UnlockPacman(context.Background())
	if !errors.Is(err, ErrNotGranted) {
		t.Fatalf("expected ErrNotGranted, got %v", err)
	}
	for _, c := range r.calls {
		if strings.HasPrefix(c, Sudo) {
			t.Fatalf("sudo must not be invoked for an ungranted command: %v", r.calls)
		}
	}
}

func TestApplications(t *testing.T) {
	const enableHTML = "/usr/bin/sudo -n /usr/bin/systemctl enable --now html5ds.service"
	const disableAir = "/usr/bin/sudo -n /usr/bin/systemctl disable --now application.service"

	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/usr/lib/systemd/system/html5ds.service", nil, 0o644)

	r := &fakeRunner{results: map[string]result{enableHTML: {}, disableAir: {}}}
	e := newExecutor(t, policy.ProfileFull, r, fsys)

	app, err := e.EnableApplication(context.Background(), "")
	if err != nil || app.Name != "html" {
		t.Fatalf("preferred enable: app=%+v err=%v", app, err)
	}
	if _, err := e.DisableApplication(context.Background(), "application.service"); err != nil {
		t.Fatalf("disable by unit: %v", err)
	}
	if _, err := e.EnableApplication(context.Background(), "flash"); !errors.Is(err, ErrUnknownApplication) {
		t.Fatalf("expected ErrUnknownApplication, got %v", err)
	}

	// The reduced profile only grants toggling application.service.
	reduced := newExecutor(t, policy.ProfileReduced, r, fsys)
	if _, err := reduced.EnableApplication(context.Background(), "html"); !errors.Is(err, ErrNotGranted) {
		t.Fatalf("expected ErrNotGranted under reduced profile, got %v", err)
	}
}

func TestPreferredApplication_SkipsDirectories(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = fsys.MkdirAll("/usr/lib/systemd/system/html5ds.service", 0o755)
	_ = afero.WriteFile(fsys, "/usr/lib/systemd/system/application.service", nil, 0o644)

	app, err := newExecutor(t, policy.ProfileFull, &fakeRunner{}, fsys).PreferredApplication()
	if err != nil || app.Name != "air" {
		t.Fatalf("PreferredApplication() = %+v, %v; want air", app, err)
	}
}

func TestPreferredApplication_NoneInstalled(t *testing.T) {
	e := newExecutor(t, policy.ProfileFull, &fakeRunner{}, afero.NewMemMapFs())
	if _, err := e.EnableApplication(context.Background(), ""); !errors.Is(err, ErrNoApplication) {
		t.Fatalf("expected ErrNoApplication, got %v", err)
	}
}

func TestApplicationStatus(t *testing.T) {
	r := &fakeRunner{results: map[string]result{
		"/usr/bin/systemctl is-enabled html5ds.service --quiet": {},
		"/usr/bin/systemctl is-active html5ds.service --quiet":  {},
		"/usr/bin/systemctl is-enabled application.service --quiet": {},
	}}
	st, err := newExecutor(t, policy.ProfileFull, r, nil).ApplicationStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(st.Enabled, []string{"html", "air"}) || !slices.Equal(st.Running, []string{"html"}) {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestSmartStates(t *testing.T) {
	r := &fakeRunner{results: map[string]result{
		"/usr/bin/sudo -n /usr/bin/smartctl --scan-open": {out: "/dev/sda -d sat # /dev/sda [SAT], ATA device\n/dev/nvme0 -d nvme # /dev/nvme0, NVMe device\n"},
		"/usr/bin/sudo -n /usr/bin/smartctl -H /dev/sda": {out: "smartctl 7.4\n=== START OF READ SMART DATA SECTION ===\nSMART overall-health self-assessment test result: PASSED\n"},
		"/usr/bin/sudo -n /usr/bin/smartctl -H /dev/nvme0": {out: "SMART overall-health self-assessment test result: FAILED!\n", err: errExit},
	}}
	states, err := newExecutor(t, policy.ProfileFull, r, nil).SmartStates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if states["/dev/sda"] != "PASSED" || states["/dev/nvme0"] != "FAILED!" || len(states) != 2 {
		t.Fatalf("unexpected states: %v", states)
	}

	// smartctl is not part of the reduced allow-list.
	_, err = newExecutor(t, policy.ProfileReduced, r, nil).SmartStates(context.Background())
	if !errors.Is(err, ErrNotGranted) {
		t.Fatalf("expected ErrNotGranted, got %v", err)
	}
}

func TestParseSmartHealth_Unknown(t *testing.T) {
	if got := parseSmartHealth([]byte("no verdict here\n")); got != SmartUnknown {
		t.Fatalf("expected UNKNOWN, got %q", got)
	}
}

func TestBeepAndPlatform(t *testing.T) {
	r := &fakeRunner{results: map[string]result{"/usr/bin/beep -f 1000": {}}}
	e := newExecutor(t, policy.ProfileFull, r, nil)
	if err := e.Beep(context.Background(), "-f", "1000"); err != nil {
		t.Fatalf("beep: %v", err)
	}

	other := NewExecutor(e.policy, "digsig", WithRunner(r), withGOOS("windows"))
	if err := other.Reboot(context.Background()); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}
