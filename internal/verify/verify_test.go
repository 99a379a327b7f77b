// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/spf13/afero"
)

const installPath = "/etc/sudoers.d/digsig"

func hostFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for _, bin := range []string{"/usr/bin/systemctl", "/usr/bin/rm", "/usr/bin/smartctl"} {
		if err := afero.WriteFile(fsys, bin, []byte("#!"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return fsys
}

func expected(t *testing.T, profile string) *policy.Policy {
	t.Helper()
	pr, err := policy.NewSet().Lookup(profile)
	if err != nil {
		t.Fatal(err)
	}
	return pr.Policy(policy.DefaultPrincipal, 1)
}

func TestExecutables(t *testing.T) {
	fsys := hostFs(t)
	p := expected(t, policy.ProfileFull)
	if findings := Executables(fsys, p); len(findings) != 0 {
		t.Fatalf("expected no findings, got %v", findings)
	}

	if err := fsys.Remove("/usr/bin/smartctl"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Chmod("/usr/bin/rm", 0o644); err != nil {
		t.Fatal(err)
	}
	findings := Executables(fsys, p)
	if len(findings) != 2 {
		t.Fatalf("expected two findings, got %v", findings)
	}
	got := findings[0].String() + "\n" + findings[1].String()
	if !strings.Contains(got, "UNLOCK_PACMAN: /usr/bin/rm: not executable") || !strings.Contains(got, "SMARTCTL: /usr/bin/smartctl: does not exist") {
		t.Fatalf("unexpected findings:\n%s", got)
	}
}

func TestExecutables_Directory(t *testing.T) {
	fsys := hostFs(t)
	_ = fsys.MkdirAll("/opt/tool", 0o755)
	p := &policy.Policy{Aliases: []policy.Alias{{Name: "TOOL", Commands: []policy.Command{{Path: "/opt/tool"}}}}}
	findings := Executables(fsys, p)
	if len(findings) != 1 || findings[0].Msg != "not a regular file" {
		t.Fatalf("unexpected findings: %v", findings)
	}
}

func TestInstalled(t *testing.T) {
	want := expected(t, policy.ProfileFull)
	set := policy.NewSet()

	t.Run("exact", func(t *testing.T) {
		fsys := hostFs(t)
		_ = afero.WriteFile(fsys, installPath, []byte(want.Render()), InstallMode)
		r, err := Installed(fsys, installPath, want, set)
		if err != nil {
			t.Fatal(err)
		}
		if !r.OK() {
			t.Fatalf("expected OK report, got %+v", r)
		}
		if r.Matches != policy.ProfileFull || r.Header == nil || r.Header.Serial != 1 {
			t.Fatalf("unexpected match/header: %q %+v", r.Matches, r.Header)
		}
	})

	t.Run("reduced installed", func(t *testing.T) {
		fsys := hostFs(t)
		pr, _ := set.Lookup(policy.ProfileReduced)
		_ = afero.WriteFile(fsys, installPath, []byte(pr.Policy(policy.DefaultPrincipal, 1).Render()), InstallMode)
		r, err := Installed(fsys, installPath, want, set)
		if err != nil {
			t.Fatal(err)
		}
		if r.OK() {
			t.Fatalf("reduced fragment must not verify against full")
		}
		if r.Matches != policy.ProfileReduced {
			t.Fatalf("expected reduced match, got %q", r.Matches)
		}
		if len(r.Diff.MissingAliases) != 3 {
			t.Fatalf("unexpected diff: %s", r.Diff)
		}
	})

	t.Run("wrong mode", func(t *testing.T) {
		fsys := hostFs(t)
		_ = afero.WriteFile(fsys, installPath, []byte(want.Render()), 0o644)
		r, _ := Installed(fsys, installPath, want, set)
		if r.OK() {
			t.Fatalf("world-readable fragment must not verify")
		}
	})

	t.Run("unparsable", func(t *testing.T) {
		fsys := hostFs(t)
		_ = afero.WriteFile(fsys, installPath, []byte("Defaults !authenticate\n"), InstallMode)
		r, err := Installed(fsys, installPath, want, set)
		if err != nil {
			t.Fatal(err)
		}
		if r.ParseErr == nil || r.OK() {
			t.Fatalf("expected parse error in report, got %+v", r)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Installed(hostFs(t), installPath, want, set); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})
}

type fakeRunner struct {
	out  []byte
	err  error
	args []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.args = append([]string{name}, args...)
	return f.out, f.err
}

func TestSyntax(t *testing.T) {
	r := &fakeRunner{}
	if err := Syntax(context.Background(), r, installPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(r.args, " ") != "/usr/bin/visudo -c -q -f "+installPath {
		t.Fatalf("unexpected invocation: %v", r.args)
	}

	r = &fakeRunner{out: []byte("syntax error near line 2\n"), err: errors.New("exit status 1")}
	err := Syntax(context.Background(), r, installPath)
	if err == nil || !strings.Contains(err.Error(), "syntax error near line 2") {
		t.Fatalf("expected visudo output in error, got %v", err)
	}
}
