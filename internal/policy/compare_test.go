// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import (
	"slices"
	"strings"
	"testing"
)

func TestCompare(t *testing.T) {
	set := NewSet()
	full, _ := set.Lookup(ProfileFull)
	reduced, _ := set.Lookup(ProfileReduced)
	want := reduced.Policy(DefaultPrincipal, 1)

	tests := []struct {
		name    string
		actual  string
		exact   bool
		expands bool
		check   func(t *testing.T, d Diff)
	}{
		{
			name:   "exact",
			actual: reducedFragment,
			exact:  true,
		},
		{
			name:    "full installed where reduced intended",
			actual:  full.Policy(DefaultPrincipal, 3).Render(),
			expands: true,
			check: func(t *testing.T, d Diff) {
				if !slices.Equal(d.ExtraAliases, []string{"ENABLE_HTML5DS", "DISABLE_HTML5DS", "SMARTCTL"}) {
					t.Fatalf("unexpected extra aliases: %v", d.ExtraAliases)
				}
			},
		},
		{
			name: "missing alias",
			actual: `Cmnd_Alias REBOOT = /usr/bin/systemctl reboot
digsig ALL = NOPASSWD: REBOOT
`,
			check: func(t *testing.T, d Diff) {
				if len(d.MissingAliases) != 3 {
					t.Fatalf("expected three missing aliases, got %v", d.MissingAliases)
				}
			},
		},
		{
			name: "changed command under same name",
			actual: strings.Replace(reducedFragment,
				"Cmnd_Alias REBOOT = /usr/bin/systemctl reboot",
				"Cmnd_Alias REBOOT = /usr/bin/systemctl", 1),
			expands: true,
			check: func(t *testing.T, d Diff) {
				if !slices.Equal(d.ChangedAliases, []string{"REBOOT"}) {
					t.Fatalf("unexpected changed aliases: %v", d.ChangedAliases)
				}
			},
		},
		{
			name:    "extra principal",
			actual:  reducedFragment + "alice ALL = NOPASSWD: REBOOT\n",
			expands: true,
			check: func(t *testing.T, d Diff) {
				if len(d.ExtraGrants) != 1 || !strings.HasPrefix(d.ExtraGrants[0], "alice ALL") {
					t.Fatalf("unexpected extra grants: %v", d.ExtraGrants)
				}
			},
		},
		{
			name:    "inline command",
			actual:  strings.Replace(reducedFragment, "DISABLE_APPLICATION\n", "DISABLE_APPLICATION, /bin/sh\n", 1),
			expands: true,
		},
		{
			name:    "password required",
			actual:  strings.Replace(reducedFragment, "NOPASSWD: ", "", 1),
			expands: true,
			check: func(t *testing.T, d Diff) {
				if !d.NoPasswdMismatch {
					t.Fatalf("expected NOPASSWD mismatch")
				}
			},
		},
		{
			name:    "setenv tag",
			actual:  strings.Replace(reducedFragment, "NOPASSWD: ", "NOPASSWD: SETENV: ", 1),
			expands: true,
			check: func(t *testing.T, d Diff) {
				if !slices.Equal(d.ExtraTags, []string{"SETENV"}) {
					t.Fatalf("unexpected extra tags: %v", d.ExtraTags)
				}
			},
		},
		{
			name:    "runas any user",
			actual:  strings.Replace(reducedFragment, "= NOPASSWD: ", "= (ALL:ALL) NOPASSWD: ", 1),
			expands: true,
			check: func(t *testing.T, d Diff) {
				if !d.RunAsMismatch {
					t.Fatalf("expected runas mismatch")
				}
			},
		},
		{
			name:   "runas root",
			actual: strings.Replace(reducedFragment, "= NOPASSWD: ", "= (root) NOPASSWD: ", 1),
			exact:  true,
		},
		{
			name:   "empty fragment",
			actual: "# nothing granted here\n",
			check: func(t *testing.T, d Diff) {
				if d.PrincipalMismatch || len(d.MissingAliases) != 4 {
					t.Fatalf("unexpected diff: %+v", d)
				}
			},
		},
		{
			name:    "wrong principal",
			actual:  strings.Replace(reducedFragment, "digsig ALL", "kiosk ALL", 1),
			expands: true,
			check: func(t *testing.T, d Diff) {
				if !d.PrincipalMismatch || len(d.MissingAliases) != 4 {
					t.Fatalf("unexpected diff: %+v", d)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := mustParse(t, tt.actual)
			d := Compare(want, actual)
			if d.Exact() != tt.exact {
				t.Fatalf("Exact() = %v, want %v (%s)", d.Exact(), tt.exact, d)
			}
			if d.Expands() != tt.expands {
				t.Fatalf("Expands() = %v, want %v (%s)", d.Expands(), tt.expands, d)
			}
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestBuiltinProfiles(t *testing.T) {
	set := NewSet()
	full, err := set.Lookup(ProfileFull)
	if err != nil {
		t.Fatal(err)
	}
	reduced, err := set.Lookup(ProfileReduced)
	if err != nil {
		t.Fatal(err)
	}

	fullNames := full.Policy(DefaultPrincipal, 0).AliasNames()
	for _, n := range reduced.Policy(DefaultPrincipal, 0).AliasNames() {
		if !slices.Contains(fullNames, n) {
			t.Fatalf("reduced alias %s missing from full profile", n)
		}
	}
	if len(fullNames) != 7 {
		t.Fatalf("expected 7 aliases in full profile, got %v", fullNames)
	}
	for _, pr := range []Profile{full, reduced} {
		if problems := pr.Policy(DefaultPrincipal, 1).Validate(); len(problems) != 0 {
			t.Fatalf("profile %s has problems: %v", pr.Name, problems)
		}
	}
	if _, err := set.Lookup("nope"); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}

func TestSetMatch(t *testing.T) {
	set := NewSet()
	name, ok := set.Match(DefaultPrincipal, mustParse(t, reducedFragment))
	if !ok || name != ProfileReduced {
		t.Fatalf("expected reduced match, got %q %v", name, ok)
	}
	if _, ok := set.Match(DefaultPrincipal, mustParse(t, reducedFragment+"alice ALL = NOPASSWD: REBOOT\n")); ok {
		t.Fatalf("fragment with extra grant must not match any profile")
	}
	if _, ok := set.Match(DefaultPrincipal, mustParse(t, strings.Replace(reducedFragment, "NOPASSWD: ", "NOPASSWD: SETENV: ", 1))); ok {
		t.Fatalf("fragment with SETENV must not match any profile")
	}
}

func TestParseProfiles(t *testing.T) {
	data := []byte(`profiles:
  - name: kiosk
    aliases:
      - name: REBOOT
        commands: ["/usr/bin/systemctl reboot"]
      - name: NOOP
        commands: ['/usr/bin/true ""']
  - name: reduced
    aliases:
      - name: REBOOT
        commands: ["/usr/bin/systemctl reboot"]
`)
	profiles, err := ParseProfiles(data)
	if err != nil {
		t.Fatalf("ParseProfiles: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Name != "kiosk" {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}
	if !profiles[0].Aliases[1].Commands[0].NoArgs {
		t.Fatalf(`expected "" to mean no arguments`)
	}

	set := NewSet(profiles...)
	if !slices.Contains(set.Names(), "kiosk") {
		t.Fatalf("kiosk profile not registered: %v", set.Names())
	}
	reduced, _ := set.Lookup(ProfileReduced)
	if len(reduced.Aliases) != 1 {
		t.Fatalf("expected override of reduced profile, got %d aliases", len(reduced.Aliases))
	}

	if _, err := ParseProfiles([]byte("profiles:\n  - name: bad\n    aliases:\n      - name: X\n        commands: [\"relative/path\"]\n")); err == nil {
		t.Fatalf("expected validation error for relative path")
	}
}
