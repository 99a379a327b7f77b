// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import (
	"fmt"
	"slices"
	"strings"
)

// Diff describes how an actual fragment differs from the intended one.
type Diff struct {
	// MissingAliases are intended aliases absent from the actual grant.
	MissingAliases []string
	// ExtraAliases are aliases granted by the actual fragment but not intended.
	ExtraAliases []string
	// ChangedAliases share a name but resolve to different commands.
	ChangedAliases []string
	// ExtraGrants are grant lines or inline commands beyond the intended grant.
	ExtraGrants []string

	// ExtraTags are grant tags besides NOPASSWD, e.g. SETENV.
	ExtraTags []string

	PrincipalMismatch bool
	HostMismatch      bool
	NoPasswdMismatch  bool
	// RunAsMismatch is set when a grant may run as someone other than root.
	RunAsMismatch bool
}

// Exact reports whether the actual fragment grants exactly the intended
// allow-list with no extraneous grants.
func (d Diff) Exact() bool {
	return len(d.MissingAliases) == 0 && len(d.ExtraAliases) == 0 &&
		len(d.ChangedAliases) == 0 && len(d.ExtraGrants) == 0 && len(d.ExtraTags) == 0 &&
		!d.PrincipalMismatch && !d.HostMismatch && !d.NoPasswdMismatch && !d.RunAsMismatch
}

// Expands reports whether the difference could grant more than intended.
func (d Diff) Expands() bool {
	return len(d.ExtraAliases) > 0 || len(d.ChangedAliases) > 0 || len(d.ExtraGrants) > 0 ||
		len(d.ExtraTags) > 0 || d.PrincipalMismatch || d.HostMismatch || d.NoPasswdMismatch ||
		d.RunAsMismatch
}

func (d Diff) String() string {
	if d.Exact() {
		return "exact match"
	}
	var parts []string
	if len(d.MissingAliases) > 0 {
		parts = append(parts, "missing "+strings.Join(d.MissingAliases, ","))
	}
	if len(d.ExtraAliases) > 0 {
		parts = append(parts, "extra "+strings.Join(d.ExtraAliases, ","))
	}
	if len(d.ChangedAliases) > 0 {
		parts = append(parts, "changed "+strings.Join(d.ChangedAliases, ","))
	}
	if len(d.ExtraGrants) > 0 {
		parts = append(parts, "extra grants "+strings.Join(d.ExtraGrants, "; "))
	}
	if len(d.ExtraTags) > 0 {
		parts = append(parts, "extra tags "+strings.Join(d.ExtraTags, ","))
	}
	if d.PrincipalMismatch {
		parts = append(parts, "principal mismatch")
	}
	if d.HostMismatch {
		parts = append(parts, "host mismatch")
	}
	if d.NoPasswdMismatch {
		parts = append(parts, "NOPASSWD mismatch")
	}
	if d.RunAsMismatch {
		parts = append(parts, "runas mismatch")
	}
	return strings.Join(parts, "; ")
}

// Compare diffs the effective grants of actual against expected. Only the
// single intended principal of expected is considered granted; grants to
// any other principal show up as extra grants.
func Compare(expected, actual *Policy) Diff {
	var d Diff
	if len(expected.Grants) == 0 {
		for _, g := range actual.Grants {
			d.ExtraGrants = append(d.ExtraGrants, describeGrant(g))
		}
		return d
	}
	want := expected.Grants[0]

	var mine []Grant
	for _, g := range actual.Grants {
		if g.Principal == want.Principal {
			mine = append(mine, g)
			continue
		}
		d.ExtraGrants = append(d.ExtraGrants, describeGrant(g))
	}
	if len(mine) == 0 && len(actual.Grants) > 0 {
		d.PrincipalMismatch = true
	}
	if len(mine) > 1 {
		for _, g := range mine[1:] {
			d.ExtraGrants = append(d.ExtraGrants, describeGrant(g))
		}
	}

	actualNames := actual.GrantedAliases(want.Principal)
	for _, g := range mine {
		if !slices.Equal(g.Hosts, want.Hosts) {
			d.HostMismatch = true
		}
		if g.NoPasswd != want.NoPasswd {
			d.NoPasswdMismatch = true
		}
		if g.RunAs != "" && g.RunAs != RunAsRoot {
			d.RunAsMismatch = true
		}
		for _, t := range g.Tags {
			if !slices.Contains(want.Tags, t) && !slices.Contains(d.ExtraTags, t) {
				d.ExtraTags = append(d.ExtraTags, t)
			}
		}
		for _, c := range g.Commands {
			d.ExtraGrants = append(d.ExtraGrants, fmt.Sprintf("%s: %s", g.Principal, c.String()))
		}
	}

	for _, name := range want.Aliases {
		if !slices.Contains(actualNames, name) {
			d.MissingAliases = append(d.MissingAliases, name)
			continue
		}
		ea, _ := expected.Alias(name)
		aa, ok := actual.Alias(name)
		if !ok || !ea.Equal(aa) {
			d.ChangedAliases = append(d.ChangedAliases, name)
		}
	}
	for _, name := range actualNames {
		if !slices.Contains(want.Aliases, name) {
			d.ExtraAliases = append(d.ExtraAliases, name)
		}
	}
	return d
}

func describeGrant(g Grant) string {
	items := slices.Clone(g.Aliases)
	for _, c := range g.Commands {
		items = append(items, c.String())
	}
	return fmt.Sprintf("%s %s = %s", g.Principal, strings.Join(g.Hosts, ","), strings.Join(items, ", "))
}
