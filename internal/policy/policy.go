// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package policy models the sudoers fragment that grants the signage account
// passwordless access to a fixed set of administrative commands. It parses,
// renders, validates and compares fragments and answers whether a given
// invocation is permitted.
package policy // import "github.com/digsig/sudokeeper/internal/policy"

import (
	"path"
	"regexp"
	"slices"
	"strings"
)

// HostAll is the host list that applies a grant on every host.
const HostAll = "ALL"

// TagNoPasswd is the sudoers tag that disables interactive authentication.
const TagNoPasswd = "NOPASSWD"

// RunAsRoot is the only runas list a grant may carry besides none at all.
const RunAsRoot = "root"

var aliasNameRE = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Command is one fully-qualified executable with its fixed arguments.
//
// Args == nil means any arguments are permitted. NoArgs means the command
// may only run without arguments (written as "" in sudoers).
type Command struct {
	Path   string
	Args   []string
	NoArgs bool
}

// Alias is a named Cmnd_Alias.
type Alias struct {
	Name     string
	Commands []Command
}

// Principal is the account a grant applies to.
type Principal string

// Grant binds a principal to a set of aliases.
type Grant struct {
	Principal Principal
	Hosts     []string
	RunAs     string
	NoPasswd  bool
	// Tags holds the grant tags other than NOPASSWD and PASSWD, such as
	// SETENV, in the order written.
	Tags []string
	// Aliases holds the alias names in grant order.
	Aliases []string
	// Commands holds commands granted inline rather than via an alias.
	Commands []Command
}

// Header is the managed header written at the top of a rendered fragment.
type Header struct {
	Profile string
	Serial  int
}

// Policy is a parsed or generated sudoers fragment.
type Policy struct {
	Header  *Header
	Aliases []Alias
	Grants  []Grant
}

// Alias returns the alias with the given name.
func (p *Policy) Alias(name string) (Alias, bool) {
	for _, a := range p.Aliases {
		if a.Name == name {
			return a, true
		}
	}
	return Alias{}, false
}

// AliasNames returns the declared alias names in declaration order.
func (p *Policy) AliasNames() []string {
	names := make([]string, 0, len(p.Aliases))
	for _, a := range p.Aliases {
		names = append(names, a.Name)
	}
	return names
}

// GrantedAliases returns the set of alias names granted to principal.
func (p *Policy) GrantedAliases(principal Principal) []string {
	var out []string
	for _, g := range p.Grants {
		if g.Principal != principal {
			continue
		}
		for _, n := range g.Aliases {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// Principals returns every distinct principal named in a grant.
func (p *Policy) Principals() []Principal {
	var out []Principal
	for _, g := range p.Grants {
		if !slices.Contains(out, g.Principal) {
			out = append(out, g.Principal)
		}
	}
	return out
}

// Permits reports whether principal may run argv without a password under
// this policy, and returns the alias that matched. Inline grant commands
// match with an empty alias name.
func (p *Policy) Permits(principal string, argv []string) (string, bool) {
	if len(argv) == 0 {
		return "", false
	}
	for _, g := range p.Grants {
		if string(g.Principal) != principal || !g.NoPasswd || !slices.Contains(g.Hosts, HostAll) {
			continue
		}
		for _, name := range g.Aliases {
			a, ok := p.Alias(name)
			if !ok {
				continue
			}
			for _, c := range a.Commands {
				if c.Matches(argv) {
					return a.Name, true
				}
			}
		}
		for _, c := range g.Commands {
			if c.Matches(argv) {
				return "", true
			}
		}
	}
	return "", false
}

// Matches applies sudoers argument semantics to argv.
func (c Command) Matches(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	if c.Path == HostAll {
		return true
	}
	if argv[0] != c.Path {
		return false
	}
	args := argv[1:]
	switch {
	case c.NoArgs:
		return len(args) == 0
	case c.Args == nil:
		return true
	default:
		return slices.Equal(c.Args, args)
	}
}

// Absolute reports whether the command path is a clean absolute path.
func (c Command) Absolute() bool {
	return path.IsAbs(c.Path) && path.Clean(c.Path) == c.Path
}

// Equal compares two commands including argument semantics.
func (c Command) Equal(o Command) bool {
	if c.Path != o.Path || c.NoArgs != o.NoArgs {
		return false
	}
	if (c.Args == nil) != (o.Args == nil) {
		return false
	}
	return slices.Equal(c.Args, o.Args)
}

// String renders the command the way it appears in a fragment.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(escape(c.Path))
	switch {
	case c.NoArgs:
		b.WriteString(` ""`)
	default:
		for _, a := range c.Args {
			b.WriteByte(' ')
			b.WriteString(escape(a))
		}
	}
	return b.String()
}

// Equal compares two aliases command by command.
func (a Alias) Equal(o Alias) bool {
	if a.Name != o.Name || len(a.Commands) != len(o.Commands) {
		return false
	}
	for i := range a.Commands {
		if !a.Commands[i].Equal(o.Commands[i]) {
			return false
		}
	}
	return true
}

// escape backslash-escapes the characters sudoers treats as syntax inside
// a command specification.
func escape(s string) string {
	if !strings.ContainsAny(s, `,:=\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ',', ':', '=', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
