// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import (
	"fmt"
	"slices"
)

// Severity classifies a validation problem.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Problem is a single validation finding.
type Problem struct {
	Severity Severity
	Alias    string
	Msg      string
}

func (p Problem) String() string {
	if p.Alias != "" {
		return fmt.Sprintf("%s: %s: %s", p.Severity, p.Alias, p.Msg)
	}
	return fmt.Sprintf("%s: %s", p.Severity, p.Msg)
}

// Validate checks the structural invariants of a fragment: unique alias
// names, absolute command paths, a single principal on ALL hosts with
// NOPASSWD, and that every granted alias is declared.
func (p *Policy) Validate() []Problem {
	var out []Problem
	errorf := func(alias, format string, a ...any) {
		out = append(out, Problem{Severity: SeverityError, Alias: alias, Msg: fmt.Sprintf(format, a...)})
	}

	seen := make(map[string]bool, len(p.Aliases))
	for _, a := range p.Aliases {
		if seen[a.Name] {
			errorf(a.Name, "duplicate alias name")
		}
		seen[a.Name] = true
		if !aliasNameRE.MatchString(a.Name) {
			errorf(a.Name, "alias name must match %s", aliasNameRE.String())
		}
		if len(a.Commands) == 0 {
			errorf(a.Name, "alias has no commands")
		}
		for _, c := range a.Commands {
			if !c.Absolute() {
				errorf(a.Name, "command %q is not an absolute path", c.Path)
			}
		}
	}

	switch len(p.Grants) {
	case 0:
		errorf("", "no grant line")
	case 1:
	default:
		errorf("", "expected exactly one grant line, found %d", len(p.Grants))
	}
	if principals := p.Principals(); len(principals) > 1 {
		errorf("", "grants name %d principals, expected one", len(principals))
	}

	granted := make(map[string]bool)
	for _, g := range p.Grants {
		if g.Principal == "" {
			errorf("", "grant without principal")
		}
		if !slices.Equal(g.Hosts, []string{HostAll}) {
			errorf("", "grant for %s applies to hosts %v, expected %s", g.Principal, g.Hosts, HostAll)
		}
		if !g.NoPasswd {
			errorf("", "grant for %s is missing %s", g.Principal, TagNoPasswd)
		}
		for _, c := range g.Commands {
			errorf("", "grant for %s names command %q directly instead of via an alias", g.Principal, c.Path)
		}
		for _, n := range g.Aliases {
			granted[n] = true
			if !seen[n] {
				errorf(n, "granted alias is not declared")
			}
		}
	}

	for _, a := range p.Aliases {
		if !granted[a.Name] {
			out = append(out, Problem{Severity: SeverityWarning, Alias: a.Name, Msg: "alias is declared but never granted"})
		}
	}
	return out
}

// Errors filters problems down to errors.
func Errors(problems []Problem) []Problem {
	var out []Problem
	for _, p := range problems {
		if p.Severity == SeverityError {
			out = append(out, p)
		}
	}
	return out
}

// ValidationError wraps the error-level problems of a policy.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid policy: " + e.Problems[0].String()
	}
	return fmt.Sprintf("invalid policy: %d problems, first: %s", len(e.Problems), e.Problems[0].String())
}

// Check returns a *ValidationError when the policy has error-level problems.
func (p *Policy) Check() error {
	if errs := Errors(p.Validate()); len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}
