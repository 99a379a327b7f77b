// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import (
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-yaml"
)

// DefaultPrincipal is the restricted signage account.
const DefaultPrincipal Principal = "digsig"

// Built-in profile names.
const (
	ProfileFull    = "full"
	ProfileReduced = "reduced"
)

const (
	systemctl = "/usr/bin/systemctl"
	smartctl  = "/usr/bin/smartctl"
	rm        = "/usr/bin/rm"

	// PacmanLockfile is the lock file removed by UNLOCK_PACMAN.
	PacmanLockfile = "/var/lib/pacman/db.lck"
)

// Profile is a named, enumerated allow-list.
type Profile struct {
	Name    string
	Aliases []Alias
}

// Policy builds the fragment for principal, stamped with serial.
func (pr Profile) Policy(principal Principal, serial int) *Policy {
	p := &Policy{
		Header:  &Header{Profile: pr.Name, Serial: serial},
		Aliases: slices.Clone(pr.Aliases),
	}
	g := Grant{
		Principal: principal,
		Hosts:     []string{HostAll},
		NoPasswd:  true,
	}
	for _, a := range pr.Aliases {
		g.Aliases = append(g.Aliases, a.Name)
	}
	p.Grants = []Grant{g}
	return p
}

func unitToggle(name, verb, unit string) Alias {
	return Alias{Name: name, Commands: []Command{{Path: systemctl, Args: []string{verb, "--now", unit}}}}
}

var (
	aliasReboot       = Alias{Name: "REBOOT", Commands: []Command{{Path: systemctl, Args: []string{"reboot"}}}}
	aliasUnlockPacman = Alias{Name: "UNLOCK_PACMAN", Commands: []Command{{Path: rm, Args: []string{"-f", PacmanLockfile}}}}
	aliasEnableApp    = unitToggle("ENABLE_APPLICATION", "enable", "application.service")
	aliasDisableApp   = unitToggle("DISABLE_APPLICATION", "disable", "application.service")
	aliasEnableHTML   = unitToggle("ENABLE_HTML5DS", "enable", "html5ds.service")
	aliasDisableHTML  = unitToggle("DISABLE_HTML5DS", "disable", "html5ds.service")
	aliasSmartctl     = Alias{Name: "SMARTCTL", Commands: []Command{{Path: smartctl}}}
)

// Builtin returns the two shipped profiles. The reduced profile is a strict
// subset of the full one.
func Builtin() []Profile {
	return []Profile{
		{
			Name: ProfileFull,
			Aliases: []Alias{
				aliasReboot, aliasUnlockPacman,
				aliasEnableApp, aliasDisableApp,
				aliasEnableHTML, aliasDisableHTML,
				aliasSmartctl,
			},
		},
		{
			Name:    ProfileReduced,
			Aliases: []Alias{aliasReboot, aliasUnlockPacman, aliasEnableApp, aliasDisableApp},
		},
	}
}

// Set is a collection of profiles addressable by name.
type Set struct {
	profiles []Profile
}

// NewSet returns a set containing the built-in profiles followed by extra.
// Extra profiles replace built-ins of the same name.
func NewSet(extra ...Profile) *Set {
	s := &Set{profiles: Builtin()}
	for _, pr := range extra {
		if i := slices.IndexFunc(s.profiles, func(p Profile) bool { return p.Name == pr.Name }); i >= 0 {
			s.profiles[i] = pr
			continue
		}
		s.profiles = append(s.profiles, pr)
	}
	return s
}

// Lookup finds a profile by name.
func (s *Set) Lookup(name string) (Profile, error) {
	for _, p := range s.profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("unknown profile %q", name)
}

// Names returns all profile names.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Name)
	}
	return out
}

// Match returns the name of the profile whose allow-list actual grants
// exactly, if any.
func (s *Set) Match(principal Principal, actual *Policy) (string, bool) {
	for _, pr := range s.profiles {
		if Compare(pr.Policy(principal, 0), actual).Exact() {
			return pr.Name, true
		}
	}
	return "", false
}

type profileFile struct {
	Profiles []struct {
		Name    string `yaml:"name"`
		Aliases []struct {
			Name     string   `yaml:"name"`
			Commands []string `yaml:"commands"`
		} `yaml:"aliases"`
	} `yaml:"profiles"`
}

// LoadProfiles reads additional profiles from a YAML file.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes profile YAML. Commands use fragment syntax, so
// `/usr/bin/smartctl` permits any arguments and `/usr/bin/true ""` none.
func ParseProfiles(data []byte) ([]Profile, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	out := make([]Profile, 0, len(f.Profiles))
	for _, fp := range f.Profiles {
		if fp.Name == "" {
			return nil, fmt.Errorf("profile without name")
		}
		pr := Profile{Name: fp.Name}
		for _, fa := range fp.Aliases {
			a := Alias{Name: fa.Name}
			for _, raw := range fa.Commands {
				c, err := parseCommand(raw)
				if err != nil {
					return nil, fmt.Errorf("profile %s alias %s: %w", fp.Name, fa.Name, err)
				}
				a.Commands = append(a.Commands, c)
			}
			pr.Aliases = append(pr.Aliases, a)
		}
		if errs := Errors(pr.Policy(DefaultPrincipal, 0).Validate()); len(errs) > 0 {
			return nil, fmt.Errorf("profile %s: %w", fp.Name, &ValidationError{Problems: errs})
		}
		out = append(out, pr)
	}
	return out, nil
}
