// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package verify checks an installed sudoers fragment against the intended
// allow-list and checks that every granted command exists on the host.
package verify // import "github.com/digsig/sudokeeper/internal/verify"

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"

	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/spf13/afero"
)

// InstallMode is the permission sudo requires on drop-in files.
const InstallMode fs.FileMode = 0o440

// OwnerUnknown is the Report owner when the file system has no uid.
const OwnerUnknown = -1

// Finding is a problem with a single alias command on the host.
type Finding struct {
	Alias string
	Path  string
	Msg   string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Alias, f.Path, f.Msg)
}

// Executables checks that each alias command resolves to an existing,
// executable regular file.
func Executables(fsys afero.Fs, p *policy.Policy) []Finding {
	var out []Finding
	for _, a := range p.Aliases {
		for _, c := range a.Commands {
			if !c.Absolute() {
				out = append(out, Finding{Alias: a.Name, Path: c.Path, Msg: "not an absolute path"})
				continue
			}
			fi, err := fsys.Stat(c.Path)
			switch {
			case err != nil:
				out = append(out, Finding{Alias: a.Name, Path: c.Path, Msg: "does not exist"})
			case !fi.Mode().IsRegular():
				out = append(out, Finding{Alias: a.Name, Path: c.Path, Msg: "not a regular file"})
			case fi.Mode().Perm()&0o111 == 0:
				out = append(out, Finding{Alias: a.Name, Path: c.Path, Msg: "not executable"})
			}
		}
	}
	return out
}

// Report is the outcome of verifying an installed fragment.
type Report struct {
	Path     string
	Hash     string
	Header   *policy.Header
	Problems []policy.Problem
	Diff     policy.Diff
	// Matches is the profile the installed fragment grants exactly, if any.
	Matches  string
	Findings []Finding
	Mode     fs.FileMode
	// Owner is the uid owning the file. sudo skips drop-ins not owned by
	// root.
	Owner    int
	ParseErr error
}

// OK reports whether the installed fragment is exactly the intended one,
// valid, installed with the right mode, and all commands exist.
func (r *Report) OK() bool {
	return r.ParseErr == nil &&
		len(policy.Errors(r.Problems)) == 0 &&
		r.Diff.Exact() &&
		r.Mode.Perm() == InstallMode &&
		r.RootOwned() &&
		len(r.Findings) == 0
}

// RootOwned reports whether the file is owned by root, or ownership is not
// reported at all.
func (r *Report) RootOwned() bool {
	return r.Owner == 0 || r.Owner == OwnerUnknown
}

// Installed reads the fragment at path and verifies it against expected.
// The returned error is only non-nil when the file cannot be read; parse
// failures are recorded in the report.
func Installed(fsys afero.Fs, path string, expected *policy.Policy, profiles *policy.Set) (*Report, error) {
	fi, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	r := &Report{Path: path, Hash: policy.Hash(data), Mode: fi.Mode(), Owner: FileOwner(fi)}
	actual, err := policy.Parse(bytes.NewReader(data))
	if err != nil {
		r.ParseErr = err
		return r, nil
	}
	r.Header = actual.Header
	r.Problems = actual.Validate()
	r.Diff = policy.Compare(expected, actual)
	if profiles != nil && len(expected.Grants) > 0 {
		r.Matches, _ = profiles.Match(expected.Grants[0].Principal, actual)
	}
	r.Findings = Executables(fsys, actual)
	return r, nil
}

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Visudo is the sudoers syntax checker.
const Visudo = "/usr/bin/visudo"

// Syntax asks visudo to parse the file at path. It is the authoritative
// check, since sudo itself uses the same parser.
func Syntax(ctx context.Context, r Runner, path string) error {
	out, err := r.Run(ctx, Visudo, "-c", "-q", "-f", path)
	if err != nil {
		return fmt.Errorf("visudo rejected %s: %w: %s", path, err, bytes.TrimSpace(out))
	}
	return nil
}
