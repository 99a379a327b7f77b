// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package deploy installs the sudoers fragment, locally or over SSH, and
// audits installed fragments for drift.
package deploy // import "github.com/digsig/sudokeeper/internal/deploy"

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/digsig/sudokeeper/internal/verify"
	"github.com/spf13/afero"
)

// Installer writes the fragment to a local filesystem.
type Installer struct {
	fs afero.Fs
	// Check, when set, validates the temporary file before it is renamed
	// into place.
	Check func(ctx context.Context, path string) error
	now   func() time.Time
}

// NewInstaller returns an Installer writing to fsys.
func NewInstaller(fsys afero.Fs) *Installer {
	return &Installer{fs: fsys, now: time.Now}
}

// WithVisudo makes the installer run visudo on the staged file.
func (in *Installer) WithVisudo(r verify.Runner) *Installer {
	in.Check = func(ctx context.Context, path string) error { return verify.Syntax(ctx, r, path) }
	return in
}

// Install renders p and atomically replaces target with it. Policies with
// validation errors are refused. It returns the hash of the content.
func (in *Installer) Install(ctx context.Context, p *policy.Policy, target string) (string, error) {
	if err := p.Check(); err != nil {
		return "", err
	}
	content := []byte(p.Render())
	dir := filepath.Dir(target)
	if err := in.fs.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	tmp := filepath.FromSlash(tempName(filepath.ToSlash(target), in.now()))

	if err := afero.WriteFile(in.fs, tmp, content, verify.InstallMode); err != nil {
		_ = in.fs.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	// WriteFile honours the umask; set the mode explicitly.
	if err := in.fs.Chmod(tmp, verify.InstallMode); err != nil {
		_ = in.fs.Remove(tmp)
		return "", fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := in.fs.Chown(tmp, 0, 0); err != nil {
		_ = in.fs.Remove(tmp)
		return "", fmt.Errorf("%w: %w", ErrNotRootOwned, err)
	}
	if in.Check != nil {
		if err := in.Check(ctx, tmp); err != nil {
			_ = in.fs.Remove(tmp)
			return "", err
		}
	}
	if err := in.fs.Rename(tmp, target); err != nil {
		_ = in.fs.Remove(tmp)
		return "", fmt.Errorf("rename into %s: %w", target, err)
	}
	hash := policy.Hash(content)
	logging.Debugf("installed %s (%s)", target, hash)
	return hash, nil
}
