// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package watch re-verifies the local fragment whenever it changes on disk.
package watch // import "github.com/digsig/sudokeeper/internal/watch"

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/digsig/sudokeeper/internal/verify"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// DefaultDebounce lets editors and installers finish their write and rename
// before the fragment is read.
const DefaultDebounce = 250 * time.Millisecond

// Handler receives the outcome of every verification. err is non-nil when
// the fragment could not be read, for example after it was removed.
type Handler func(r *verify.Report, err error)

// Watcher verifies Path against Expected after every change.
type Watcher struct {
	Path     string
	Expected *policy.Policy
	Profiles *policy.Set
	Debounce time.Duration
	Handle   Handler

	fs afero.Fs
}

// New returns a Watcher reading the fragment through fsys.
func New(fsys afero.Fs, path string, expected *policy.Policy, profiles *policy.Set, h Handler) *Watcher {
	return &Watcher{
		Path:     filepath.Clean(path),
		Expected: expected,
		Profiles: profiles,
		Debounce: DefaultDebounce,
		Handle:   h,
		fs:       fsys,
	}
}

// Run verifies once, then watches the fragment's directory until ctx is
// done. The directory is watched rather than the file because installs
// replace the file by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.Path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logging.Infof("watching %s", w.Path)
	w.check()

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	tick := time.NewTicker(debounce / 2)
	defer tick.Stop()

	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.Path {
				continue
			}
			logging.Debugf("watch: %s %s", ev.Op, ev.Name)
			pending = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Warnf("watch error: %v", err)

		case now := <-tick.C:
			if !pending.IsZero() && now.Sub(pending) >= debounce {
				pending = time.Time{}
				w.check()
			}
		}
	}
}

func (w *Watcher) check() {
	r, err := verify.Installed(w.fs, w.Path, w.Expected, w.Profiles)
	if w.Handle != nil {
		w.Handle(r, err)
	}
}
