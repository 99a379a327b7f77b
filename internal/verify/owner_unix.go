// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build unix

package verify

import (
	"io/fs"
	"syscall"
)

// FileOwner returns the uid owning fi, or OwnerUnknown when the file system
// does not report it.
func FileOwner(fi fs.FileInfo) int {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return int(st.Uid)
	}
	return OwnerUnknown
}
