// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build !unix

package verify

import "io/fs"

// FileOwner returns OwnerUnknown; this platform has no uid ownership.
func FileOwner(fs.FileInfo) int {
	return OwnerUnknown
}
