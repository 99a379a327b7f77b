// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

var dsnSeq atomic.Int64

// memDSN returns a shared in-memory SQLite DSN unique to each call.
func memDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return "file:test_" + name + "_" + strconv.FormatInt(dsnSeq.Add(1), 10) + "?mode=memory&cache=shared"
}

// newTestStore opens a migrated in-memory SQLite store closed at test end.
func newTestStore(t *testing.T) *BunStore {
	t.Helper()
	s, err := NewStoreFromDSN("sqlite", memDSN(t))
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
