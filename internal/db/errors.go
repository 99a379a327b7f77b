// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"errors"
	"strings"
)

var (
	// ErrDuplicate is returned when inserting a record that already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned when a looked up record does not exist.
	ErrNotFound = errors.New("record not found")
)

// MapDBError maps driver errors for missing rows and constraint violations
// to the package sentinels. The mapping is string based so this file does
// not need to import the individual drivers.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry (1062), Postgres unique violation (23505),
	// SQLite unique constraint.
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return ErrDuplicate
	}
	return err
}
