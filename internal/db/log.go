// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/digsig/sudokeeper/internal/logging"
)

// storeDebug gates the inventory store's debug lines. The --debug flag turns
// it on together with the global log level.
var storeDebug bool

// SetDebug enables or disables store debug logging, including a per-query
// trace of host and deployment history statements.
func SetDebug(enabled bool) {
	storeDebug = enabled
}

func dbLogf(format string, v ...any) {
	if storeDebug {
		logging.Debugf(format, v...)
	}
}

// queryTrace logs each statement bun runs against the inventory with its
// duration. Missing rows are lookups, not failures, and are not reported.
type queryTrace struct{}

var _ bun.QueryHook = queryTrace{}

func (queryTrace) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (queryTrace) AfterQuery(_ context.Context, ev *bun.QueryEvent) {
	dbLogf("%s", traceLine(ev.Query, time.Since(ev.StartTime), ev.Err))
}

// traceLine formats one query for the debug log, collapsing whitespace so
// multi-line statements stay on a single line.
func traceLine(query string, took time.Duration, err error) string {
	q := strings.Join(strings.Fields(query), " ")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Sprintf("db: query failed after %s: %s: %v", took.Round(time.Microsecond), q, err)
	}
	return fmt.Sprintf("db: query %s: %s", took.Round(time.Microsecond), q)
}
