// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestRunMigrationsSqlite(t *testing.T) {
	dbConn, err := sql.Open("sqlite", memDSN(t))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() { _ = dbConn.Close() }()
	dbConn.SetMaxOpenConns(1)

	// Applying twice must be a no-op the second time.
	for i := 0; i < 2; i++ {
		if err := RunMigrations(dbConn, "sqlite"); err != nil {
			t.Fatalf("RunMigrations pass %d failed: %v", i+1, err)
		}
	}

	rows, err := dbConn.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		t.Fatalf("query schema_migrations failed: %v", err)
	}
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan version failed: %v", err)
		}
		versions = append(versions, v)
	}
	_ = rows.Close()
	want := []string{"000001_create_hosts", "000002_create_audit_and_drift"}
	if len(versions) != len(want) {
		t.Fatalf("expected %v, got %v", want, versions)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, versions)
		}
	}

	for _, table := range []string{"hosts", "known_hosts", "audit_log", "drift_events"} {
		var n int
		if err := dbConn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestRunMigrations_EveryDialectEmbedded(t *testing.T) {
	for _, dbType := range []string{"sqlite", "postgres", "mysql"} {
		entries, err := embeddedMigrations.ReadDir("migrations/" + dbType)
		if err != nil {
			t.Fatalf("%s: %v", dbType, err)
		}
		if len(entries) != 2 {
			t.Fatalf("%s: expected 2 migrations, got %d", dbType, len(entries))
		}
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  CREATE INDEX i ON a(x);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a(x)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}

func TestNewStoreFromDSN_Unsupported(t *testing.T) {
	if _, err := NewStoreFromDSN("oracle", "x"); err == nil {
		t.Fatal("expected error for unsupported database type")
	}
}

func TestCreateBunDB_Dialects(t *testing.T) {
	sqlDB, err := sql.Open("sqlite", memDSN(t))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sqlDB.Close() }()
	tests := map[string]string{
		"sqlite":   "sqlite",
		"postgres": "pg",
		"mysql":    "mysql",
		"unknown":  "sqlite",
	}
	for dbType, want := range tests {
		if got := createBunDB(sqlDB, dbType).Dialect().Name().String(); got != want {
			t.Errorf("createBunDB(%q) dialect = %q, want %q", dbType, got, want)
		}
	}
}

func TestRunDBMaintenanceSqlite_Smoke(t *testing.T) {
	if err := RunDBMaintenance(context.Background(), "sqlite", memDSN(t)); err != nil {
		t.Fatalf("RunDBMaintenance(sqlite) failed: %v", err)
	}
}

func TestRunDBMaintenance_Unsupported(t *testing.T) {
	if err := RunDBMaintenance(context.Background(), "oracle", "x"); err == nil {
		t.Fatal("expected error for unsupported db type")
	}
}
