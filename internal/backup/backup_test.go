// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package backup

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/model"
)

func newStore(t *testing.T, name string) db.Store {
	t.Helper()
	s, err := db.NewStoreFromDSN("sqlite", "file:backup_"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFilenames(t *testing.T) {
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := DefaultFilename(day); got != "sudokeeper-backup-2026-03-01.json.zst" {
		t.Errorf("DefaultFilename = %q", got)
	}
	if got := Filename("nightly.json"); got != "nightly.json.zst" {
		t.Errorf("Filename = %q", got)
	}
	if got := Filename("nightly.zst"); got != "nightly.zst" {
		t.Errorf("Filename = %q", got)
	}
}

func TestWriteRead(t *testing.T) {
	data := &model.BackupData{
		SchemaVersion: db.BackupSchemaVersion,
		Hosts:         []model.Host{{ID: 1, Hostname: "sign-1", Username: "root", Port: 22, Profile: "full", Serial: 3}},
		KnownHosts:    []model.KnownHost{{Hostname: "sign-1", Key: "ssh-ed25519 AAAA"}},
	}
	var buf bytes.Buffer
	if err := Write(&buf, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// zstd frame magic
	if !bytes.HasPrefix(buf.Bytes(), []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Fatalf("output is not a zstd stream")
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got.Hosts) != 1 || got.Hosts[0].Serial != 3 || got.KnownHosts[0].Key != "ssh-ed25519 AAAA" {
		t.Errorf("unexpected data after read: %+v", got)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read(strings.NewReader("not a backup")); err == nil {
		t.Fatal("expected error for non-zstd input")
	}
}

func TestExportRestore(t *testing.T) {
	ctx := context.Background()
	src := newStore(t, "src")
	if _, err := src.AddHost(ctx, model.Host{Hostname: "sign-1", Profile: "reduced"}); err != nil {
		t.Fatalf("AddHost failed: %v", err)
	}
	if err := src.AddKnownHostKey(ctx, "sign-1", "ssh-ed25519 AAAA"); err != nil {
		t.Fatalf("AddKnownHostKey failed: %v", err)
	}
	if err := src.LogAction(ctx, model.AuditLogEntry{Action: "DEPLOY", Details: "host: sign-1"}); err != nil {
		t.Fatalf("LogAction failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	raw := buf.Bytes()

	dst := newStore(t, "dst")
	if _, err := dst.AddHost(ctx, model.Host{Hostname: "sign-2"}); err != nil {
		t.Fatalf("AddHost failed: %v", err)
	}

	// Merge keeps existing rows and skips the audit log.
	if _, err := Restore(ctx, dst, bytes.NewReader(raw), false); err != nil {
		t.Fatalf("merge Restore failed: %v", err)
	}
	hosts, _ := dst.GetAllHosts(ctx)
	if len(hosts) != 2 {
		t.Fatalf("merge: got %d hosts, want 2", len(hosts))
	}
	if key, err := dst.GetKnownHostKey(ctx, "sign-1"); err != nil || key != "ssh-ed25519 AAAA" {
		t.Errorf("merge: known host not restored: %q, %v", key, err)
	}
	if entries, _ := dst.GetAuditLog(ctx, 0); len(entries) != 0 {
		t.Errorf("merge: audit log should not be restored, got %d entries", len(entries))
	}

	// Full restore replaces everything.
	if _, err := Restore(ctx, dst, bytes.NewReader(raw), true); err != nil {
		t.Fatalf("full Restore failed: %v", err)
	}
	hosts, _ = dst.GetAllHosts(ctx)
	if len(hosts) != 1 || hosts[0].Hostname != "sign-1" || hosts[0].Profile != "reduced" {
		t.Fatalf("full: unexpected hosts %+v", hosts)
	}
	if entries, _ := dst.GetAuditLog(ctx, 0); len(entries) != 1 {
		t.Errorf("full: got %d audit entries, want 1", len(entries))
	}
}
