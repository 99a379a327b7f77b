// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package backup reads and writes zstd-compressed JSON exports of the
// inventory database.
package backup // import "github.com/digsig/sudokeeper/internal/backup"

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/model"
	"github.com/klauspost/compress/zstd"
)

// Suffix is appended to backup file names that lack it.
const Suffix = ".zst"

// DefaultFilename returns the backup file name used when none is given.
func DefaultFilename(now time.Time) string {
	return fmt.Sprintf("sudokeeper-backup-%s.json%s", now.Format("2006-01-02"), Suffix)
}

// Filename returns name with Suffix appended if missing.
func Filename(name string) string {
	if strings.HasSuffix(name, Suffix) {
		return name
	}
	return name + Suffix
}

// Write encodes data as indented JSON into a zstd stream on w.
func Write(w io.Writer, data *model.BackupData) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush zstd stream: %w", err)
	}
	return nil
}

// Read decodes a backup written by Write.
func Read(r io.Reader) (*model.BackupData, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var data model.BackupData
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return &data, nil
}

// Export reads the whole store and writes it to w.
func Export(ctx context.Context, st db.Store, w io.Writer) (*model.BackupData, error) {
	data, err := st.ExportDataForBackup(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if err := Write(w, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Restore reads a backup from r and imports it. A full restore replaces
// every table; otherwise hosts and known hosts missing from the store are
// added and existing rows are left alone.
func Restore(ctx context.Context, st db.Store, r io.Reader, full bool) (*model.BackupData, error) {
	data, err := Read(r)
	if err != nil {
		return nil, err
	}
	if err := st.ImportDataFromBackup(ctx, data, full); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return data, nil
}
