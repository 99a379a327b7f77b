// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/digsig/sudokeeper/internal/backup"
	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/spf13/cobra"
)

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [output-file]",
		Short: "Create a compressed (zstd) JSON backup of the database",
		Long: `Dumps hosts, trusted host keys, the audit log and drift history into a single
Zstandard-compressed JSON file. Without an argument the file is named
sudokeeper-backup-YYYY-MM-DD.json.zst in the current directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := backup.DefaultFilename(time.Now())
			if len(args) > 0 {
				name = backup.Filename(args[0])
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			f, err := a.fs.Create(filepath.Clean(name))
			if err != nil {
				return fmt.Errorf("create backup file: %w", err)
			}
			if _, err := backup.Export(cmd.Context(), st, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("backup.written", name))
			return nil
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	var full, yes bool
	cmd := &cobra.Command{
		Use:   "restore <backup-file.zst>",
		Short: "Restore the database from a compressed JSON backup",
		Long: `Restores a backup written by "sudokeeper backup". By default only hosts and
trusted host keys that do not exist yet are added.

--full wipes every table first and restores the backup exactly, including
the audit log. It asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if full && !yes {
				ans := promptForConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), "This wipes all existing data. Continue (yes/no)? ")
				if ans != "yes" && ans != "y" {
					return fmt.Errorf("restore cancelled")
				}
			}
			f, err := a.fs.Open(filepath.Clean(args[0]))
			if err != nil {
				return fmt.Errorf("open backup file: %w", err)
			}
			defer func() { _ = f.Close() }()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			data, err := backup.Restore(cmd.Context(), st, f, full)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("restore.done", len(data.Hosts), len(data.KnownHosts), len(data.AuditLog)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Perform a full, destructive restore (wipes all existing data first)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	var targetType, targetDSN string
	cmd := &cobra.Command{
		Use:   "migrate --to-type <db-type> --to-dsn <target-dsn>",
		Short: "Copy all data from the configured database into another one",
		Long: `Exports the configured database in memory, migrates the target schema and
performs a full restore into it.

Example:
  sudokeeper migrate --to-type postgres --to-dsn "postgres://sudokeeper@localhost/sudokeeper"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()
			data, err := src.ExportDataForBackup(cmd.Context())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			dst, err := db.NewStoreFromDSN(targetType, targetDSN)
			if err != nil {
				return fmt.Errorf("open target database: %w", err)
			}
			defer func() { _ = dst.Close() }()
			if err := dst.ImportDataFromBackup(cmd.Context(), data, true); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("migrate.done", targetType, len(data.Hosts)))
			return nil
		},
	}
	cmd.Flags().StringVar(&targetType, "to-type", "", "Target database type (sqlite, postgres, mysql)")
	cmd.Flags().StringVar(&targetDSN, "to-dsn", "", "Target database DSN")
	_ = cmd.MarkFlagRequired("to-type")
	_ = cmd.MarkFlagRequired("to-dsn")
	return cmd
}

func newDBMaintainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "db-maintain",
		Short: "Run engine-specific maintenance on the database",
		Long: `Runs PRAGMA optimize, VACUUM and an integrity check on SQLite, VACUUM ANALYZE on PostgreSQL and
OPTIMIZE TABLE on MySQL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.RunDBMaintenance(cmd.Context(), a.cfg.Database.Type, a.cfg.Database.Dsn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("db.maintained"))
			return nil
		},
	}
}
