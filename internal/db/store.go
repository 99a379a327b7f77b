// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/digsig/sudokeeper/internal/model"
)

// Store defines the persistence operations sudokeeper needs.
type Store interface {
	// Hosts
	AddHost(ctx context.Context, h model.Host) (int, error)
	GetHost(ctx context.Context, hostname string) (*model.Host, error)
	GetAllHosts(ctx context.Context) ([]model.Host, error)
	GetActiveHosts(ctx context.Context) ([]model.Host, error)
	DeleteHost(ctx context.Context, hostname string) error
	ToggleHostStatus(ctx context.Context, hostname string) (bool, error)
	UpdateHostDeployment(ctx context.Context, id, serial int, hash string) error
	MarkHostDirty(ctx context.Context, id int, dirty bool) error

	// Trusted host keys
	GetKnownHostKey(ctx context.Context, hostname string) (string, error)
	AddKnownHostKey(ctx context.Context, hostname, key string) error

	// Audit log
	LogAction(ctx context.Context, entry model.AuditLogEntry) error
	GetAuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error)

	// Drift
	RecordDrift(ctx context.Context, ev model.DriftEvent) (int, error)
	ResolveDrift(ctx context.Context, hostID int) error
	GetDriftEvents(ctx context.Context, hostID int) ([]model.DriftEvent, error)

	// Backup
	ExportDataForBackup(ctx context.Context) (*model.BackupData, error)
	ImportDataFromBackup(ctx context.Context, data *model.BackupData, full bool) error

	Close() error
}

var _ Store = (*BunStore)(nil)
