// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/digsig/sudokeeper/internal/model"
	"github.com/uptrace/bun"
)

// BunStore implements Store on top of a *bun.DB for every supported dialect.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

// BunDB exposes the underlying *bun.DB for advanced callers and tests.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// Close closes the underlying database.
func (s *BunStore) Close() error { return s.bun.Close() }

// HostModel maps the `hosts` table.
type HostModel struct {
	bun.BaseModel `bun:"table:hosts"`
	ID            int    `bun:"id,pk,autoincrement"`
	Hostname      string `bun:"hostname"`
	Username      string `bun:"username"`
	Port          int    `bun:"port"`
	Profile       string `bun:"profile"`
	Serial        int    `bun:"serial"`
	Hash          string `bun:"hash"`
	IsActive      bool   `bun:"is_active"`
	IsDirty       bool   `bun:"is_dirty"`
}

// KnownHostModel maps `known_hosts`.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk"`
	Key           string `bun:"key"`
}

// AuditLogModel maps `audit_log`.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int       `bun:"id,pk,autoincrement"`
	Timestamp     time.Time `bun:"timestamp"`
	RunID         string    `bun:"run_id"`
	Actor         string    `bun:"actor"`
	Action        string    `bun:"action"`
	Details       string    `bun:"details"`
}

// DriftEventModel maps `drift_events`.
type DriftEventModel struct {
	bun.BaseModel `bun:"table:drift_events"`
	ID            int        `bun:"id,pk,autoincrement"`
	HostID        int        `bun:"host_id"`
	DetectedAt    time.Time  `bun:"detected_at"`
	DriftType     string     `bun:"drift_type"`
	Details       string     `bun:"details"`
	WasRemediated bool       `bun:"was_remediated"`
	RemediatedAt  *time.Time `bun:"remediated_at"`
}

// --- Mapping helpers ---

func hostModelToModel(h HostModel) model.Host {
	return model.Host{
		ID:       h.ID,
		Hostname: h.Hostname,
		Username: h.Username,
		Port:     h.Port,
		Profile:  h.Profile,
		Serial:   h.Serial,
		Hash:     h.Hash,
		IsActive: h.IsActive,
		IsDirty:  h.IsDirty,
	}
}

func hostToModel(h model.Host) HostModel {
	return HostModel{
		ID:       h.ID,
		Hostname: h.Hostname,
		Username: h.Username,
		Port:     h.Port,
		Profile:  h.Profile,
		Serial:   h.Serial,
		Hash:     h.Hash,
		IsActive: h.IsActive,
		IsDirty:  h.IsDirty,
	}
}

func auditModelToModel(a AuditLogModel) model.AuditLogEntry {
	return model.AuditLogEntry{ID: a.ID, Timestamp: a.Timestamp, RunID: a.RunID, Actor: a.Actor, Action: a.Action, Details: a.Details}
}

func driftModelToModel(d DriftEventModel) model.DriftEvent {
	return model.DriftEvent{
		ID:            d.ID,
		HostID:        d.HostID,
		DetectedAt:    d.DetectedAt,
		DriftType:     model.DriftClassification(d.DriftType),
		Details:       d.Details,
		WasRemediated: d.WasRemediated,
		RemediatedAt:  d.RemediatedAt,
	}
}

func driftToModel(ev model.DriftEvent) DriftEventModel {
	return DriftEventModel{
		ID:            ev.ID,
		HostID:        ev.HostID,
		DetectedAt:    ev.DetectedAt,
		DriftType:     string(ev.DriftType),
		Details:       ev.Details,
		WasRemediated: ev.WasRemediated,
		RemediatedAt:  ev.RemediatedAt,
	}
}

// currentActor returns the OS user running sudokeeper, without a Windows
// domain prefix.
func currentActor() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if _, name, ok := strings.Cut(u.Username, `\`); ok {
		return name
	}
	return u.Username
}

// --- Hosts ---

// AddHost inserts h and returns its ID. New hosts start active and dirty.
func (s *BunStore) AddHost(ctx context.Context, h model.Host) (int, error) {
	if h.Hostname == "" {
		return 0, errors.New("hostname is required")
	}
	hm := hostToModel(h)
	hm.ID = 0
	hm.IsActive = true
	hm.IsDirty = true
	if hm.Username == "" {
		hm.Username = "root"
	}
	if hm.Port == 0 {
		hm.Port = 22
	}
	if _, err := s.bun.NewInsert().Model(&hm).Returning("id").Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return hm.ID, nil
}

// GetHost returns the host registered under hostname.
func (s *BunStore) GetHost(ctx context.Context, hostname string) (*model.Host, error) {
	var hm HostModel
	if err := s.bun.NewSelect().Model(&hm).Where("hostname = ?", hostname).Limit(1).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	h := hostModelToModel(hm)
	return &h, nil
}

func (s *BunStore) selectHosts(ctx context.Context, activeOnly bool) ([]model.Host, error) {
	var hm []HostModel
	q := s.bun.NewSelect().Model(&hm)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.OrderExpr("hostname").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Host, 0, len(hm))
	for _, h := range hm {
		out = append(out, hostModelToModel(h))
	}
	return out, nil
}

// GetAllHosts returns every host ordered by hostname.
func (s *BunStore) GetAllHosts(ctx context.Context) ([]model.Host, error) {
	return s.selectHosts(ctx, false)
}

// GetActiveHosts returns the hosts that take part in deployments and audits.
func (s *BunStore) GetActiveHosts(ctx context.Context) ([]model.Host, error) {
	return s.selectHosts(ctx, true)
}

// DeleteHost removes a host together with its drift history.
func (s *BunStore) DeleteHost(ctx context.Context, hostname string) error {
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		var hm HostModel
		if err := tx.NewSelect().Model(&hm).Where("hostname = ?", hostname).Limit(1).Scan(ctx); err != nil {
			return MapDBError(err)
		}
		if _, err := tx.NewDelete().Model((*DriftEventModel)(nil)).Where("host_id = ?", hm.ID).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*HostModel)(nil)).Where("id = ?", hm.ID).Exec(ctx)
		return err
	})
}

// ToggleHostStatus flips is_active and returns the new state.
func (s *BunStore) ToggleHostStatus(ctx context.Context, hostname string) (bool, error) {
	var active bool
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		var hm HostModel
		if err := tx.NewSelect().Model(&hm).Where("hostname = ?", hostname).Limit(1).Scan(ctx); err != nil {
			return MapDBError(err)
		}
		active = !hm.IsActive
		_, err := tx.NewUpdate().Model((*HostModel)(nil)).Set("is_active = ?", active).Where("id = ?", hm.ID).Exec(ctx)
		return err
	})
	return active, err
}

// UpdateHostDeployment records a successful deployment and clears the dirty flag.
func (s *BunStore) UpdateHostDeployment(ctx context.Context, id, serial int, hash string) error {
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		n, err := tx.NewSelect().Model((*HostModel)(nil)).Where("id = ?", id).Count(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.NewUpdate().Model((*HostModel)(nil)).
			Set("serial = ?", serial).
			Set("hash = ?", hash).
			Set("is_dirty = ?", false).
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
}

// MarkHostDirty flags a host for redeployment, or clears the flag.
func (s *BunStore) MarkHostDirty(ctx context.Context, id int, dirty bool) error {
	_, err := s.bun.NewUpdate().Model((*HostModel)(nil)).Set("is_dirty = ?", dirty).Where("id = ?", id).Exec(ctx)
	return err
}

// --- Known hosts ---

// GetKnownHostKey returns the trusted key for hostname, or ErrNotFound.
func (s *BunStore) GetKnownHostKey(ctx context.Context, hostname string) (string, error) {
	var kh KnownHostModel
	if err := s.bun.NewSelect().Model(&kh).Where("hostname = ?", hostname).Limit(1).Scan(ctx); err != nil {
		return "", MapDBError(err)
	}
	return kh.Key, nil
}

// AddKnownHostKey trusts key for hostname, replacing any previous key.
func (s *BunStore) AddKnownHostKey(ctx context.Context, hostname, key string) error {
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		n, err := tx.NewSelect().Model((*KnownHostModel)(nil)).Where("hostname = ?", hostname).Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			_, err = tx.NewUpdate().Model((*KnownHostModel)(nil)).Set("? = ?", bun.Ident("key"), key).Where("hostname = ?", hostname).Exec(ctx)
			return err
		}
		_, err = tx.NewInsert().Model(&KnownHostModel{Hostname: hostname, Key: key}).Exec(ctx)
		return MapDBError(err)
	})
}

// --- Audit log ---

// LogAction appends entry to the audit log, filling in the timestamp and
// the acting OS user when they are unset.
func (s *BunStore) LogAction(ctx context.Context, entry model.AuditLogEntry) error {
	am := AuditLogModel{
		Timestamp: entry.Timestamp,
		RunID:     entry.RunID,
		Actor:     entry.Actor,
		Action:    entry.Action,
		Details:   entry.Details,
	}
	if am.Timestamp.IsZero() {
		am.Timestamp = time.Now().UTC()
	}
	if am.Actor == "" {
		am.Actor = currentActor()
	}
	_, err := s.bun.NewInsert().Model(&am).Returning("id").Exec(ctx)
	return MapDBError(err)
}

// GetAuditLog returns the newest entries first. A limit of zero returns all.
func (s *BunStore) GetAuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	var am []AuditLogModel
	q := s.bun.NewSelect().Model(&am).OrderExpr("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(am))
	for _, a := range am {
		out = append(out, auditModelToModel(a))
	}
	return out, nil
}

// --- Drift ---

// RecordDrift stores a drift detection and returns its ID.
func (s *BunStore) RecordDrift(ctx context.Context, ev model.DriftEvent) (int, error) {
	dm := driftToModel(ev)
	dm.ID = 0
	if dm.DetectedAt.IsZero() {
		dm.DetectedAt = time.Now().UTC()
	}
	if _, err := s.bun.NewInsert().Model(&dm).Returning("id").Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return dm.ID, nil
}

// ResolveDrift marks every open drift event of a host as remediated.
func (s *BunStore) ResolveDrift(ctx context.Context, hostID int) error {
	now := time.Now().UTC()
	_, err := s.bun.NewUpdate().Model((*DriftEventModel)(nil)).
		Set("was_remediated = ?", true).
		Set("remediated_at = ?", now).
		Where("host_id = ?", hostID).
		Where("was_remediated = ?", false).
		Exec(ctx)
	return err
}

// GetDriftEvents returns the drift history of a host, or of every host when
// hostID is zero.
func (s *BunStore) GetDriftEvents(ctx context.Context, hostID int) ([]model.DriftEvent, error) {
	var dm []DriftEventModel
	q := s.bun.NewSelect().Model(&dm)
	if hostID != 0 {
		q = q.Where("host_id = ?", hostID)
	}
	if err := q.OrderExpr("id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.DriftEvent, 0, len(dm))
	for _, d := range dm {
		out = append(out, driftModelToModel(d))
	}
	return out, nil
}

// --- Backup ---

// BackupSchemaVersion is written into every export.
const BackupSchemaVersion = 1

// ExportDataForBackup reads every table inside one transaction.
func (s *BunStore) ExportDataForBackup(ctx context.Context) (*model.BackupData, error) {
	data := &model.BackupData{SchemaVersion: BackupSchemaVersion, CreatedAt: time.Now().UTC()}
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		var hosts []HostModel
		if err := tx.NewSelect().Model(&hosts).OrderExpr("id").Scan(ctx); err != nil {
			return err
		}
		for _, h := range hosts {
			data.Hosts = append(data.Hosts, hostModelToModel(h))
		}

		var known []KnownHostModel
		if err := tx.NewSelect().Model(&known).OrderExpr("hostname").Scan(ctx); err != nil {
			return err
		}
		for _, k := range known {
			data.KnownHosts = append(data.KnownHosts, model.KnownHost{Hostname: k.Hostname, Key: k.Key})
		}

		var audit []AuditLogModel
		if err := tx.NewSelect().Model(&audit).OrderExpr("id").Scan(ctx); err != nil {
			return err
		}
		for _, a := range audit {
			data.AuditLog = append(data.AuditLog, auditModelToModel(a))
		}

		var drift []DriftEventModel
		if err := tx.NewSelect().Model(&drift).OrderExpr("id").Scan(ctx); err != nil {
			return err
		}
		for _, d := range drift {
			data.DriftEvents = append(data.DriftEvents, driftModelToModel(d))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ImportDataFromBackup loads data into the store. A full import replaces
// every table and keeps the original IDs. Otherwise hosts and known hosts
// that do not exist yet are added, with the drift history of added hosts;
// the audit log is only restored by a full import.
func (s *BunStore) ImportDataFromBackup(ctx context.Context, data *model.BackupData, full bool) error {
	if data == nil {
		return errors.New("no backup data")
	}
	if data.SchemaVersion > BackupSchemaVersion {
		return fmt.Errorf("backup schema version %d is newer than supported version %d", data.SchemaVersion, BackupSchemaVersion)
	}
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if full {
			return s.replaceAll(ctx, tx, data)
		}
		return mergeBackup(ctx, tx, data)
	})
}

func (s *BunStore) replaceAll(ctx context.Context, tx bun.Tx, data *model.BackupData) error {
	for _, m := range []any{(*DriftEventModel)(nil), (*AuditLogModel)(nil), (*KnownHostModel)(nil), (*HostModel)(nil)} {
		if _, err := tx.NewDelete().Model(m).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
	}
	for _, h := range data.Hosts {
		hm := hostToModel(h)
		if _, err := tx.NewInsert().Model(&hm).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	for _, k := range data.KnownHosts {
		if _, err := tx.NewInsert().Model(&KnownHostModel{Hostname: k.Hostname, Key: k.Key}).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	for _, a := range data.AuditLog {
		am := AuditLogModel{ID: a.ID, Timestamp: a.Timestamp, RunID: a.RunID, Actor: a.Actor, Action: a.Action, Details: a.Details}
		if _, err := tx.NewInsert().Model(&am).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	for _, d := range data.DriftEvents {
		dm := driftToModel(d)
		if _, err := tx.NewInsert().Model(&dm).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	// Explicit IDs leave Postgres sequences behind the data.
	if s.dbType == "postgres" {
		for _, table := range []string{"hosts", "audit_log", "drift_events"} {
			q := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)", table)
			if _, err := ExecRaw(ctx, tx, q); err != nil {
				return err
			}
		}
	}
	return nil
}

func mergeBackup(ctx context.Context, tx bun.Tx, data *model.BackupData) error {
	added := map[int]int{}
	for _, h := range data.Hosts {
		n, err := tx.NewSelect().Model((*HostModel)(nil)).Where("hostname = ?", h.Hostname).Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		hm := hostToModel(h)
		hm.ID = 0
		if _, err := tx.NewInsert().Model(&hm).Returning("id").Exec(ctx); err != nil {
			return MapDBError(err)
		}
		added[h.ID] = hm.ID
	}
	for _, k := range data.KnownHosts {
		n, err := tx.NewSelect().Model((*KnownHostModel)(nil)).Where("hostname = ?", k.Hostname).Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := tx.NewInsert().Model(&KnownHostModel{Hostname: k.Hostname, Key: k.Key}).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	for _, d := range data.DriftEvents {
		newID, ok := added[d.HostID]
		if !ok {
			continue
		}
		dm := driftToModel(d)
		dm.ID = 0
		dm.HostID = newID
		if _, err := tx.NewInsert().Model(&dm).Returning("id").Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	return nil
}
