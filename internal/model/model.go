// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the records sudokeeper stores about its fleet.
package model // import "github.com/digsig/sudokeeper/internal/model"

import (
	"fmt"
	"strconv"
	"time"
)

// Host is a signage system that receives the sudoers fragment.
type Host struct {
	ID       int    `json:"id"`
	Hostname string `json:"hostname"`
	// Username is the SSH login used for deployment.
	Username string `json:"username"`
	Port     int    `json:"port"`
	// Profile names the allow-list this host should carry.
	Profile string `json:"profile"`
	// Serial is the fragment serial last deployed to the host.
	Serial int `json:"serial"`
	// Hash is the content hash of the last deployed fragment.
	Hash     string `json:"hash"`
	IsActive bool   `json:"is_active"`
	// IsDirty marks hosts whose fragment needs to be redeployed.
	IsDirty bool `json:"is_dirty"`
}

// String returns the user@host[:port] representation.
func (h Host) String() string {
	if h.Port != 0 && h.Port != 22 {
		return fmt.Sprintf("%s@%s:%d", h.Username, h.Hostname, h.Port)
	}
	return fmt.Sprintf("%s@%s", h.Username, h.Hostname)
}

// Address returns the host:port dial address.
func (h Host) Address() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return h.Hostname + ":" + strconv.Itoa(port)
}

// KnownHost is a trusted SSH host key.
type KnownHost struct {
	Hostname string `json:"hostname"`
	Key      string `json:"key"`
}

// AuditLogEntry records an action taken by sudokeeper.
type AuditLogEntry struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// RunID correlates entries written by one fleet run.
	RunID   string `json:"run_id,omitempty"`
	Actor   string `json:"actor"`
	Action  string `json:"action"`
	Details string `json:"details"`
}

// BackupData is the full export of the store.
type BackupData struct {
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Hosts         []Host          `json:"hosts"`
	KnownHosts    []KnownHost     `json:"known_hosts"`
	AuditLog      []AuditLogEntry `json:"audit_log"`
	DriftEvents   []DriftEvent    `json:"drift_events"`
}
