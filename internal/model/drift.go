// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"strings"
	"time"
)

// DriftClassification represents the severity of a deviation between the
// installed fragment and the intended allow-list.
type DriftClassification string

const (
	// DriftCritical means the host grants something it should not, or the
	// fragment cannot be read at all.
	DriftCritical DriftClassification = "critical"
	// DriftWarning means the host grants less than intended.
	DriftWarning DriftClassification = "warning"
	// DriftInfo means only the management header differs.
	DriftInfo DriftClassification = "info"
)

func (c DriftClassification) rank() int {
	switch c {
	case DriftCritical:
		return 3
	case DriftWarning:
		return 2
	case DriftInfo:
		return 1
	}
	return 0
}

// Max returns the more severe of c and o.
func (c DriftClassification) Max(o DriftClassification) DriftClassification {
	if o.rank() > c.rank() {
		return o
	}
	return c
}

// DriftEvent is a persisted drift detection.
type DriftEvent struct {
	ID            int                 `json:"id"`
	HostID        int                 `json:"host_id"`
	DetectedAt    time.Time           `json:"detected_at"`
	DriftType     DriftClassification `json:"drift_type"`
	Details       string              `json:"details"`
	WasRemediated bool                `json:"was_remediated"`
	RemediatedAt  *time.Time          `json:"remediated_at,omitempty"`
}

// DriftAnalysis describes how an installed fragment differs from the
// expected one.
type DriftAnalysis struct {
	Classification DriftClassification
	HasDrift       bool

	// Unparsable is set when the installed content could not be parsed.
	Unparsable bool
	ParseError string

	MissingHeader  bool
	ProfileMatch   string
	SerialMismatch bool
	ExpectedSerial int
	ActualSerial   int

	MissingAliases []string
	ExtraAliases   []string
	ChangedAliases []string
	ExtraGrants    []string
	ExtraTags      []string

	PrincipalMismatch bool
	HostMismatch      bool
	NoPasswdMismatch  bool
	RunAsMismatch     bool

	ExpectedHash string
	ActualHash   string
}

// IsCritical reports whether the drift is classified as critical.
func (d *DriftAnalysis) IsCritical() bool {
	return d.Classification == DriftCritical
}

// IsWarning reports whether the drift is classified as a warning.
func (d *DriftAnalysis) IsWarning() bool {
	return d.Classification == DriftWarning
}

// Summary returns a human-readable summary of the analysis.
func (d *DriftAnalysis) Summary() string {
	if !d.HasDrift {
		return "No drift detected"
	}
	var parts []string
	if d.Unparsable {
		parts = append(parts, "fragment unparsable: "+d.ParseError)
	}
	if d.MissingHeader {
		parts = append(parts, "management header missing")
	}
	if d.SerialMismatch {
		parts = append(parts, fmt.Sprintf("serial %d, expected %d", d.ActualSerial, d.ExpectedSerial))
	}
	if n := len(d.MissingAliases); n > 0 {
		parts = append(parts, fmt.Sprintf("missing aliases: %d (%s)", n, strings.Join(d.MissingAliases, ", ")))
	}
	if n := len(d.ExtraAliases); n > 0 {
		parts = append(parts, fmt.Sprintf("extra aliases: %d (%s)", n, strings.Join(d.ExtraAliases, ", ")))
	}
	if n := len(d.ChangedAliases); n > 0 {
		parts = append(parts, fmt.Sprintf("changed aliases: %d (%s)", n, strings.Join(d.ChangedAliases, ", ")))
	}
	if n := len(d.ExtraGrants); n > 0 {
		parts = append(parts, fmt.Sprintf("extra grants: %d", n))
	}
	if len(d.ExtraTags) > 0 {
		parts = append(parts, "extra tags: "+strings.Join(d.ExtraTags, ", "))
	}
	if d.PrincipalMismatch {
		parts = append(parts, "principal mismatch")
	}
	if d.HostMismatch {
		parts = append(parts, "host list mismatch")
	}
	if d.NoPasswdMismatch {
		parts = append(parts, "NOPASSWD missing")
	}
	if d.RunAsMismatch {
		parts = append(parts, "runas not limited to root")
	}
	return string(d.Classification) + " drift: " + strings.Join(parts, "; ")
}
