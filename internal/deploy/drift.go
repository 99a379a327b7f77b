// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/digsig/sudokeeper/internal/model"
	"github.com/digsig/sudokeeper/internal/policy"
)

// AuditMode selects how deeply an installed fragment is compared.
type AuditMode string

const (
	// AuditStrict compares the full effective grant.
	AuditStrict AuditMode = "strict"
	// AuditSerial only compares the header serial.
	AuditSerial AuditMode = "serial"
)

// ParseAuditMode validates a mode name. An empty name selects strict.
func ParseAuditMode(s string) (AuditMode, error) {
	switch AuditMode(s) {
	case "", AuditStrict:
		return AuditStrict, nil
	case AuditSerial:
		return AuditSerial, nil
	}
	return "", fmt.Errorf("unknown audit mode %q (want strict or serial)", s)
}

// AnalyzeDrift compares installed fragment content against expected.
// Content that could grant more than intended is critical, content that
// grants less is a warning, and header-only differences are informational.
// A nil actual means no fragment is installed.
func AnalyzeDrift(expected *policy.Policy, actual []byte, mode AuditMode) *model.DriftAnalysis {
	a := &model.DriftAnalysis{ExpectedHash: policy.Hash([]byte(expected.Render()))}
	if expected.Header != nil {
		a.ExpectedSerial = expected.Header.Serial
	}
	raise := func(c model.DriftClassification) {
		a.HasDrift = true
		a.Classification = a.Classification.Max(c)
	}

	if actual == nil {
		a.MissingHeader = true
		a.MissingAliases = expected.GrantedAliases(principalOf(expected))
		raise(model.DriftWarning)
		return a
	}
	a.ActualHash = policy.Hash(actual)

	if mode == AuditSerial {
		h, ok := firstHeader(actual)
		if !ok {
			a.MissingHeader = true
			raise(model.DriftInfo)
			return a
		}
		a.ActualSerial = h.Serial
		if h.Serial != a.ExpectedSerial {
			a.SerialMismatch = true
			raise(model.DriftInfo)
		}
		return a
	}

	p, err := policy.Parse(bytes.NewReader(actual))
	if err != nil {
		a.Unparsable = true
		a.ParseError = err.Error()
		raise(model.DriftCritical)
		return a
	}
	if p.Header == nil {
		a.MissingHeader = true
		raise(model.DriftInfo)
	} else {
		a.ActualSerial = p.Header.Serial
		if p.Header.Serial != a.ExpectedSerial {
			a.SerialMismatch = true
			raise(model.DriftInfo)
		}
	}

	d := policy.Compare(expected, p)
	a.MissingAliases = d.MissingAliases
	a.ExtraAliases = d.ExtraAliases
	a.ChangedAliases = d.ChangedAliases
	a.ExtraGrants = d.ExtraGrants
	a.ExtraTags = d.ExtraTags
	a.PrincipalMismatch = d.PrincipalMismatch
	a.HostMismatch = d.HostMismatch
	a.NoPasswdMismatch = d.NoPasswdMismatch
	a.RunAsMismatch = d.RunAsMismatch
	if d.Expands() {
		raise(model.DriftCritical)
	} else if len(d.MissingAliases) > 0 {
		raise(model.DriftWarning)
	}
	return a
}

func principalOf(p *policy.Policy) policy.Principal {
	if len(p.Grants) == 0 {
		return ""
	}
	return p.Grants[0].Principal
}

// firstHeader scans for the management header without parsing the rest.
func firstHeader(content []byte) (policy.Header, bool) {
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}
		if h, err := policy.ParseHeader(line); err == nil {
			return h, true
		}
	}
	return policy.Header{}, false
}
