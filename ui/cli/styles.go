// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"

	"github.com/charmbracelet/lipgloss"
	"github.com/digsig/sudokeeper/internal/deploy"
	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/digsig/sudokeeper/internal/model"
)

var (
	colorSubtle    = lipgloss.Color("240")
	colorHighlight = lipgloss.Color("81")
	colorSpecial   = lipgloss.Color("208")
	colorError     = lipgloss.Color("196")
	colorSuccess   = lipgloss.Color("40")
)

var (
	styleOK      = lipgloss.NewStyle().Foreground(colorSuccess)
	styleWarning = lipgloss.NewStyle().Foreground(colorSpecial)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleSubtle  = lipgloss.NewStyle().Foreground(colorSubtle)
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorHighlight)
	styleHeader  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleCell    = lipgloss.NewStyle().Padding(0, 1)
	styleBorder  = lipgloss.NewStyle().Foreground(colorSubtle)
)

// driftStyle colors a drift classification by severity.
func driftStyle(c model.DriftClassification) lipgloss.Style {
	switch c {
	case model.DriftCritical:
		return styleError
	case model.DriftWarning:
		return styleWarning
	default:
		return styleSubtle
	}
}

// resultStatus returns the localized, styled status of a fleet result.
func resultStatus(r deploy.Result) string {
	switch {
	case errors.Is(r.Err, deploy.ErrUnreachable):
		return styleError.Render(i18n.T("status.unreachable"))
	case r.Err != nil:
		return styleError.Render(i18n.T("status.error"))
	case r.Analysis != nil && r.Analysis.HasDrift:
		return driftStyle(r.Analysis.Classification).Render(i18n.T("status.drift"))
	default:
		return styleOK.Render(i18n.T("status.ok"))
	}
}

// resultDetail describes a fleet result in one line.
func resultDetail(r deploy.Result) string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Analysis != nil && r.Analysis.HasDrift:
		return i18n.T("drift."+string(r.Analysis.Classification)) + ": " + r.Analysis.Summary()
	case r.Analysis != nil && r.Analysis.ProfileMatch != "":
		return r.Analysis.ProfileMatch
	default:
		return ""
	}
}
