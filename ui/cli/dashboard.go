// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/deploy"
	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/spf13/cobra"
)

// auditDoneMsg carries the results of one fleet audit.
type auditDoneMsg struct {
	results []deploy.Result
	err     error
}

type dashboardModel struct {
	ctx     context.Context
	store   db.Store
	fleet   *deploy.Fleet
	mode    deploy.AuditMode
	profile func(deploy.Result) string

	table   table.Model
	results []deploy.Result
	loading bool
	err     error
}

func newDashboardModel(ctx context.Context, st db.Store, fleet *deploy.Fleet, mode deploy.AuditMode, profile func(deploy.Result) string) dashboardModel {
	columns := []table.Column{
		{Title: i18n.T("dashboard.col.host"), Width: 28},
		{Title: i18n.T("dashboard.col.profile"), Width: 10},
		{Title: i18n.T("dashboard.col.serial"), Width: 7},
		{Title: i18n.T("dashboard.col.status"), Width: 12},
		{Title: i18n.T("dashboard.col.detail"), Width: 60},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("255")).
		Background(colorHighlight).
		Bold(false)
	t.SetStyles(s)

	return dashboardModel{
		ctx:     ctx,
		store:   st,
		fleet:   fleet,
		mode:    mode,
		profile: profile,
		table:   t,
		loading: true,
	}
}

// audit loads the active hosts and audits them off the UI loop.
func (m dashboardModel) audit() tea.Msg {
	hosts, err := m.store.GetActiveHosts(m.ctx)
	if err != nil {
		return auditDoneMsg{err: err}
	}
	results, err := m.fleet.AuditHosts(m.ctx, hosts, m.mode)
	return auditDoneMsg{results: results, err: err}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.audit
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-6, 3))
		m.table.SetWidth(msg.Width - 2)
		return m, nil

	case auditDoneMsg:
		m.loading = false
		m.err = msg.err
		m.results = msg.results
		m.rebuildRows()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, m.audit
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *dashboardModel) rebuildRows() {
	rows := make([]table.Row, 0, len(m.results))
	for _, r := range m.results {
		rows = append(rows, table.Row{
			r.Host.String(),
			m.profile(r),
			strconv.Itoa(r.Host.Serial),
			resultStatus(r),
			resultDetail(r),
		})
	}
	m.table.SetRows(rows)
}

// counts returns how many hosts are fine and how many were audited.
func (m dashboardModel) counts() (ok, total int) {
	for _, r := range m.results {
		if r.OK() {
			ok++
		}
	}
	return ok, len(m.results)
}

func (m dashboardModel) View() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render(i18n.T("dashboard.title")))
	b.WriteString("\n\n")
	switch {
	case m.loading:
		b.WriteString(styleSubtle.Render(i18n.T("dashboard.loading")))
		b.WriteString("\n")
	case m.err != nil:
		b.WriteString(styleError.Render(m.err.Error()))
		b.WriteString("\n")
	}
	if len(m.results) > 0 {
		b.WriteString(m.table.View())
		b.WriteString("\n")
		ok, total := m.counts()
		b.WriteString(i18n.T("audit.summary", ok, total))
		b.WriteString("\n")
	} else if !m.loading && m.err == nil {
		b.WriteString(i18n.T("host.none"))
		b.WriteString("\n")
	}
	b.WriteString(styleSubtle.Render(i18n.T("dashboard.help")))
	return b.String()
}

func newDashboardCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Interactive drift overview of all active hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			auditMode, err := deploy.ParseAuditMode(mode)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			fleet, err := a.newFleet(cmd, st)
			if err != nil {
				return err
			}
			profile := func(r deploy.Result) string { return a.hostProfile(r.Host) }
			m := newDashboardModel(cmd.Context(), st, fleet, auditMode, profile)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(deploy.AuditStrict), "Audit mode: strict or serial")
	return cmd
}
