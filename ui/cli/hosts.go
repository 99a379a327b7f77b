// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/digsig/sudokeeper/internal/deploy"
	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/digsig/sudokeeper/internal/model"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
)

// parseTarget splits "user@host:port" into its parts. Missing parts are
// left zero.
func parseTarget(s string) (user, host string, port int, err error) {
	if u, rest, ok := strings.Cut(s, "@"); ok {
		user, s = u, rest
	}
	host = s
	if h, p, splitErr := net.SplitHostPort(s); splitErr == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid port in %q", s)
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("missing hostname in %q", s)
	}
	return user, host, port, nil
}

func newHostCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Manage the signage hosts in the inventory",
	}
	cmd.AddCommand(
		newHostAddCmd(a),
		newHostListCmd(a),
		newHostRemoveCmd(a),
		newHostToggleCmd(a),
		newHostTrustCmd(a),
	)
	return cmd
}

func newHostAddCmd(a *app) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "add [user@]host[:port]",
		Short: "Add a host to the inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, host, port, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			if user == "" {
				user = a.cfg.Deploy.User
			}
			if port == 0 {
				port = a.cfg.Deploy.Port
			}
			if profile != "" {
				if _, err := a.profiles.Lookup(profile); err != nil {
					return err
				}
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			h := model.Host{Hostname: host, Username: user, Port: port, Profile: profile}
			if _, err := st.AddHost(cmd.Context(), h); err != nil {
				return fmt.Errorf("add host %s: %w", host, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("host.added", h.String()))
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "Profile for this host (default: policy.profile)")
	return cmd
}

func newHostListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			hosts, err := st.GetAllHosts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, i18n.T("host.none"))
				return nil
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(styleBorder).
				Headers(i18n.T("dashboard.col.host"), i18n.T("dashboard.col.profile"), i18n.T("dashboard.col.serial"), i18n.T("dashboard.col.status")).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return styleHeader
					}
					return styleCell
				})
			for _, h := range hosts {
				t.Row(h.String(), a.hostProfile(h), strconv.Itoa(h.Serial), hostState(h))
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
}

func (a *app) hostProfile(h model.Host) string {
	if h.Profile != "" {
		return h.Profile
	}
	return a.cfg.Policy.Profile
}

func hostState(h model.Host) string {
	switch {
	case !h.IsActive:
		return i18n.T("status.inactive")
	case h.IsDirty:
		return i18n.T("status.drift")
	default:
		return i18n.T("status.ok")
	}
}

func newHostRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <host>",
		Short: "Remove a host from the inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if err := st.DeleteHost(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("remove host %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("host.removed", args[0]))
			return nil
		},
	}
}

func newHostToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <host>",
		Short: "Activate or deactivate a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			active, err := st.ToggleHostStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("toggle host %s: %w", args[0], err)
			}
			state := i18n.T("status.inactive")
			if active {
				state = i18n.T("status.ok")
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("host.toggled", args[0], state))
			return nil
		},
	}
}

func newHostTrustCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "trust <host[:port]>",
		Short: "Fetch and trust a host's SSH key",
		Long: `Connects to the host, shows the fingerprint of its SSH host key and stores
the key as trusted. Deployments refuse hosts without a trusted key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, host, port, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			if port == 0 {
				port = a.cfg.Deploy.Port
			}
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			key, err := deploy.GetRemoteHostKey(cmd.Context(), addr, a.cfg.Deploy.Timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fingerprint := ssh.FingerprintSHA256(key)
			fmt.Fprintf(out, "%s %s\n", key.Type(), fingerprint)
			switch key.Type() {
			case ssh.KeyAlgoRSA, ssh.KeyAlgoDSA:
				fmt.Fprintln(out, styleWarning.Render(i18n.T("host.weak_key", key.Type())))
			}
			if !yes {
				ans := promptForConfirmation(cmd.InOrStdin(), out, "Trust this key (yes/no)? ")
				if ans != "yes" && ans != "y" {
					return fmt.Errorf("host key for %s not trusted", host)
				}
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if err := st.AddKnownHostKey(cmd.Context(), host, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))); err != nil {
				return err
			}
			fmt.Fprintln(out, styleOK.Render(i18n.T("host.trusted", host, fingerprint)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Trust without confirmation")
	return cmd
}
