// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/deploy"
	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/digsig/sudokeeper/internal/model"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// errHostsFailed is returned when at least one host failed or drifted.
var errHostsFailed = errors.New("one or more hosts failed")

// connectOptions loads the configured private key, prompting for its
// passphrase on a terminal when it is encrypted.
func (a *app) connectOptions(cmd *cobra.Command, st db.Store) (deploy.ConnectOptions, error) {
	opts := deploy.ConnectOptions{HostKeys: st, Timeout: a.cfg.Deploy.Timeout}
	keyFile := a.cfg.Deploy.PrivateKeyFile
	if keyFile == "" {
		return opts, nil
	}
	key, err := afero.ReadFile(a.fs, keyFile)
	if err != nil {
		return opts, fmt.Errorf("read private key: %w", err)
	}
	opts.PrivateKey = key

	_, err = deploy.ParsePrivateKey(key, nil)
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return opts, err
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return opts, fmt.Errorf("private key %s is encrypted and no terminal is available for the passphrase", keyFile)
	}
	fmt.Fprint(cmd.ErrOrStderr(), i18n.T("prompt.passphrase", keyFile))
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return opts, fmt.Errorf("read passphrase: %w", err)
	}
	if _, err := deploy.ParsePrivateKey(key, pass); err != nil {
		return opts, err
	}
	opts.Passphrase = pass
	return opts, nil
}

func (a *app) newFleet(cmd *cobra.Command, st db.Store) (*deploy.Fleet, error) {
	dial := a.dial
	if dial == nil {
		opts, err := a.connectOptions(cmd, st)
		if err != nil {
			return nil, err
		}
		dial = deploy.SSHDialer(opts)
	}
	return &deploy.Fleet{
		Store:          st,
		Profiles:       a.profiles,
		Principal:      a.principal(),
		DefaultProfile: a.cfg.Policy.Profile,
		Path:           a.cfg.Policy.Path,
		Concurrency:    a.cfg.Deploy.Concurrency,
		Visudo:         a.cfg.Deploy.Visudo,
		Dial:           dial,
	}, nil
}

// selectHosts returns the named host, or every active host.
func selectHosts(ctx context.Context, st db.Store, args []string) ([]model.Host, error) {
	if len(args) == 0 {
		return st.GetActiveHosts(ctx)
	}
	h, err := st.GetHost(ctx, args[0])
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", args[0], err)
	}
	return []model.Host{*h}, nil
}

func printResults(out io.Writer, results []deploy.Result) (ok int) {
	for _, r := range results {
		line := fmt.Sprintf("%-32s %s", r.Host.String(), resultStatus(r))
		if d := resultDetail(r); d != "" {
			line += "  " + styleSubtle.Render(d)
		}
		fmt.Fprintln(out, line)
		if r.OK() {
			ok++
		}
	}
	return ok
}

func newDeployCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy [host]",
		Short: "Deploy the fragment to one or all active hosts",
		Long: `Installs each host's profile over SSH with the next serial. Without an
argument every active host is deployed in parallel.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			hosts, err := selectHosts(cmd.Context(), st, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, i18n.T("host.none"))
				return nil
			}
			fleet, err := a.newFleet(cmd, st)
			if err != nil {
				return err
			}
			results, err := fleet.DeployHosts(cmd.Context(), hosts)
			ok := printResults(out, results)
			fmt.Fprintln(out, i18n.T("deploy.summary", ok, len(results)))
			if err != nil {
				return err
			}
			if ok != len(results) {
				return errHostsFailed
			}
			return nil
		},
	}
}

func newAuditCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "audit [host]",
		Short: "Audit hosts for drift from their profile",
		Long: `Fetches the installed fragment from one or all active hosts and compares it
with the host's profile.

--mode=strict compares the effective grant. --mode=serial only compares the
header serial with the last deployed serial.`,
		Args: cobra.MaximumNArgs(1),
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

			hosts, err := selectHosts(cmd.Context(), st, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, i18n.T("host.none"))
				return nil
			}
			fleet, err := a.newFleet(cmd, st)
			if err != nil {
				return err
			}
			results, err := fleet.AuditHosts(cmd.Context(), hosts, auditMode)
			ok := printResults(out, results)
			fmt.Fprintln(out, i18n.T("audit.summary", ok, len(results)))
			if err != nil {
				return err
			}
			if ok != len(results) {
				return errHostsFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(deploy.AuditStrict), "Audit mode: strict or serial")
	return cmd
}
