// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/digsig/sudokeeper/internal/system"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// executor binds the system executor to the installed fragment. The
// fragment is usually readable by root only; the configured profile is used
// when it cannot be read.
func (a *app) executor() (*system.Executor, error) {
	p, err := a.installedPolicy()
	if err != nil {
		logging.Debugf("using configured profile for grant checks: %v", err)
		if p, err = a.expected("", 0); err != nil {
			return nil, err
		}
	}
	return system.NewExecutor(p, string(a.principal()),
		system.WithRunner(a.runner),
		system.WithFs(a.fs),
		system.WithConfig(a.systemConfig()),
	), nil
}

func (a *app) installedPolicy() (*policy.Policy, error) {
	data, err := afero.ReadFile(a.fs, a.cfg.Policy.Path)
	if err != nil {
		return nil, err
	}
	return policy.Parse(bytes.NewReader(data))
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one of the granted administrative actions on this host",
		Long: `Runs an administrative action through sudo. Every command is checked against
the sudoers fragment first and refused when it is not granted.`,
	}

	action := func(use, short string, args cobra.PositionalArgs, fn func(cmd *cobra.Command, e *system.Executor, args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := a.executor()
				if err != nil {
					return err
				}
				return fn(cmd, e, args)
			},
		}
	}
	optionalID := func(args []string) string {
		if len(args) > 0 {
			return args[0]
		}
		return ""
	}

	cmd.AddCommand(
		action("reboot", "Reboot the system unless it is under administration", cobra.NoArgs,
			func(cmd *cobra.Command, e *system.Executor, _ []string) error {
				if err := e.Reboot(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("run.reboot"))
				return nil
			}),
		action("unlock-pacman", "Remove a stale pacman database lock", cobra.NoArgs,
			func(cmd *cobra.Command, e *system.Executor, _ []string) error {
				if err := e.UnlockPacman(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("run.unlocked"))
				return nil
			}),
		action("enable-app [html|air]", "Enable and start the signage application", cobra.MaximumNArgs(1),
			func(cmd *cobra.Command, e *system.Executor, args []string) error {
				sel, err := e.EnableApplication(cmd.Context(), optionalID(args))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("run.enabled", sel.Unit))
				return nil
			}),
		action("disable-app [html|air]", "Disable and stop the signage application", cobra.MaximumNArgs(1),
			func(cmd *cobra.Command, e *system.Executor, args []string) error {
				sel, err := e.DisableApplication(cmd.Context(), optionalID(args))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("run.disabled", sel.Unit))
				return nil
			}),
		action("app-status", "Show which applications are enabled and running", cobra.NoArgs,
			func(cmd *cobra.Command, e *system.Executor, _ []string) error {
				st, err := e.ApplicationStatus(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("run.app_status", listOrDash(st.Enabled), listOrDash(st.Running)))
				return nil
			}),
		action("smart", "Show the SMART health of every disk", cobra.NoArgs,
			func(cmd *cobra.Command, e *system.Executor, _ []string) error {
				states, err := e.SmartStates(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(states) == 0 {
					fmt.Fprintln(out, i18n.T("run.smart_none"))
					return nil
				}
				devices := make([]string, 0, len(states))
				for dev := range states {
					devices = append(devices, dev)
				}
				slices.Sort(devices)
				for _, dev := range devices {
					style := styleOK
					if states[dev] != "PASSED" {
						style = styleError
					}
					fmt.Fprintf(out, "%s: %s\n", dev, style.Render(states[dev]))
				}
				return nil
			}),
		action("beep [args...]", "Beep the PC speaker to identify the system", cobra.ArbitraryArgs,
			func(cmd *cobra.Command, e *system.Executor, args []string) error {
				return e.Beep(cmd.Context(), args...)
			}),
	)
	return cmd
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
