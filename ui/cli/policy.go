// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/atotto/clipboard"
	"github.com/digsig/sudokeeper/internal/deploy"
	"github.com/digsig/sudokeeper/internal/i18n"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/digsig/sudokeeper/internal/verify"
	"github.com/digsig/sudokeeper/internal/watch"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// errDrift is returned when an installed fragment does not match.
var errDrift = errors.New("installed fragment does not match the configured profile")

func (a *app) fragmentPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("path"); p != "" {
		return p
	}
	return a.cfg.Policy.Path
}

func newRenderCmd(a *app) *cobra.Command {
	var profile, output string
	var serial int
	var copyOut bool
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the sudoers fragment for a profile",
		Long: `Renders the fragment of the configured profile, or of --profile, to stdout.
Use --output to write it to a file or --copy to place it on the clipboard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.expected(profile, serial)
			if err != nil {
				return err
			}
			if err := p.Check(); err != nil {
				return err
			}
			text := p.Render()
			out := cmd.OutOrStdout()
			switch {
			case copyOut:
				if err := clipboard.WriteAll(text); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Fprintln(out, i18n.T("render.copied"))
			case output != "":
				if err := afero.WriteFile(a.fs, output, []byte(text), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(out, i18n.T("render.written", output))
			default:
				fmt.Fprint(out, text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "Profile to render (default: policy.profile)")
	cmd.Flags().IntVar(&serial, "serial", 1, "Serial written into the header")
	cmd.Flags().BoolVar(&copyOut, "copy", false, "Copy the fragment to the clipboard")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the fragment to a file")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a sudoers fragment and report which profile it matches",
		Long: `Parses and validates a fragment file ("-" reads stdin). Prints every problem
and the profile the fragment grants exactly, if any.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.readInput(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p, err := policy.Parse(bytes.NewReader(data))
			if err != nil {
				fmt.Fprintln(out, styleError.Render(i18n.T("check.invalid", args[0])))
				return err
			}
			problems := p.Validate()
			for _, pr := range problems {
				style := styleWarning
				if pr.Severity == policy.SeverityError {
					style = styleError
				}
				fmt.Fprintln(out, style.Render("  "+pr.String()))
			}
			if errs := policy.Errors(problems); len(errs) > 0 {
				fmt.Fprintln(out, styleError.Render(i18n.T("check.invalid", args[0])))
				return &policy.ValidationError{Problems: errs}
			}
			for _, f := range verify.Executables(a.fs, p) {
				fmt.Fprintln(out, styleWarning.Render("  "+f.String()))
			}
			if name, ok := a.profiles.Match(a.principal(), p); ok {
				fmt.Fprintln(out, styleOK.Render(i18n.T("check.valid", args[0], name)))
			} else {
				fmt.Fprintln(out, styleWarning.Render(i18n.T("check.valid_custom", args[0])))
			}
			return nil
		},
	}
}

func printReport(out io.Writer, r *verify.Report) {
	if r.ParseErr != nil {
		fmt.Fprintln(out, styleError.Render("  "+r.ParseErr.Error()))
		return
	}
	if r.Header != nil {
		fmt.Fprintln(out, styleSubtle.Render(fmt.Sprintf("  %s", policy.FormatHeader(*r.Header))))
	}
	for _, p := range r.Problems {
		fmt.Fprintln(out, styleWarning.Render("  "+p.String()))
	}
	if !r.Diff.Exact() {
		style := styleWarning
		if r.Diff.Expands() {
			style = styleError
		}
		fmt.Fprintln(out, style.Render("  "+r.Diff.String()))
	}
	if r.Mode.Perm() != verify.InstallMode {
		fmt.Fprintln(out, styleWarning.Render(fmt.Sprintf("  mode %04o, expected %04o", r.Mode.Perm(), verify.InstallMode)))
	}
	if !r.RootOwned() {
		fmt.Fprintln(out, styleError.Render(fmt.Sprintf("  owned by uid %d, sudo ignores fragments not owned by root", r.Owner)))
	}
	for _, f := range r.Findings {
		fmt.Fprintln(out, styleWarning.Render("  "+f.String()))
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	var visudo bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the installed fragment against the configured profile",
		Long: `Reads the installed fragment and checks that it grants exactly the configured
profile, has mode 0440 and only names existing executables. Exits non-zero
on any difference.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.fragmentPath(cmd)
			expected, err := a.expected("", 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			r, err := verify.Installed(a.fs, path, expected, a.profiles)
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(out, styleError.Render(i18n.T("verify.not_found", path)))
				return errDrift
			}
			if err != nil {
				return err
			}
			if visudo {
				if err := verify.Syntax(cmd.Context(), a.runner, path); err != nil {
					return err
				}
			}
			if r.OK() {
				fmt.Fprintln(out, styleOK.Render(i18n.T("verify.ok", path, a.cfg.Policy.Profile)))
				return nil
			}
			fmt.Fprintln(out, styleError.Render(i18n.T("verify.drift", path, a.cfg.Policy.Profile)))
			printReport(out, r)
			if r.Matches != "" && r.Matches != a.cfg.Policy.Profile {
				fmt.Fprintln(out, styleWarning.Render(i18n.T("check.valid", path, r.Matches)))
			}
			return errDrift
		},
	}
	cmd.Flags().String("path", "", "Fragment path (default: policy.path)")
	cmd.Flags().BoolVar(&visudo, "visudo", false, "Also run visudo -c on the installed file")
	return cmd
}

// installedSerial returns the serial in the header of the fragment at path,
// or zero when there is none.
func (a *app) installedSerial(path string) int {
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return 0
	}
	p, err := policy.Parse(bytes.NewReader(data))
	if err != nil || p.Header == nil {
		return 0
	}
	return p.Header.Serial
}

func newInstallCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the configured profile on this host",
		Long: `Writes the configured profile to the fragment path atomically with mode 0440.
The header serial is one above the currently installed serial. When
deploy.visudo is set, visudo checks the staged file before it replaces the
installed one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.fragmentPath(cmd)
			serial := a.installedSerial(path) + 1
			p, err := a.expected("", serial)
			if err != nil {
				return err
			}
			in := deploy.NewInstaller(a.fs)
			if a.cfg.Deploy.Visudo {
				in.WithVisudo(a.runner)
			}
			if _, err := in.Install(cmd.Context(), p, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render(i18n.T("install.done", path, a.cfg.Policy.Profile, serial)))
			return nil
		},
	}
	cmd.Flags().String("path", "", "Fragment path (default: policy.path)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-verify the installed fragment whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.fragmentPath(cmd)
			expected, err := a.expected("", 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, i18n.T("watch.started", path))
			w := watch.New(a.fs, path, expected, a.profiles, func(r *verify.Report, err error) {
				switch {
				case errors.Is(err, fs.ErrNotExist):
					fmt.Fprintln(out, styleError.Render(i18n.T("verify.not_found", path)))
				case err != nil:
					fmt.Fprintln(out, styleError.Render(err.Error()))
				case r.OK():
					fmt.Fprintln(out, styleOK.Render(i18n.T("verify.ok", path, a.cfg.Policy.Profile)))
				default:
					fmt.Fprintln(out, styleError.Render(i18n.T("verify.drift", path, a.cfg.Policy.Profile)))
					printReport(out, r)
				}
			})
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().String("path", "", "Fragment path (default: policy.path)")
	return cmd
}
