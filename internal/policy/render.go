// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Render constructs the full fragment text. Output is deterministic for a
// given policy so that hashes of rendered content are stable.
func (p *Policy) Render() string {
	var b strings.Builder

	if p.Header != nil {
		b.WriteString(FormatHeader(*p.Header))
		b.WriteString("\n")
		b.WriteString("# Do not edit: this file is replaced on every deployment.\n\n")
	}

	for _, a := range p.Aliases {
		cmds := make([]string, 0, len(a.Commands))
		for _, c := range a.Commands {
			cmds = append(cmds, c.String())
		}
		fmt.Fprintf(&b, "Cmnd_Alias %s = %s\n", a.Name, strings.Join(cmds, ", "))
	}
	if len(p.Aliases) > 0 && len(p.Grants) > 0 {
		b.WriteString("\n")
	}

	for _, g := range p.Grants {
		b.WriteString(string(g.Principal))
		b.WriteByte(' ')
		b.WriteString(strings.Join(g.Hosts, ","))
		b.WriteString(" =")
		if g.RunAs != "" {
			fmt.Fprintf(&b, " (%s)", g.RunAs)
		}
		if g.NoPasswd {
			b.WriteString(" " + TagNoPasswd + ":")
		}
		for _, t := range g.Tags {
			b.WriteString(" " + t + ":")
		}
		items := make([]string, 0, len(g.Aliases)+len(g.Commands))
		items = append(items, g.Aliases...)
		for _, c := range g.Commands {
			items = append(items, c.String())
		}
		b.WriteString(" ")
		b.WriteString(strings.Join(items, ", "))
		b.WriteString("\n")
	}

	return b.String()
}

// FormatHeader renders the managed header line.
func FormatHeader(h Header) string {
	return fmt.Sprintf("%s (Profile: %s, Serial: %d)", headerPrefix, h.Profile, h.Serial)
}

// Hash returns a stable SHA-256 of fragment content. Line endings are
// normalized and trailing whitespace is ignored.
func Hash(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	norm := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	sum := sha256.Sum256([]byte(norm))
	return fmt.Sprintf("%x", sum[:])
}
