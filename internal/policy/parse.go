// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for sudoers constructs outside the fragment
// grammar (includes, Defaults, other alias kinds, negation).
var ErrUnsupported = errors.New("unsupported sudoers construct")

// ParseError reports a problem at a specific line of a fragment.
type ParseError struct {
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

const headerPrefix = "# Managed by sudokeeper"

var headerRE = regexp.MustCompile(`\(Profile: ([^,]+), Serial: (\d+)\)`)

var tagRE = regexp.MustCompile(`^([A-Z_]+):\s*`)

// Parse reads a sudoers fragment.
func Parse(r io.Reader) (*Policy, error) {
	p := &Policy{}
	scanner := bufio.NewScanner(r)

	var (
		buf       strings.Builder
		startLine int
		lineNo    int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if buf.Len() == 0 {
			startLine = lineNo
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, headerPrefix) && p.Header == nil {
				if h, err := ParseHeader(trimmed); err == nil {
					p.Header = &h
				}
				continue
			}
		}
		if continued(line) {
			buf.WriteString(strings.TrimSuffix(line, `\`))
			buf.WriteByte(' ')
			continue
		}
		buf.WriteString(line)
		stmt := buf.String()
		buf.Reset()
		if err := p.parseStatement(stmt, startLine); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fragment: %w", err)
	}
	if buf.Len() > 0 {
		return nil, &ParseError{Line: startLine, Msg: "unterminated line continuation"}
	}
	return p, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) (*Policy, error) {
	return Parse(strings.NewReader(s))
}

// ParseHeader extracts profile and serial from a managed header line.
func ParseHeader(line string) (Header, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, headerPrefix) {
		return Header{}, fmt.Errorf("not a sudokeeper header line")
	}
	m := headerRE.FindStringSubmatch(line)
	if len(m) < 3 {
		return Header{}, fmt.Errorf("profile and serial not found in header")
	}
	serial, err := strconv.Atoi(m[2])
	if err != nil {
		return Header{}, fmt.Errorf("invalid serial number format: %w", err)
	}
	return Header{Profile: strings.TrimSpace(m[1]), Serial: serial}, nil
}

// continued reports whether line ends with an unescaped backslash.
func continued(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func (p *Policy) parseStatement(stmt string, line int) error {
	stmt = strings.TrimSpace(stripComment(stmt))
	if stmt == "" {
		return nil
	}
	perr := func(msg string, err error) error {
		return &ParseError{Line: line, Msg: msg, Err: err}
	}

	keyword := strings.Fields(stmt)[0]
	switch {
	case strings.HasPrefix(stmt, "#include"), strings.HasPrefix(stmt, "@include"):
		return perr("include directives are not supported", ErrUnsupported)
	case strings.HasPrefix(keyword, "Defaults"):
		return perr("Defaults entries are not supported", ErrUnsupported)
	case keyword == "User_Alias", keyword == "Host_Alias", keyword == "Runas_Alias":
		return perr(keyword+" is not supported", ErrUnsupported)
	case keyword == "Cmnd_Alias":
		return p.parseAliases(strings.TrimSpace(strings.TrimPrefix(stmt, "Cmnd_Alias")), line)
	default:
		return p.parseGrant(stmt, line)
	}
}

func (p *Policy) parseAliases(body string, line int) error {
	for _, def := range splitUnescaped(body, ':') {
		name, spec, ok := cutUnescaped(def, '=')
		if !ok {
			return &ParseError{Line: line, Msg: "Cmnd_Alias without '='"}
		}
		name = strings.TrimSpace(name)
		if !aliasNameRE.MatchString(name) {
			return &ParseError{Line: line, Msg: fmt.Sprintf("invalid alias name %q", name)}
		}
		if _, dup := p.Alias(name); dup {
			return &ParseError{Line: line, Msg: fmt.Sprintf("duplicate alias %q", name)}
		}
		a := Alias{Name: name}
		for _, item := range splitUnescaped(spec, ',') {
			c, err := parseCommand(item)
			if err != nil {
				return &ParseError{Line: line, Msg: err.Error(), Err: err}
			}
			a.Commands = append(a.Commands, c)
		}
		p.Aliases = append(p.Aliases, a)
	}
	return nil
}

func (p *Policy) parseGrant(stmt string, line int) error {
	left, right, ok := cutUnescaped(stmt, '=')
	if !ok {
		return &ParseError{Line: line, Msg: fmt.Sprintf("unrecognized statement %q", stmt)}
	}
	fields := strings.Fields(left)
	if len(fields) < 2 {
		return &ParseError{Line: line, Msg: "grant needs a principal and a host list"}
	}
	g := Grant{Principal: Principal(fields[0])}
	for _, h := range strings.Split(strings.Join(fields[1:], ""), ",") {
		if h = strings.TrimSpace(h); h != "" {
			g.Hosts = append(g.Hosts, h)
		}
	}

	right = strings.TrimSpace(right)
	if strings.HasPrefix(right, "(") {
		end := strings.IndexByte(right, ')')
		if end < 0 {
			return &ParseError{Line: line, Msg: "unterminated runas list"}
		}
		g.RunAs = strings.TrimSpace(right[1:end])
		right = strings.TrimSpace(right[end+1:])
	}
	for {
		m := tagRE.FindStringSubmatch(right)
		if m == nil {
			break
		}
		switch m[1] {
		case TagNoPasswd:
			g.NoPasswd = true
		case "PASSWD":
			g.NoPasswd = false
		default:
			g.Tags = append(g.Tags, m[1])
		}
		right = right[len(m[0]):]
	}

	for _, item := range splitUnescaped(right, ',') {
		item = strings.TrimSpace(item)
		switch {
		case item == "":
			return &ParseError{Line: line, Msg: "empty entry in command list"}
		case strings.HasPrefix(item, "!"):
			return &ParseError{Line: line, Msg: "negated commands are not supported", Err: ErrUnsupported}
		case aliasNameRE.MatchString(item) && item != HostAll:
			g.Aliases = append(g.Aliases, item)
		default:
			c, err := parseCommand(item)
			if err != nil {
				return &ParseError{Line: line, Msg: err.Error(), Err: err}
			}
			g.Commands = append(g.Commands, c)
		}
	}
	p.Grants = append(p.Grants, g)
	return nil
}

func parseCommand(item string) (Command, error) {
	words := splitWords(item)
	if len(words) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	c := Command{Path: words[0]}
	rest := words[1:]
	switch {
	case len(rest) == 1 && rest[0] == `""`:
		c.NoArgs = true
	case len(rest) > 0:
		c.Args = rest
	}
	return c, nil
}

// stripComment removes a trailing comment that starts at a word boundary.
func stripComment(s string) string {
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '#' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t'):
			rest := s[i:]
			if strings.HasPrefix(rest, "#include") {
				return s
			}
			return s[:i]
		}
	}
	return s
}

// splitUnescaped splits s on sep, ignoring backslash-escaped separators.
// Escapes are kept so later stages can still see them.
func splitUnescaped(s string, sep byte) []string {
	var (
		out     []string
		start   int
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func cutUnescaped(s string, sep byte) (string, string, bool) {
	parts := splitUnescaped(s, sep)
	if len(parts) < 2 {
		return s, "", false
	}
	return parts[0], s[len(parts[0])+1:], true
}

// splitWords splits on unescaped whitespace and removes escapes.
func splitWords(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		escaped bool
		inWord  bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out
}
