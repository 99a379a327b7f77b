// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-lint checks that every translation key used in the source exists in
// all locale files, and reports keys no code refers to.
//
// Usage:
//
//	go run ./tools/i18n-lint [root]
package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
)

// usage records the translation keys referenced by the source. Calls like
// i18n.T("drift." + class) register "drift." as a prefix.
type usage struct {
	keys     map[string]token.Position
	prefixes map[string]token.Position
}

func (u usage) covers(key string) bool {
	if _, ok := u.keys[key]; ok {
		return true
	}
	for p := range u.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// report is the result of one lint run.
type report struct {
	Undefined map[string]token.Position // used but missing from the primary locale
	Missing   map[string][]string       // locale file -> keys missing there
	Orphaned  []string
}

func (r report) failed() bool {
	return len(r.Undefined) > 0 || len(r.Missing) > 0
}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	r, err := lint(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-lint: %v\n", err)
		os.Exit(2)
	}

	for _, k := range sortedKeys(r.Undefined) {
		pos := r.Undefined[k]
		fmt.Printf("%s:%d: undefined key %q\n", pos.Filename, pos.Line, k)
	}
	for _, file := range sortedKeys(r.Missing) {
		for _, k := range r.Missing[file] {
			fmt.Printf("%s: missing key %q\n", file, k)
		}
	}
	for _, k := range r.Orphaned {
		fmt.Printf("%s: orphaned key %q\n", primaryLocale, k)
	}
	if r.failed() {
		os.Exit(1)
	}
}

func lint(root string) (report, error) {
	used, err := findUsedKeys(root)
	if err != nil {
		return report{}, err
	}
	dir := filepath.Join(root, localesDir)
	primary, err := loadKeysFromLocale(filepath.Join(dir, primaryLocale))
	if err != nil {
		return report{}, fmt.Errorf("load primary locale: %w", err)
	}

	r := report{Undefined: map[string]token.Position{}, Missing: map[string][]string{}}
	for k, pos := range used.keys {
		if _, ok := primary[k]; !ok {
			r.Undefined[k] = pos
		}
	}
	for k := range primary {
		if !used.covers(k) {
			r.Orphaned = append(r.Orphaned, k)
		}
	}
	slices.Sort(r.Orphaned)

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return report{}, err
	}
	for _, file := range files {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		keys, err := loadKeysFromLocale(file)
		if err != nil {
			return report{}, fmt.Errorf("load %s: %w", file, err)
		}
		var missing []string
		for k := range primary {
			if _, ok := keys[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			r.Missing[filepath.Base(file)] = missing
		}
	}
	return r, nil
}

// findUsedKeys parses every non-test Go file below root and collects the
// first argument of i18n.T calls.
func findUsedKeys(root string) (usage, error) {
	u := usage{keys: map[string]token.Position{}, prefixes: map[string]token.Position{}}
	fset := token.NewFileSet()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "tools" || name == "_examples" || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			return err
		}
		ast.Inspect(f, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok || !isTranslateCall(call) || len(call.Args) == 0 {
				return true
			}
			pos := fset.Position(call.Pos())
			switch arg := call.Args[0].(type) {
			case *ast.BasicLit:
				if s, ok := stringLit(arg); ok {
					u.keys[s] = pos
				}
			case *ast.BinaryExpr:
				if lit, ok := arg.X.(*ast.BasicLit); ok && arg.Op == token.ADD {
					if s, ok := stringLit(lit); ok {
						u.prefixes[s] = pos
					}
				}
			}
			return true
		})
		return nil
	})
	return u, err
}

func isTranslateCall(call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "T" {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "i18n"
}

func stringLit(lit *ast.BasicLit) (string, bool) {
	if lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	return s, err == nil
}

// loadKeysFromLocale reads a YAML file and returns a flat set of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML joins nested mapping keys with dots.
func flattenYAML(prefix string, node any, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
