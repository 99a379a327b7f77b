// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// package i18n provides localized user facing messages for sudokeeper.
// Translations live in embedded YAML files under locales/ and are loaded
// with go-i18n.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	current   string
	locales   map[string]string
)

// Init loads every embedded locale and activates lang. Unknown languages
// fall back to English.
func Init(lang string) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	avail := map[string]string{}
	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			continue
		}
		mf, err := b.ParseMessageFileBytes(data, f.Name())
		if err != nil {
			continue
		}
		tag := mf.Tag
		avail[tag.String()] = displayName(tag)
	}

	if _, ok := avail[lang]; !ok {
		lang = "en"
	}

	mu.Lock()
	bundle = b
	localizer = i18n.NewLocalizer(b, lang)
	current = lang
	locales = avail
	mu.Unlock()
}

func displayName(tag language.Tag) string {
	name := display.Self.Name(tag)
	if name == "" {
		return tag.String()
	}
	return name
}

// SetLang changes the active language.
func SetLang(lang string) { Init(lang) }

// GetLang returns the active language code.
func GetLang() string {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// GetAvailableLocales maps locale codes to their self-described names.
func GetAvailableLocales() map[string]string {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]string, len(locales))
	for k, v := range locales {
		out[k] = v
	}
	return out
}

func ensure() {
	mu.RLock()
	ready := localizer != nil
	mu.RUnlock()
	if !ready {
		Init("en")
	}
}

// T translates messageID. A single map argument is passed as template data;
// other arguments are applied with fmt.Sprintf. Unknown IDs are returned
// unchanged.
func T(messageID string, args ...any) string {
	ensure()
	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(args) == 1 {
		if data, ok := args[0].(map[string]any); ok {
			cfg.TemplateData = data
			args = nil
		}
	}

	mu.RLock()
	msg, err := localizer.Localize(cfg)
	mu.RUnlock()
	if err != nil {
		return messageID
	}
	if len(args) > 0 && strings.Contains(msg, "%") {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
