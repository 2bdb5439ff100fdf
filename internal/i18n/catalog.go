// Package i18n provides message lookup by key and language with a fallback chain.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embeddedLocales embed.FS

// Vars are named template substitutions, written as {name} in messages.
type Vars map[string]string

// Catalog holds message tables per language.
// Lookups fall back from the requested language to the default language and
// then to the secondary default.
type Catalog struct {
	mu        sync.RWMutex
	messages  map[string]map[string]string
	defLang   string
	secLang   string
	matcher   language.Matcher
	supported []string
}

// New loads the built-in locales.
func New(defaultLang, secondaryLang string) (*Catalog, error) {
	c := &Catalog{
		messages: make(map[string]map[string]string),
		defLang:  defaultLang,
		secLang:  secondaryLang,
	}

	entries, err := fs.ReadDir(embeddedLocales, "locales")
	if err != nil {
		return nil, fmt.Errorf("read embedded locales: %w", err)
	}
	for _, e := range entries {
		data, err := embeddedLocales.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", e.Name(), err)
		}
		if err := c.load(langFromFile(e.Name()), data); err != nil {
			return nil, err
		}
	}

	if _, ok := c.messages[defaultLang]; !ok {
		return nil, fmt.Errorf("default language %q has no messages", defaultLang)
	}
	if _, ok := c.messages[secondaryLang]; !ok {
		return nil, fmt.Errorf("secondary language %q has no messages", secondaryLang)
	}
	c.rebuildMatcher()
	return c, nil
}

// NewFromMaps builds a catalog from in-memory tables.
func NewFromMaps(defaultLang, secondaryLang string, tables map[string]map[string]string) *Catalog {
	c := &Catalog{
		messages: make(map[string]map[string]string, len(tables)),
		defLang:  defaultLang,
		secLang:  secondaryLang,
	}
	for lang, msgs := range tables {
		cp := make(map[string]string, len(msgs))
		for k, v := range msgs {
			cp[k] = v
		}
		c.messages[lang] = cp
	}
	c.rebuildMatcher()
	return c
}

// LoadDir merges every *.yaml file in dir over the current tables.
func (c *Catalog) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("list locale files: %w", err)
	}
	for _, f := range files {
		if err := c.LoadFile(f); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile merges a single locale file. The language is the file's base name.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read locale file: %w", err)
	}
	if err := c.load(langFromFile(path), data); err != nil {
		return err
	}
	c.rebuildMatcher()
	return nil
}

func (c *Catalog) load(lang string, data []byte) error {
	var msgs map[string]string
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("parse locale %s: %w", lang, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.messages[lang]
	if !ok {
		table = make(map[string]string, len(msgs))
		c.messages[lang] = table
	}
	for k, v := range msgs {
		table[k] = v
	}
	return nil
}

func (c *Catalog) rebuildMatcher() {
	c.mu.Lock()
	defer c.mu.Unlock()

	langs := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		if lang != c.defLang {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	// The first tag is the matcher's fallback.
	langs = append([]string{c.defLang}, langs...)

	tags := make([]language.Tag, 0, len(langs))
	for _, l := range langs {
		tags = append(tags, language.Make(l))
	}
	c.supported = langs
	c.matcher = language.NewMatcher(tags)
}

func langFromFile(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

// Languages returns the supported language codes, default first.
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.supported))
	copy(out, c.supported)
	return out
}

// Supports reports whether lang has its own message table.
func (c *Catalog) Supports(lang string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.messages[lang]
	return ok
}

// Default returns the default language code.
func (c *Catalog) Default() string {
	return c.defLang
}

// Match maps an arbitrary language tag (for example "en-US") to the closest
// supported language, or the default language when nothing is close.
func (c *Catalog) Match(tag string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tag == "" {
		return c.defLang
	}
	_, idx, conf := c.matcher.Match(language.Make(tag))
	if conf == language.No {
		return c.defLang
	}
	return c.supported[idx]
}

// Lookup returns the raw template for key, following the fallback chain.
func (c *Catalog) Lookup(lang, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range []string{lang, c.defLang, c.secLang} {
		if msg, ok := c.messages[l][key]; ok {
			return msg, true
		}
	}
	return "", false
}

// Text renders key in lang with vars substituted. Unknown keys render as the key itself.
func (c *Catalog) Text(lang, key string, vars Vars) string {
	msg, ok := c.Lookup(lang, key)
	if !ok {
		return key
	}
	return render(msg, vars)
}

func render(msg string, vars Vars) string {
	if len(vars) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
