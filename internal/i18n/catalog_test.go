package i18n

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFallbackChain(t *testing.T) {
	c := NewFromMaps("en", "ka", map[string]map[string]string{
		"en": {"greet": "hello", "only_en": "english"},
		"ka": {"greet": "გამარჯობა", "only_ka": "ქართული"},
		"ru": {"greet": "привет"},
	})

	tests := []struct {
		lang, key, want string
	}{
		{"ru", "greet", "привет"},
		{"ru", "only_en", "english"},
		{"ru", "only_ka", "ქართული"},
		{"de", "greet", "hello"},
		{"ru", "missing", "missing"},
	}
	for _, tt := range tests {
		if got := c.Text(tt.lang, tt.key, nil); got != tt.want {
			t.Errorf("Text(%q, %q) = %q, want %q", tt.lang, tt.key, got, tt.want)
		}
	}
}

func TestTextSubstitutesVars(t *testing.T) {
	c := NewFromMaps("en", "en", map[string]map[string]string{
		"en": {"city": "City {city} not found ({city})"},
	})
	got := c.Text("en", "city", Vars{"city": "Atlantis"})
	if got != "City Atlantis not found (Atlantis)" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestEmbeddedCatalogCoversDefaultKeys(t *testing.T) {
	c, err := New("en", "ka")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key := range c.messages["en"] {
		if _, ok := c.messages["ka"][key]; !ok {
			t.Errorf("ka locale is missing %q", key)
		}
	}
}

func TestNewRejectsUnknownDefault(t *testing.T) {
	if _, err := New("xx", "en"); err == nil {
		t.Fatal("expected error for unknown default language")
	}
}

func TestMatch(t *testing.T) {
	c, err := New("en", "ka")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tests := map[string]string{
		"":      "en",
		"en-US": "en",
		"ka-GE": "ka",
		"ru":    "ru",
		"zh":    "en",
	}
	for tag, want := range tests {
		if got := c.Match(tag); got != want {
			t.Errorf("Match(%q) = %q, want %q", tag, got, want)
		}
	}
	if langs := c.Languages(); len(langs) == 0 || langs[0] != "en" {
		t.Errorf("Languages() = %v, want default first", langs)
	}
}

func TestLoadDirOverridesMessages(t *testing.T) {
	c := NewFromMaps("en", "en", map[string]map[string]string{
		"en": {"greet": "hello"},
	})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "en.yaml"), []byte("greet: howdy\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "de.yaml"), []byte("greet: hallo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if got := c.Text("en", "greet", nil); got != "howdy" {
		t.Errorf("en greet = %q", got)
	}
	if !c.Supports("de") {
		t.Errorf("de should be supported after LoadDir")
	}
}

func TestWatchReloadsChangedFiles(t *testing.T) {
	c := NewFromMaps("en", "en", map[string]map[string]string{
		"en": {"greet": "hello"},
	})
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, dir, nil) }()

	path := filepath.Join(dir, "en.yaml")
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		// Rewrite until the watcher has registered the directory and picked it up.
		if err := os.WriteFile(path, []byte("greet: reloaded\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if c.Text("en", "greet", nil) == "reloaded" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := c.Text("en", "greet", nil); got != "reloaded" {
		t.Fatalf("greet = %q, want reloaded", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
