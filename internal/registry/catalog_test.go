package registry

import (
	"os"
	"path/filepath"
	"testing"

	"llamachat/internal/prefs"
)

func TestCatalogSourceLifecycle(t *testing.T) {
	store, err := prefs.NewFileStore(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	fallback := t.TempDir()
	c := NewCatalog(store, NewDirResolver(t.TempDir()), fallback)

	src, err := c.Source()
	if err != nil || src != fallback {
		t.Fatalf("source=%q err=%v", src, err)
	}
	ds, err := c.Models()
	if err != nil || len(ds) != 0 {
		t.Fatalf("models=%v err=%v", ds, err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.gguf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ds, err = c.SetSource(dir)
	if err != nil || len(ds) != 1 {
		t.Fatalf("set source: ds=%v err=%v", ds, err)
	}
	if v, ok, _ := store.Get(prefs.KeyModelsURI); !ok || v != dir {
		t.Fatalf("persisted=%q ok=%v", v, ok)
	}
	d, err := c.Lookup("m.gguf")
	if err != nil || d.Name != "m.gguf" {
		t.Fatalf("lookup: %+v %v", d, err)
	}
	if _, err := c.Lookup("other.gguf"); !IsModelNotFound(err) {
		t.Fatalf("lookup missing err=%v", err)
	}
}

func TestCatalogSetSourceRejectsMissingFolder(t *testing.T) {
	store, err := prefs.NewFileStore(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	c := NewCatalog(store, NewDirResolver(t.TempDir()), "")
	if _, err := c.SetSource(filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Fatal("expected error")
	}
	if _, ok, _ := store.Get(prefs.KeyModelsURI); ok {
		t.Fatal("failed source must not be persisted")
	}
	if _, err := c.SetSource("  "); err == nil {
		t.Fatal("expected error for empty source")
	}
}
