package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSourceEmbedded(t *testing.T) {
	fsys, source, err := Source("")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if source != "embedded" {
		t.Fatalf("expected embedded source, got %s", source)
	}
	raw, err := fs.ReadFile(fsys, "00001_init.sql")
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}
	for _, want := range []string{"-- +goose Up", "-- +goose Down", "project_instances", "service_instances"} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("embedded migration missing %q", want)
		}
	}
}

func TestSourceDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "00002_extra.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	fsys, source, err := Source(dir)
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if source != dir {
		t.Fatalf("expected source %s, got %s", dir, source)
	}
	if _, err := fs.Stat(fsys, "00002_extra.sql"); err != nil {
		t.Fatalf("override migration not visible: %v", err)
	}
}

func TestSourceRejectsMissingOrFile(t *testing.T) {
	if _, _, err := Source(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
	file := filepath.Join(t.TempDir(), "schema.sql")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, _, err := Source(file); err == nil {
		t.Fatal("expected error for a plain file")
	}
}

func TestNewRequiresPoolAndDSN(t *testing.T) {
	if _, err := New(nil, "postgres://localhost/db", "", nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
