package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPendingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_indexes.up.sql",
		"0001_schema.up.sql",
		"0001_schema.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "old.up.sql"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	names, err := pendingFiles(dir)
	if err != nil {
		t.Fatalf("pendingFiles: %v", err)
	}

	want := []string{"0001_schema.up.sql", "0002_indexes.up.sql"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestPendingFiles_MissingDir(t *testing.T) {
	if _, err := pendingFiles(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
