package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalMirrorFreshDestination(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "run.py"), "print('hi')")
	writeFile(t, filepath.Join(src, "000_data", "output", "dump_1"), "atoms")

	dest := filepath.Join(t.TempDir(), "mirror")
	m := NewLocalMirror(nil)
	if err := m.Copy(context.Background(), src, dest); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "run.py"))
	if err != nil {
		t.Fatalf("read mirrored file: %v", err)
	}
	if string(data) != "print('hi')" {
		t.Errorf("mirrored content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "000_data", "output", "dump_1")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}

	// Staging dir must not survive a successful copy
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Errorf("staging dir left behind")
	}
}

func TestLocalMirrorExcludes(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.txt"), "keep")
	writeFile(t, filepath.Join(src, "000_data", "big.bin"), "huge")

	dest := filepath.Join(t.TempDir(), "mirror")
	m := NewLocalMirror([]string{"000_data/"})
	if err := m.Copy(context.Background(), src, dest); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "keep.txt")); err != nil {
		t.Errorf("keep.txt missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "000_data")); !os.IsNotExist(err) {
		t.Errorf("excluded directory was copied")
	}
}

func TestLocalMirrorUpdatesExistingDestination(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "new")

	dest := t.TempDir()
	writeFile(t, filepath.Join(dest, "a.txt"), "old")
	writeFile(t, filepath.Join(dest, "extra.txt"), "untouched")

	m := NewLocalMirror(nil)
	if err := m.Copy(context.Background(), src, dest); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dest, "a.txt"))
	if string(data) != "new" {
		t.Errorf("a.txt = %q, want %q", data, "new")
	}
	// Mirror without delete: files only present in dest stay
	if _, err := os.Stat(filepath.Join(dest, "extra.txt")); err != nil {
		t.Errorf("extra.txt removed: %v", err)
	}
}

func TestLocalMirrorMissingSource(t *testing.T) {
	m := NewLocalMirror(nil)
	err := m.Copy(context.Background(), "/nonexistent/src", filepath.Join(t.TempDir(), "dst"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCleanStale(t *testing.T) {
	parent := t.TempDir()
	dest := filepath.Join(parent, "mirror")

	stale := filepath.Join(parent, "mirror.partial")
	if err := os.MkdirAll(stale, 0755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(parent, "other.partial")
	if err := os.MkdirAll(fresh, 0755); err != nil {
		t.Fatal(err)
	}

	CleanStale(dest, 24*time.Hour)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale staging dir not removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh staging dir removed: %v", err)
	}
}
