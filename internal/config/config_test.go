package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultLayout(t *testing.T) {
	base := t.TempDir()
	t.Setenv("SIMBATCH_DATA_DIR", base)
	t.Setenv("SIMBATCH_CACHE_DIR", "")
	t.Setenv("SIMBATCH_TMP_DIR", "")

	cfg := Default()

	if cfg.DataDir != filepath.Join(base, "data") {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.CacheDir != filepath.Join(base, "data", "cache") {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.TmpDir != filepath.Join(base, "data", "tmp") {
		t.Errorf("TmpDir = %q", cfg.TmpDir)
	}
	if cfg.Platform != "linux/amd64" {
		t.Errorf("Platform = %q", cfg.Platform)
	}
}

func TestDefaultEnvOverrides(t *testing.T) {
	t.Setenv("SIMBATCH_DATA_DIR", "/srv/simbatch")
	t.Setenv("SIMBATCH_CACHE_DIR", "/scratch/cache")
	t.Setenv("SIMBATCH_TMP_DIR", "/scratch/tmp")

	cfg := Default()

	if cfg.DataDir != "/srv/simbatch/data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.CacheDir != "/scratch/cache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.TmpDir != "/scratch/tmp" {
		t.Errorf("TmpDir = %q", cfg.TmpDir)
	}
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{
		DataDir:    filepath.Join(base, "data"),
		CacheDir:   filepath.Join(base, "data", "cache"),
		TmpDir:     filepath.Join(base, "data", "tmp"),
		SandboxDir: filepath.Join(base, "data", "images"),
		ArchiveDir: filepath.Join(base, "data", "archives"),
		DBPath:     filepath.Join(base, "data", "state", "simbatch.db"),
	}

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	for _, dir := range []string{
		cfg.CacheDir, cfg.TmpDir, cfg.SandboxDir, cfg.ArchiveDir,
		filepath.Dir(cfg.DBPath),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("stat %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	// Idempotent on an already-populated tree
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("second EnsureDirs: %v", err)
	}
}

func TestContainerEnv(t *testing.T) {
	cfg := &Config{CacheDir: "/data/cache", TmpDir: "/data/tmp"}
	env := cfg.ContainerEnv()

	want := []string{
		"APPTAINER_CACHEDIR=/data/cache",
		"APPTAINER_TMPDIR=/data/tmp",
	}
	if len(env) != len(want) {
		t.Fatalf("got %d entries", len(env))
	}
	for i := range want {
		if env[i] != want[i] {
			t.Errorf("env[%d] = %q, want %q", i, env[i], want[i])
		}
	}
}

func TestTool(t *testing.T) {
	if got := Tool("/usr/local/bin/sbatch", "sbatch"); got != "/usr/local/bin/sbatch" {
		t.Errorf("Tool with configured path = %q", got)
	}
	if got := Tool("", "sbatch"); got != "sbatch" {
		t.Errorf("Tool fallback = %q", got)
	}
}
