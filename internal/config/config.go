// Package config holds simbatch runtime configuration.
package config

import (
	"os"
	"path/filepath"
)

// Config describes the local data layout and the external tools simbatch
// drives. Tool paths left empty are resolved via PATH.
type Config struct {
	// DataDir is the base directory for simbatch runtime data.
	DataDir string

	// CacheDir is the container runtime's build/image cache, exported to
	// jobs as APPTAINER_CACHEDIR.
	CacheDir string

	// TmpDir is the container runtime's scratch space, exported to jobs
	// as APPTAINER_TMPDIR.
	TmpDir string

	// SandboxDir is the directory for unpacked OCI image sandboxes.
	SandboxDir string

	// ArchiveDir is the directory for case-directory snapshots.
	ArchiveDir string

	// DBPath is the path to the SQLite history database.
	DBPath string

	// Platform is the OCI platform pulled for image sandboxes.
	Platform string

	// Scheduler and transfer tool paths. Empty means search PATH.
	SbatchBin    string
	SqueueBin    string
	SacctBin     string
	ScancelBin   string
	RsyncBin     string
	ApptainerBin string
	MpirunBin    string
}

// Default returns the default configuration, honoring SIMBATCH_DATA_DIR,
// SIMBATCH_CACHE_DIR and SIMBATCH_TMP_DIR overrides.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".simbatch")
	if v := os.Getenv("SIMBATCH_DATA_DIR"); v != "" {
		baseDir = v
	}

	cfg := &Config{
		DataDir:    filepath.Join(baseDir, "data"),
		CacheDir:   filepath.Join(baseDir, "data", "cache"),
		TmpDir:     filepath.Join(baseDir, "data", "tmp"),
		SandboxDir: filepath.Join(baseDir, "data", "images"),
		ArchiveDir: filepath.Join(baseDir, "data", "archives"),
		DBPath:     filepath.Join(baseDir, "data", "simbatch.db"),
		Platform:   "linux/amd64",
	}
	if v := os.Getenv("SIMBATCH_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("SIMBATCH_TMP_DIR"); v != "" {
		cfg.TmpDir = v
	}
	return cfg
}

// EnsureDirs creates all required directories. The container runtime's
// cache and tmp dirs must exist before any container command runs.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		c.CacheDir,
		c.TmpDir,
		c.SandboxDir,
		c.ArchiveDir,
		filepath.Dir(c.DBPath),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ContainerEnv returns the environment entries exported to every
// container invocation.
func (c *Config) ContainerEnv() []string {
	return []string{
		"APPTAINER_CACHEDIR=" + c.CacheDir,
		"APPTAINER_TMPDIR=" + c.TmpDir,
	}
}

// Tool resolves a configured tool path, falling back to the bare name
// for PATH lookup.
func Tool(configured, name string) string {
	if configured != "" {
		return configured
	}
	return name
}
