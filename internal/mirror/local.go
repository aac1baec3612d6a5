package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LocalMirror copies a project tree to a destination on a mounted
// filesystem. It uses a tar pipe (tar c | tar x) to preserve symlinks
// and permissions, which plain cp can break for some layouts.
type LocalMirror struct {
	excludes []string
}

// NewLocalMirror creates a LocalMirror with the given exclude patterns.
func NewLocalMirror(excludes []string) *LocalMirror {
	return &LocalMirror{excludes: excludes}
}

// Copy mirrors sourceDir into dest. A fresh destination is staged under
// dest+".partial" and renamed into place; an existing destination is
// updated in place (files are overwritten, never deleted).
func (m *LocalMirror) Copy(ctx context.Context, sourceDir, dest string) error {
	if _, err := os.Stat(sourceDir); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	target := dest
	fresh := false
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		fresh = true
		target = dest + ".partial"
		// Leftover staging from a previous crash
		os.RemoveAll(target)
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	createArgs := []string{"-C", sourceDir, "-cf", "-"}
	for _, pat := range m.excludes {
		createArgs = append(createArgs, "--exclude="+strings.TrimSuffix(pat, "/"))
	}
	createArgs = append(createArgs, ".")

	tarCreate := exec.CommandContext(ctx, "tar", createArgs...)
	tarExtract := exec.CommandContext(ctx, "tar", "-C", target, "-xf", "-")

	pipe, err := tarCreate.StdoutPipe()
	if err != nil {
		return fmt.Errorf("tar stdout pipe: %w", err)
	}
	tarExtract.Stdin = pipe

	if err := tarCreate.Start(); err != nil {
		return fmt.Errorf("start tar create: %w", err)
	}
	if err := tarExtract.Start(); err != nil {
		tarCreate.Process.Kill()
		tarCreate.Wait()
		return fmt.Errorf("start tar extract: %w", err)
	}

	createErr := tarCreate.Wait()
	extractErr := tarExtract.Wait()
	if createErr != nil {
		return fmt.Errorf("tar create: %w", createErr)
	}
	if extractErr != nil {
		return fmt.Errorf("tar extract: %w", extractErr)
	}

	if fresh {
		if err := os.Rename(target, dest); err != nil {
			os.RemoveAll(target)
			return fmt.Errorf("rename staging to final: %w", err)
		}
	}
	return nil
}

// CleanStale removes abandoned ".partial" staging directories next to
// dest that are older than maxAge.
func CleanStale(dest string, maxAge time.Duration) {
	parent := filepath.Dir(dest)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".partial") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			log.Printf("mirror: removing stale staging dir %s", e.Name())
			os.RemoveAll(filepath.Join(parent, e.Name()))
		}
	}
}
