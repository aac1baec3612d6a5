package image

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Cache provides digest-keyed caching of unpacked image sandboxes.
// Layout: {dir}/sha256_{digest}/ — an apptainer-runnable sandbox.
type Cache struct {
	mu       sync.Mutex
	dir      string
	platform string
}

// NewCache creates a sandbox cache for the given platform.
func NewCache(dir, platform string) *Cache {
	return &Cache{dir: dir, platform: platform}
}

// GetOrPull returns the sandbox path for an image reference, pulling and
// unpacking on a cache miss. The digest resolution is a manifest fetch,
// so repeated calls for a cached image stay cheap.
func (c *Cache) GetOrPull(ctx context.Context, imageRef string) (sandboxDir string, digest string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Printf("image: resolving %s", imageRef)
	result, err := Pull(ctx, imageRef, c.platform)
	if err != nil {
		return "", "", fmt.Errorf("pull %s: %w", imageRef, err)
	}

	digest = result.Digest
	cachedDir := filepath.Join(c.dir, digestToDirName(digest))

	if _, err := os.Stat(cachedDir); err == nil {
		log.Printf("image: cache hit for %s (%s)", imageRef, digest)
		return cachedDir, digest, nil
	}

	log.Printf("image: unpacking %s (%s)", imageRef, digest)
	tmpDir := cachedDir + ".tmp"
	os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return "", "", fmt.Errorf("create tmp dir: %w", err)
	}

	if err := Unpack(result.Image, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", "", fmt.Errorf("unpack %s: %w", imageRef, err)
	}

	// Atomic rename so a crashed unpack never looks like a valid sandbox
	if err := os.Rename(tmpDir, cachedDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", "", fmt.Errorf("rename cache dir: %w", err)
	}

	log.Printf("image: cached %s at %s", imageRef, cachedDir)
	return cachedDir, digest, nil
}

// digestToDirName converts "sha256:abc123" to "sha256_abc123".
func digestToDirName(digest string) string {
	return strings.Replace(digest, ":", "_", 1)
}
