// Package image provides OCI image pulling, unpacking and sandbox
// caching. Cluster jobs run unpacked sandbox directories through
// apptainer, so no docker daemon is needed on either side.
package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// PullResult contains the pulled image and its digest.
type PullResult struct {
	Image  v1.Image
	Digest string // e.g. "sha256:abc123..."
}

// ParsePlatform splits "os/arch" into a v1.Platform.
func ParsePlatform(platform string) (*v1.Platform, error) {
	parts := strings.Split(platform, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid platform %q, want os/arch", platform)
	}
	return &v1.Platform{OS: parts[0], Architecture: parts[1]}, nil
}

// Pull resolves an image reference and pulls the variant for the given
// platform (usually linux/amd64, the cluster's node architecture).
func Pull(ctx context.Context, imageRef, platform string) (*PullResult, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, fmt.Errorf("parse image ref %q: %w", imageRef, err)
	}

	plat, err := ParsePlatform(platform)
	if err != nil {
		return nil, err
	}

	desc, err := remote.Get(ref, remote.WithContext(ctx), remote.WithPlatform(*plat))
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", imageRef, err)
	}

	var img v1.Image

	switch desc.MediaType {
	case types.OCIImageIndex, types.DockerManifestList:
		idx, err := desc.ImageIndex()
		if err != nil {
			return nil, fmt.Errorf("get image index: %w", err)
		}
		indexManifest, err := idx.IndexManifest()
		if err != nil {
			return nil, fmt.Errorf("get index manifest: %w", err)
		}
		for _, m := range indexManifest.Manifests {
			if m.Platform != nil && m.Platform.OS == plat.OS && m.Platform.Architecture == plat.Architecture {
				img, err = idx.Image(m.Digest)
				if err != nil {
					return nil, fmt.Errorf("get %s image: %w", platform, err)
				}
				break
			}
		}
		if img == nil {
			return nil, fmt.Errorf("no %s variant found in %s", platform, imageRef)
		}
	default:
		img, err = desc.Image()
		if err != nil {
			return nil, fmt.Errorf("get image: %w", err)
		}
		// Single-manifest image: verify the platform up front. A wrong
		// architecture unpacks fine but dies at job start with an exec
		// format error the scheduler logs poorly.
		cfg, err := img.ConfigFile()
		if err != nil {
			return nil, fmt.Errorf("get image config: %w", err)
		}
		if cfg.OS != plat.OS || cfg.Architecture != plat.Architecture {
			return nil, fmt.Errorf("image %s is %s/%s, want %s", imageRef, cfg.OS, cfg.Architecture, platform)
		}
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}

	return &PullResult{
		Image:  img,
		Digest: digest.String(),
	}, nil
}
