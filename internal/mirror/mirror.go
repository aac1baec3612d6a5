// Package mirror wraps rsync for mirroring a project tree between a
// workstation and the cluster filesystem.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
)

// Direction of a transfer relative to the workstation.
type Direction string

const (
	Push Direction = "push" // workstation -> cluster
	Pull Direction = "pull" // cluster -> workstation
)

// Plan describes one mirroring run.
type Plan struct {
	Direction Direction
	Source    string
	Dest      string
	Excludes  []string
	DryRun    bool
	Delete    bool
}

// Args returns the rsync argument list: archive, compress, progress and
// partial-transfer flags, one --exclude per pattern, then source and
// destination.
func (p *Plan) Args() []string {
	args := []string{"-a", "-z", "--progress", "--partial"}
	if p.DryRun {
		args = append(args, "--dry-run")
	}
	if p.Delete {
		args = append(args, "--delete")
	}
	for _, pat := range p.Excludes {
		args = append(args, "--exclude="+pat)
	}
	args = append(args, sourceArg(p.Source), p.Dest)
	return args
}

// sourceArg ensures the source ends with a slash so its contents mirror
// into the destination root rather than a nested directory.
func sourceArg(src string) string {
	if strings.HasSuffix(src, "/") {
		return src
	}
	return src + "/"
}

// Run executes rsync and returns its exit code. A non-nil error means
// rsync could not be started at all; transfer failures come back as a
// non-zero exit code with a nil error.
func Run(ctx context.Context, rsyncBin string, p *Plan, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, rsyncBin, p.Args()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Printf("mirror: %s %s -> %s", p.Direction, p.Source, p.Dest)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	return -1, fmt.Errorf("run rsync: %w", err)
}
