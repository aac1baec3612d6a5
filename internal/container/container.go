// Package container builds apptainer invocations for simulation stages.
// Apptainer has no Go API; like the scheduler, it is driven by argv.
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/mhollis/simbatch/internal/config"
)

// Spec describes one containerized command: a pre-built image, host
// paths bind-mounted at matching container paths, and the interpreter
// plus fixed script path to run inside.
type Spec struct {
	Image   string   // .sif file or unpacked sandbox directory
	Binds   []string // "host" or "host:container"
	Workdir string
	Args    []string // e.g. ["python3", "03_shear/run.py"]
	MPI     bool     // wrap with the parallel process launcher
	NP      int      // task count for MPI; 0 defers to the scheduler env
}

// Argv returns the exec-ready argument vector. np is the resolved task
// count for MPI stages.
func Argv(cfg *config.Config, spec *Spec, np int) []string {
	var argv []string
	if spec.MPI {
		argv = append(argv, config.Tool(cfg.MpirunBin, "mpirun"), "-np", strconv.Itoa(np))
	}
	argv = append(argv, config.Tool(cfg.ApptainerBin, "apptainer"), "exec")
	for _, b := range spec.Binds {
		argv = append(argv, "--bind", bindArg(b))
	}
	if spec.Workdir != "" {
		argv = append(argv, "--pwd", spec.Workdir)
	}
	argv = append(argv, spec.Image)
	argv = append(argv, spec.Args...)
	return argv
}

// ScriptBody renders the shell fragment a batch script executes: export
// the container runtime's cache/tmp variables, create both directories
// if absent, then run the container command. MPI stages take their task
// count from the scheduler-provided SLURM_NTASKS at run time.
func ScriptBody(cfg *config.Config, spec *Spec) string {
	var b strings.Builder
	b.WriteString("export APPTAINER_CACHEDIR=" + shellQuote(cfg.CacheDir) + "\n")
	b.WriteString("export APPTAINER_TMPDIR=" + shellQuote(cfg.TmpDir) + "\n")
	b.WriteString("mkdir -p \"$APPTAINER_CACHEDIR\" \"$APPTAINER_TMPDIR\"\n")
	b.WriteString("\n")
	b.WriteString(CommandLine(cfg, spec))
	b.WriteString("\n")
	return b.String()
}

// CommandLine renders the container command as a single shell line.
func CommandLine(cfg *config.Config, spec *Spec) string {
	var parts []string
	if spec.MPI {
		np := "\"${SLURM_NTASKS:-1}\""
		if spec.NP > 0 {
			np = strconv.Itoa(spec.NP)
		}
		parts = append(parts, shellQuote(config.Tool(cfg.MpirunBin, "mpirun")), "-np", np)
	}
	parts = append(parts, shellQuote(config.Tool(cfg.ApptainerBin, "apptainer")), "exec")
	for _, bind := range spec.Binds {
		parts = append(parts, "--bind", shellQuote(bindArg(bind)))
	}
	if spec.Workdir != "" {
		parts = append(parts, "--pwd", shellQuote(spec.Workdir))
	}
	parts = append(parts, shellQuote(spec.Image))
	for _, a := range spec.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// Run executes the container command directly (no scheduler), inheriting
// stdio, and returns the child's exit code. MPI task count resolution:
// explicit NP, then SLURM_NTASKS from the environment, then 1.
func Run(ctx context.Context, cfg *config.Config, spec *Spec) (int, error) {
	np := spec.NP
	if np == 0 {
		if v := os.Getenv("SLURM_NTASKS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				np = n
			}
		}
	}
	if np == 0 {
		np = 1
	}

	argv := Argv(cfg, spec, np)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), cfg.ContainerEnv()...)

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	return -1, fmt.Errorf("run %s: %w", argv[0], err)
}

// bindArg expands a bare host path to the matching-path bind form.
func bindArg(b string) string {
	if strings.Contains(b, ":") {
		return b
	}
	return b + ":" + b
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9@%_+=:,./-]+$`)

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
