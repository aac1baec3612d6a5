// Package project provides simbatch project manifest parsing.
package project

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mhollis/simbatch/internal/batch"
)

// ManifestName is the default manifest filename at the project root.
const ManifestName = "simbatch.yaml"

// Manifest is the YAML on-disk description of a simulation project.
type Manifest struct {
	Name        string   `yaml:"name"`
	Image       string   `yaml:"image"`
	Platform    string   `yaml:"platform,omitempty"`
	Interpreter string   `yaml:"interpreter,omitempty"`
	Binds       []string `yaml:"binds,omitempty"`
	Stages      []Stage  `yaml:"stages"`
	Sync        Sync     `yaml:"sync,omitempty"`
}

// Stage is one simulation stage: a fixed script run inside the project
// container, with its scheduler resource request.
type Stage struct {
	Name      string    `yaml:"name"`
	Script    string    `yaml:"script"`
	MPI       bool      `yaml:"mpi,omitempty"`
	DataDirs  []string  `yaml:"data_dirs,omitempty"`
	Resources Resources `yaml:"resources,omitempty"`
}

// Resources mirrors the #SBATCH directive set.
type Resources struct {
	Time        string `yaml:"time,omitempty"`
	MemPerCPUMB int    `yaml:"mem_per_cpu_mb,omitempty"`
	CPUsPerTask int    `yaml:"cpus_per_task,omitempty"`
	NTasks      int    `yaml:"ntasks,omitempty"`
	Partition   string `yaml:"partition,omitempty"`
	MailUser    string `yaml:"mail_user,omitempty"`
}

// Sync configures directory mirroring between the project root and a
// remote cluster path (or a locally mounted destination).
type Sync struct {
	Remote   string   `yaml:"remote,omitempty"` // user@host:path
	Local    string   `yaml:"local,omitempty"`  // mounted-filesystem destination
	Excludes []string `yaml:"excludes,omitempty"`
}

// ParseFile reads and parses a project manifest from a YAML file.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a project manifest from YAML bytes.
func ParseBytes(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Validate checks the manifest for structural problems.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if m.Image == "" {
		return fmt.Errorf("manifest: image is required")
	}
	if len(m.Stages) == 0 {
		return fmt.Errorf("manifest: at least one stage is required")
	}
	seen := map[string]bool{}
	for _, st := range m.Stages {
		if st.Name == "" {
			return fmt.Errorf("manifest: stage with empty name")
		}
		if seen[st.Name] {
			return fmt.Errorf("manifest: duplicate stage %q", st.Name)
		}
		seen[st.Name] = true
		if st.Script == "" {
			return fmt.Errorf("manifest: stage %q has no script", st.Name)
		}
		if st.Resources.Time != "" {
			if _, err := batch.ParseWalltime(st.Resources.Time); err != nil {
				return fmt.Errorf("manifest: stage %q: %w", st.Name, err)
			}
		}
		if st.Resources.NTasks < 0 || st.Resources.CPUsPerTask < 0 || st.Resources.MemPerCPUMB < 0 {
			return fmt.Errorf("manifest: stage %q has a negative resource request", st.Name)
		}
	}
	return nil
}

// FindStage returns the named stage.
func (m *Manifest) FindStage(name string) (*Stage, error) {
	for i := range m.Stages {
		if m.Stages[i].Name == name {
			return &m.Stages[i], nil
		}
	}
	return nil, fmt.Errorf("stage %q not found in manifest", name)
}

// InterpreterOrDefault returns the configured interpreter, defaulting to
// python3 as the simulation scripts expect.
func (m *Manifest) InterpreterOrDefault() string {
	if m.Interpreter != "" {
		return m.Interpreter
	}
	return "python3"
}

// Starter returns a starter manifest for `simbatch init`.
func Starter(name string) string {
	return fmt.Sprintf(`name: %s
image: ghcr.io/example/lammps:latest
interpreter: python3
binds:
  - .

stages:
  - name: input
    script: 01_input/run.py
    data_dirs:
      - 000_data/01_input/output
      - 000_data/01_input/dump
      - 000_data/01_input/logs
    resources:
      time: "04:00:00"
      mem_per_cpu_mb: 4000
      cpus_per_task: 1
      ntasks: 1

  - name: shear
    script: 03_shear/run.py
    mpi: true
    data_dirs:
      - 000_data/03_shear/output
      - 000_data/03_shear/dump
      - 000_data/03_shear/logs
      - 000_data/03_shear/restarts
    resources:
      time: "2-00:00:00"
      mem_per_cpu_mb: 8000
      cpus_per_task: 1
      ntasks: 16

sync:
  remote: user@cluster:/scratch/user/%s
  excludes:
    - 000_data/
    - .git/
    - __pycache__/
`, name, name)
}
