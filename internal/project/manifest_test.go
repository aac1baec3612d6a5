package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseStarterManifest(t *testing.T) {
	m, err := ParseBytes([]byte(Starter("dislo")))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("starter manifest invalid: %v", err)
	}

	if m.Name != "dislo" {
		t.Errorf("name = %q", m.Name)
	}
	if len(m.Stages) != 2 {
		t.Fatalf("got %d stages", len(m.Stages))
	}

	shear, err := m.FindStage("shear")
	if err != nil {
		t.Fatalf("FindStage: %v", err)
	}
	if !shear.MPI {
		t.Error("shear stage should be MPI")
	}
	if shear.Resources.NTasks != 16 {
		t.Errorf("shear ntasks = %d", shear.Resources.NTasks)
	}
	if shear.Resources.Time != "2-00:00:00" {
		t.Errorf("shear walltime = %q", shear.Resources.Time)
	}

	if m.Sync.Remote == "" {
		t.Error("starter manifest has no sync remote")
	}
	if len(m.Sync.Excludes) == 0 {
		t.Error("starter manifest has no sync excludes")
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestName)
	if err := os.WriteFile(path, []byte(Starter("dislo")), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if m.Name != "dislo" {
		t.Errorf("name = %q", m.Name)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func validManifest() *Manifest {
	return &Manifest{
		Name:  "dislo",
		Image: "ghcr.io/example/lammps:latest",
		Stages: []Stage{
			{Name: "input", Script: "01_input/run.py"},
			{Name: "shear", Script: "03_shear/run.py", MPI: true,
				Resources: Resources{Time: "2-00:00:00", NTasks: 16}},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validManifest().Validate(); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Manifest)
	}{
		{"missing name", func(m *Manifest) { m.Name = "" }},
		{"missing image", func(m *Manifest) { m.Image = "" }},
		{"no stages", func(m *Manifest) { m.Stages = nil }},
		{"unnamed stage", func(m *Manifest) { m.Stages[0].Name = "" }},
		{"duplicate stage", func(m *Manifest) { m.Stages[1].Name = "input" }},
		{"stage without script", func(m *Manifest) { m.Stages[0].Script = "" }},
		{"bad walltime", func(m *Manifest) { m.Stages[1].Resources.Time = "soon" }},
		{"negative ntasks", func(m *Manifest) { m.Stages[1].Resources.NTasks = -1 }},
		{"negative mem", func(m *Manifest) { m.Stages[0].Resources.MemPerCPUMB = -8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mut(m)
			if err := m.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFindStageUnknown(t *testing.T) {
	if _, err := validManifest().FindStage("quench"); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestInterpreterOrDefault(t *testing.T) {
	m := validManifest()
	if got := m.InterpreterOrDefault(); got != "python3" {
		t.Errorf("default interpreter = %q", got)
	}
	m.Interpreter = "python3.12"
	if got := m.InterpreterOrDefault(); got != "python3.12" {
		t.Errorf("interpreter = %q", got)
	}
}

func TestParseBytesRejectsBadYAML(t *testing.T) {
	if _, err := ParseBytes([]byte("name: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}
