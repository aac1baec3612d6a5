// Package batch builds Slurm batch scripts and drives the scheduler's
// command-line tools (sbatch, squeue, sacct, scancel).
package batch

import (
	"fmt"
	"strings"
	"text/template"
)

// JobSpec is the resource-request descriptor for one submission. Values
// are passed through to the scheduler unmodified.
type JobSpec struct {
	Name        string
	MailUser    string
	Time        string // walltime in sbatch syntax, e.g. "1-00:00:00"
	MemPerCPUMB int
	CPUsPerTask int
	NTasks      int
	Partition   string
	Output      string
	Error       string
	WorkDir     string
}

// Validate checks the descriptor before rendering.
func (s *JobSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.ContainsAny(s.Name, " \t\n") {
		return fmt.Errorf("job name %q contains whitespace", s.Name)
	}
	if s.NTasks < 1 {
		return fmt.Errorf("ntasks must be at least 1, got %d", s.NTasks)
	}
	if s.CPUsPerTask < 0 || s.MemPerCPUMB < 0 {
		return fmt.Errorf("negative resource request")
	}
	if s.Time != "" {
		if _, err := ParseWalltime(s.Time); err != nil {
			return err
		}
	}
	return nil
}

var scriptTemplate = template.Must(template.New("sbatch").Parse(`#!/bin/bash
#SBATCH --job-name {{.Spec.Name}}
#SBATCH --ntasks {{.Spec.NTasks}}
{{- if .Spec.CPUsPerTask}}
#SBATCH --cpus-per-task {{.Spec.CPUsPerTask}}
{{- end}}
{{- if .Spec.MemPerCPUMB}}
#SBATCH --mem-per-cpu {{.Spec.MemPerCPUMB}}M
{{- end}}
{{- if .Spec.Time}}
#SBATCH --time {{.Spec.Time}}
{{- end}}
{{- if .Spec.Partition}}
#SBATCH --partition {{.Spec.Partition}}
{{- end}}
{{- if .Spec.MailUser}}
#SBATCH --mail-user {{.Spec.MailUser}}
#SBATCH --mail-type END,FAIL
{{- end}}
{{- if .Spec.Output}}
#SBATCH --output {{.Spec.Output}}
{{- end}}
{{- if .Spec.Error}}
#SBATCH --error {{.Spec.Error}}
{{- end}}
{{- if .Spec.WorkDir}}

cd {{.Spec.WorkDir}} || exit 1
{{- end}}

{{.Body}}
`))

// Script renders the full batch script: the #SBATCH directive block for
// spec followed by body (typically a container invocation).
func Script(spec JobSpec, body string) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("render script: %w", err)
	}
	var b strings.Builder
	data := struct {
		Spec JobSpec
		Body string
	}{spec, strings.TrimRight(body, "\n")}
	if err := scriptTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render script: %w", err)
	}
	return b.String(), nil
}
