package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubmitOutput(t *testing.T) {
	id, err := parseSubmitOutput("Submitted batch job 4821034\n")
	require.NoError(t, err)
	assert.Equal(t, 4821034, id)

	// Some clusters prepend informational lines
	id, err = parseSubmitOutput("sbatch: lua: setting default partition\nSubmitted batch job 77\n")
	require.NoError(t, err)
	assert.Equal(t, 77, id)
}

func TestParseSubmitOutputRejectsGarbage(t *testing.T) {
	for _, out := range []string{"", "error: invalid partition", "Submitted batch job"} {
		_, err := parseSubmitOutput(out)
		assert.Error(t, err, "out=%q", out)
	}
}

func TestParseSacctOutput(t *testing.T) {
	out := "4821034|COMPLETED\n" +
		"4821034.batch|COMPLETED\n" +
		"4821035|CANCELLED by 10042\n" +
		"4821036|FAILED\n" +
		"\n"
	states := parseSacctOutput(out)

	assert.Equal(t, map[int]string{
		4821034: "COMPLETED",
		4821035: "CANCELLED",
		4821036: "FAILED",
	}, states)
}

func TestParseSqueueOutput(t *testing.T) {
	out := "4821040|PENDING\n4821041|RUNNING\n"
	states := parseSqueueOutput(out)

	assert.Equal(t, map[int]string{
		4821040: "PENDING",
		4821041: "RUNNING",
	}, states)
}

func TestNormalizeState(t *testing.T) {
	tests := []struct{ in, want string }{
		{"COMPLETED", "COMPLETED"},
		{"CANCELLED by 1234", "CANCELLED"},
		{"FAILED+", "FAILED"},
		{" running ", "RUNNING"},
		{"OUT_OF_MEMORY", "OUT_OF_MEMORY"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeState(tt.in))
	}
}

func TestTerminal(t *testing.T) {
	for _, st := range []string{"COMPLETED", "FAILED", "CANCELLED", "TIMEOUT", "OUT_OF_MEMORY"} {
		assert.True(t, Terminal(st), st)
	}
	for _, st := range []string{"PENDING", "RUNNING", "SUSPENDED", ""} {
		assert.False(t, Terminal(st), st)
	}
}

// fakeScancel writes a shell script that records its arguments and
// exits with the given code.
func fakeScancel(t *testing.T, exitCode string) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, "scancel")
	argsFile = filepath.Join(dir, "args")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\nexit " + exitCode + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin, argsFile
}

func TestCancel(t *testing.T) {
	bin, argsFile := fakeScancel(t, "0")
	s := &Slurm{ScancelBin: bin}

	require.NoError(t, s.Cancel(context.Background(), 4821034))

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "4821034", strings.TrimSpace(string(recorded)))
}

func TestCancelFailure(t *testing.T) {
	bin, _ := fakeScancel(t, "1")
	s := &Slurm{ScancelBin: bin}

	err := s.Cancel(context.Background(), 77)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scancel 77")
}

func TestJoinIDs(t *testing.T) {
	assert.Equal(t, "1,22,333", joinIDs([]int{1, 22, 333}))
	assert.Equal(t, "7", joinIDs([]int{7}))
}
