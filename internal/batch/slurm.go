package batch

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/mhollis/simbatch/internal/config"
)

// Slurm shells out to the scheduler's command-line tools. There is no
// wire protocol: sbatch, squeue, sacct and scancel are the interface.
type Slurm struct {
	SbatchBin  string
	SqueueBin  string
	SacctBin   string
	ScancelBin string
}

// NewSlurm resolves tool paths from cfg.
func NewSlurm(cfg *config.Config) *Slurm {
	return &Slurm{
		SbatchBin:  config.Tool(cfg.SbatchBin, "sbatch"),
		SqueueBin:  config.Tool(cfg.SqueueBin, "squeue"),
		SacctBin:   config.Tool(cfg.SacctBin, "sacct"),
		ScancelBin: config.Tool(cfg.ScancelBin, "scancel"),
	}
}

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// Submit hands a rendered batch script to sbatch and returns the job ID
// the scheduler assigned.
func (s *Slurm) Submit(ctx context.Context, scriptPath string) (int, error) {
	out, err := exec.CommandContext(ctx, s.SbatchBin, scriptPath).CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("sbatch %s: %v: %s", scriptPath, err, strings.TrimSpace(string(out)))
	}
	id, err := parseSubmitOutput(string(out))
	if err != nil {
		return 0, err
	}
	log.Printf("batch: submitted job %d (%s)", id, scriptPath)
	return id, nil
}

func parseSubmitOutput(out string) (int, error) {
	m := submittedRe.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected sbatch output: %q", strings.TrimSpace(out))
	}
	return strconv.Atoi(m[1])
}

// Cancel asks the scheduler to cancel a job.
func (s *Slurm) Cancel(ctx context.Context, jobID int) error {
	out, err := exec.CommandContext(ctx, s.ScancelBin, strconv.Itoa(jobID)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("scancel %d: %v: %s", jobID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Status reports the scheduler state for each job ID. Finished jobs come
// from sacct; pending and running jobs are overlaid from squeue, which
// only knows about active jobs.
func (s *Slurm) Status(ctx context.Context, ids []int) (map[int]string, error) {
	if len(ids) == 0 {
		return map[int]string{}, nil
	}
	list := joinIDs(ids)

	states := map[int]string{}

	out, err := exec.CommandContext(ctx, s.SacctBin,
		"-n", "-X", "-P", "-j", list, "-o", "JobID,State").Output()
	if err == nil {
		for id, st := range parseSacctOutput(string(out)) {
			states[id] = st
		}
	}

	out, err = exec.CommandContext(ctx, s.SqueueBin,
		"-h", "-j", list, "-o", "%i|%T").Output()
	if err == nil {
		for id, st := range parseSqueueOutput(string(out)) {
			states[id] = st
		}
	}

	if len(states) == 0 {
		return nil, fmt.Errorf("no state for jobs %s: scheduler tools unavailable or jobs unknown", list)
	}
	return states, nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// parseSacctOutput parses pipe-separated "JobID|State" lines. Step rows
// (e.g. "123.batch") are skipped; only the main record counts.
func parseSacctOutput(out string) map[int]string {
	states := map[int]string{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "|")
		if len(fields) < 2 {
			continue
		}
		if strings.Contains(fields[0], ".") {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		states[id] = NormalizeState(fields[1])
	}
	return states
}

func parseSqueueOutput(out string) map[int]string {
	states := map[int]string{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "|")
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		states[id] = NormalizeState(fields[1])
	}
	return states
}

// NormalizeState strips trailing qualifiers from a scheduler state, so
// "CANCELLED by 1234" becomes "CANCELLED" and "FAILED+" becomes "FAILED".
func NormalizeState(state string) string {
	state = strings.TrimSpace(state)
	if i := strings.IndexByte(state, ' '); i >= 0 {
		state = state[:i]
	}
	state = strings.TrimSuffix(state, "+")
	return strings.ToUpper(state)
}

// Terminal reports whether a normalized state will never change again.
func Terminal(state string) bool {
	switch state {
	case "COMPLETED", "FAILED", "CANCELLED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "PREEMPTED":
		return true
	}
	return false
}
