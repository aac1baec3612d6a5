// simbatch launches containerized simulation stages on a Slurm cluster
// and mirrors project data between a workstation and the cluster
// filesystem.
//
// Commands:
//
//	simbatch init      Write a starter project manifest
//	simbatch submit    Submit a stage to the scheduler
//	simbatch run       Run a stage directly (no scheduler)
//	simbatch sync      Mirror the project tree (push or pull)
//	simbatch cancel    Cancel a submitted job
//	simbatch jobs      List recorded submissions
//	simbatch image     Manage the image sandbox cache
//	simbatch archive   Snapshot completed case directories
//	simbatch doctor    Print tool and data-dir status
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mhollis/simbatch/internal/archive"
	"github.com/mhollis/simbatch/internal/batch"
	"github.com/mhollis/simbatch/internal/config"
	"github.com/mhollis/simbatch/internal/container"
	"github.com/mhollis/simbatch/internal/image"
	"github.com/mhollis/simbatch/internal/mirror"
	"github.com/mhollis/simbatch/internal/project"
	"github.com/mhollis/simbatch/internal/registry"
	"github.com/mhollis/simbatch/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit()
	case "submit":
		cmdSubmit()
	case "run":
		cmdRun()
	case "sync":
		cmdSync()
	case "cancel":
		cmdCancel()
	case "jobs":
		cmdJobs()
	case "image":
		cmdImage()
	case "archive":
		cmdArchive()
	case "doctor":
		cmdDoctor()
	case "version":
		fmt.Println(version.Version())
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Usage: simbatch <command> [options]

Commands:
  init       Write a starter simbatch.yaml
  submit     Submit a stage to the scheduler (--stage NAME | --all)
  run        Run a stage directly, without the scheduler (--stage NAME)
  sync       Mirror the project tree (push | pull | history)
  cancel     Cancel a submitted job (JOBID)
  jobs       List recorded submissions and refresh their states
  image      Manage the image sandbox cache (pull REF)
  archive    Snapshot case directories (DIR | extract KEY DEST | list)
  doctor     Print scheduler/transfer tool and data-dir status
  version    Print version

Examples:
  simbatch init
  simbatch submit --stage shear
  simbatch submit --all
  simbatch run --stage input
  simbatch sync push
  simbatch sync pull --dry-run
  simbatch cancel 4821034
  simbatch archive 000_data/03_shear/prec_R30_T1000_V0.001_4821`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// loadManifest reads and validates the project manifest, honoring an
// optional --manifest flag value.
func loadManifest(path string) *project.Manifest {
	if path == "" {
		path = project.ManifestName
	}
	m, err := project.ParseFile(path)
	if err != nil {
		fatalf("%v", err)
	}
	if err := m.Validate(); err != nil {
		fatalf("%v", err)
	}
	return m
}

// manifestFlag extracts --manifest PATH from args, returning the path
// and the remaining arguments.
func manifestFlag(args []string) (string, []string) {
	var path string
	var rest []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--manifest" {
			if i+1 >= len(args) {
				fatalf("--manifest requires a path")
			}
			path = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return path, rest
}

func cmdInit() {
	name := "simulation"
	if len(os.Args) > 2 {
		name = os.Args[2]
	}
	if _, err := os.Stat(project.ManifestName); err == nil {
		fatalf("%s already exists", project.ManifestName)
	}
	if err := os.WriteFile(project.ManifestName, []byte(project.Starter(name)), 0644); err != nil {
		fatalf("write %s: %v", project.ManifestName, err)
	}
	fmt.Printf("Wrote %s\n", project.ManifestName)
}

// resolveImage returns a path apptainer can execute. Existing paths
// (.sif files or sandbox directories) pass through; anything else is
// treated as an OCI reference and pulled into the sandbox cache.
func resolveImage(ctx context.Context, cfg *config.Config, m *project.Manifest) (string, string) {
	if _, err := os.Stat(m.Image); err == nil {
		return m.Image, ""
	}

	platform := cfg.Platform
	if m.Platform != "" {
		platform = m.Platform
	}
	cache := image.NewCache(cfg.SandboxDir, platform)
	sandbox, digest, err := cache.GetOrPull(ctx, m.Image)
	if err != nil {
		fatalf("resolve image: %v", err)
	}
	return sandbox, digest
}

// stageSpec builds the container invocation for a stage.
func stageSpec(m *project.Manifest, st *project.Stage, imagePath, projectRoot string) *container.Spec {
	binds := m.Binds
	if len(binds) == 0 {
		binds = []string{projectRoot}
	}
	resolved := make([]string, len(binds))
	for i, b := range binds {
		if strings.Contains(b, ":") {
			resolved[i] = b
			continue
		}
		abs, err := filepath.Abs(b)
		if err != nil {
			fatalf("resolve bind %q: %v", b, err)
		}
		resolved[i] = abs
	}

	return &container.Spec{
		Image:   imagePath,
		Binds:   resolved,
		Workdir: projectRoot,
		Args:    []string{m.InterpreterOrDefault(), st.Script},
		MPI:     st.MPI,
	}
}

// stageLogDir picks the stage's logs directory for scheduler output,
// falling back to the project root.
func stageLogDir(st *project.Stage) string {
	for _, d := range st.DataDirs {
		if filepath.Base(d) == "logs" {
			return d
		}
	}
	return "."
}

func ensureDataDirs(st *project.Stage) {
	for _, d := range st.DataDirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			fatalf("create data dir %s: %v", d, err)
		}
	}
}

func cmdSubmit() {
	manifestPath, args := manifestFlag(os.Args[2:])

	var stageName string
	var all bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--stage":
			if i+1 >= len(args) {
				fatalf("--stage requires a name")
			}
			stageName = args[i+1]
			i++
		case "--all":
			all = true
		default:
			fatalf("unknown submit option: %s", args[i])
		}
	}
	if stageName == "" && !all {
		fatalf("usage: simbatch submit (--stage NAME | --all)")
	}

	cfg := config.Default()
	if err := cfg.EnsureDirs(); err != nil {
		fatalf("ensure dirs: %v", err)
	}
	m := loadManifest(manifestPath)

	projectRoot, err := os.Getwd()
	if err != nil {
		fatalf("getwd: %v", err)
	}

	ctx := context.Background()
	imagePath, digest := resolveImage(ctx, cfg, m)

	var stages []*project.Stage
	if all {
		for i := range m.Stages {
			stages = append(stages, &m.Stages[i])
		}
	} else {
		st, err := m.FindStage(stageName)
		if err != nil {
			fatalf("%v", err)
		}
		stages = []*project.Stage{st}
	}

	db, err := registry.Open(cfg.DBPath)
	if err != nil {
		fatalf("open registry: %v", err)
	}
	defer db.Close()

	slurm := batch.NewSlurm(cfg)
	for _, st := range stages {
		ensureDataDirs(st)
		logDir := stageLogDir(st)

		spec := batch.JobSpec{
			Name:        m.Name + "-" + st.Name,
			MailUser:    st.Resources.MailUser,
			Time:        st.Resources.Time,
			MemPerCPUMB: st.Resources.MemPerCPUMB,
			CPUsPerTask: st.Resources.CPUsPerTask,
			NTasks:      st.Resources.NTasks,
			Partition:   st.Resources.Partition,
			Output:      filepath.Join(logDir, "slurm-%j.out"),
			Error:       filepath.Join(logDir, "slurm-%j.err"),
			WorkDir:     projectRoot,
		}
		if spec.NTasks == 0 {
			spec.NTasks = 1
		}

		body := container.ScriptBody(cfg, stageSpec(m, st, imagePath, projectRoot))
		script, err := batch.Script(spec, body)
		if err != nil {
			fatalf("%v", err)
		}

		scriptPath := filepath.Join(cfg.DataDir, "scripts",
			fmt.Sprintf("%s-%s-%d.sbatch", m.Name, st.Name, time.Now().Unix()))
		if err := os.MkdirAll(filepath.Dir(scriptPath), 0755); err != nil {
			fatalf("create script dir: %v", err)
		}
		if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
			fatalf("write script: %v", err)
		}

		jobID, err := slurm.Submit(ctx, scriptPath)
		if err != nil {
			fatalf("%v", err)
		}

		err = db.SaveJob(&registry.Job{
			SlurmID:     jobID,
			Project:     m.Name,
			Stage:       st.Name,
			State:       "PENDING",
			ImageDigest: digest,
			ScriptPath:  scriptPath,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "record job %d: %v\n", jobID, err)
		}

		fmt.Printf("Submitted batch job %d (stage %s)\n", jobID, st.Name)
	}
}

func cmdRun() {
	manifestPath, args := manifestFlag(os.Args[2:])

	var stageName string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--stage":
			if i+1 >= len(args) {
				fatalf("--stage requires a name")
			}
			stageName = args[i+1]
			i++
		default:
			fatalf("unknown run option: %s", args[i])
		}
	}
	if stageName == "" {
		fatalf("usage: simbatch run --stage NAME")
	}

	cfg := config.Default()
	if err := cfg.EnsureDirs(); err != nil {
		fatalf("ensure dirs: %v", err)
	}
	m := loadManifest(manifestPath)

	st, err := m.FindStage(stageName)
	if err != nil {
		fatalf("%v", err)
	}

	projectRoot, err := os.Getwd()
	if err != nil {
		fatalf("getwd: %v", err)
	}

	ctx := context.Background()
	imagePath, _ := resolveImage(ctx, cfg, m)
	ensureDataDirs(st)

	code, err := container.Run(ctx, cfg, stageSpec(m, st, imagePath, projectRoot))
	if err != nil {
		fatalf("%v", err)
	}
	os.Exit(code)
}

func cmdSync() {
	manifestPath, args := manifestFlag(os.Args[2:])
	if len(args) < 1 {
		fatalf("usage: simbatch sync (push | pull | history) [--dry-run] [--delete] [--local]")
	}

	var dir mirror.Direction
	switch args[0] {
	case "push":
		dir = mirror.Push
	case "pull":
		dir = mirror.Pull
	case "history":
		cmdSyncHistory()
		return
	default:
		fatalf("unknown sync direction: %s", args[0])
	}

	var dryRun, del, local bool
	for _, a := range args[1:] {
		switch a {
		case "--dry-run":
			dryRun = true
		case "--delete":
			del = true
		case "--local":
			local = true
		default:
			fatalf("unknown sync option: %s", a)
		}
	}

	cfg := config.Default()
	if err := cfg.EnsureDirs(); err != nil {
		fatalf("ensure dirs: %v", err)
	}
	m := loadManifest(manifestPath)

	projectRoot, err := os.Getwd()
	if err != nil {
		fatalf("getwd: %v", err)
	}

	remote := m.Sync.Remote
	if local {
		remote = m.Sync.Local
	}
	if remote == "" {
		fatalf("manifest has no sync destination for this mode")
	}

	source, dest := projectRoot, remote
	if dir == mirror.Pull {
		source, dest = remote, projectRoot
	}

	ctx := context.Background()
	start := time.Now()
	var code int

	if local {
		lm := mirror.NewLocalMirror(m.Sync.Excludes)
		mirror.CleanStale(dest, 24*time.Hour)
		if err := lm.Copy(ctx, source, dest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			code = 1
		}
	} else {
		plan := &mirror.Plan{
			Direction: dir,
			Source:    source,
			Dest:      dest,
			Excludes:  m.Sync.Excludes,
			DryRun:    dryRun,
			Delete:    del,
		}
		code, err = mirror.Run(ctx, config.Tool(cfg.RsyncBin, "rsync"), plan, os.Stdout, os.Stderr)
		if err != nil {
			fatalf("%v", err)
		}
	}

	// Best-effort history; a broken registry must not fail the transfer
	if db, err := registry.Open(cfg.DBPath); err == nil {
		db.RecordTransfer(&registry.Transfer{
			Direction: string(dir),
			Source:    source,
			Dest:      dest,
			ExitCode:  code,
			Duration:  time.Since(start),
			StartedAt: start,
		})
		db.Close()
	}

	if code == 0 {
		fmt.Println("Sync complete.")
		return
	}
	fmt.Fprintln(os.Stderr, "Sync failed.")
	os.Exit(code)
}

func cmdCancel() {
	if len(os.Args) < 3 {
		fatalf("usage: simbatch cancel JOBID")
	}
	jobID, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fatalf("invalid job id: %s", os.Args[2])
	}

	cfg := config.Default()
	slurm := batch.NewSlurm(cfg)
	if err := slurm.Cancel(context.Background(), jobID); err != nil {
		fatalf("%v", err)
	}

	// Best-effort history; the scheduler has already accepted the cancel
	if db, err := registry.Open(cfg.DBPath); err == nil {
		if err := db.UpdateJobState(jobID, "CANCELLED"); err != nil {
			fmt.Fprintf(os.Stderr, "record cancel %d: %v\n", jobID, err)
		}
		db.Close()
	}

	fmt.Printf("Cancelled job %d\n", jobID)
}

func cmdSyncHistory() {
	cfg := config.Default()
	db, err := registry.Open(cfg.DBPath)
	if err != nil {
		fatalf("open registry: %v", err)
	}
	defer db.Close()

	transfers, err := db.ListTransfers(20)
	if err != nil {
		fatalf("list transfers: %v", err)
	}
	if len(transfers) == 0 {
		fmt.Println("No transfers recorded")
		return
	}

	fmt.Printf("%-6s %-5s %-10s %s\n", "DIR", "EXIT", "DURATION", "STARTED")
	for _, tr := range transfers {
		fmt.Printf("%-6s %-5d %-10s %s\n",
			tr.Direction, tr.ExitCode, tr.Duration.Round(time.Millisecond),
			tr.StartedAt.Local().Format("2006-01-02 15:04"))
		fmt.Printf("       %s -> %s\n", tr.Source, tr.Dest)
	}
}

func cmdJobs() {
	watch := false
	for _, a := range os.Args[2:] {
		switch a {
		case "--watch":
			watch = true
		default:
			fatalf("unknown jobs option: %s", a)
		}
	}

	cfg := config.Default()
	db, err := registry.Open(cfg.DBPath)
	if err != nil {
		fatalf("open registry: %v", err)
	}
	defer db.Close()

	slurm := batch.NewSlurm(cfg)
	for {
		printJobs(db, slurm)
		if !watch {
			return
		}
		time.Sleep(15 * time.Second)
		fmt.Println()
	}
}

func printJobs(db *registry.DB, slurm *batch.Slurm) {
	jobs, err := db.ListJobs()
	if err != nil {
		fatalf("list jobs: %v", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs recorded")
		return
	}

	// Refresh non-terminal states from the scheduler
	var active []int
	for _, j := range jobs {
		if !batch.Terminal(j.State) {
			active = append(active, j.SlurmID)
		}
	}
	if len(active) > 0 {
		states, err := slurm.Status(context.Background(), active)
		if err == nil {
			for _, j := range jobs {
				if st, ok := states[j.SlurmID]; ok && st != j.State {
					j.State = st
					if err := db.UpdateJobState(j.SlurmID, st); err != nil {
						fmt.Fprintf(os.Stderr, "record state of job %d: %v\n", j.SlurmID, err)
					}
				}
			}
		}
	}

	fmt.Printf("%-10s %-20s %-12s %-12s %s\n", "JOBID", "PROJECT", "STAGE", "STATE", "SUBMITTED")
	for _, j := range jobs {
		fmt.Printf("%-10d %-20s %-12s %-12s %s\n",
			j.SlurmID, j.Project, j.Stage, j.State,
			j.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func cmdImage() {
	if len(os.Args) < 4 || os.Args[2] != "pull" {
		fatalf("usage: simbatch image pull REF")
	}

	cfg := config.Default()
	if err := cfg.EnsureDirs(); err != nil {
		fatalf("ensure dirs: %v", err)
	}

	cache := image.NewCache(cfg.SandboxDir, cfg.Platform)
	sandbox, digest, err := cache.GetOrPull(context.Background(), os.Args[3])
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Sandbox: %s\n", sandbox)
	fmt.Printf("Digest:  %s\n", digest)
}

func cmdArchive() {
	if len(os.Args) < 3 {
		fatalf("usage: simbatch archive (CASE_DIR | extract KEY DEST | list)")
	}

	cfg := config.Default()
	if err := cfg.EnsureDirs(); err != nil {
		fatalf("ensure dirs: %v", err)
	}
	store := archive.NewStore(cfg.ArchiveDir)

	switch os.Args[2] {
	case "extract":
		if len(os.Args) < 5 {
			fatalf("usage: simbatch archive extract KEY DEST")
		}
		if err := store.Extract(os.Args[3], os.Args[4]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Extracted to %s\n", os.Args[4])
	case "list":
		keys, err := store.List()
		if err != nil {
			fatalf("%v", err)
		}
		if len(keys) == 0 {
			fmt.Println("No archives")
			return
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	default:
		key, err := store.Put(os.Args[2])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Archived %s\n", os.Args[2])
		fmt.Printf("Key: %s\n", key)
	}
}

func cmdDoctor() {
	cfg := config.Default()

	fmt.Println("simbatch doctor")
	fmt.Println("===============")
	fmt.Println()

	tools := []struct {
		name       string
		configured string
	}{
		{"sbatch", cfg.SbatchBin},
		{"squeue", cfg.SqueueBin},
		{"sacct", cfg.SacctBin},
		{"scancel", cfg.ScancelBin},
		{"rsync", cfg.RsyncBin},
		{"apptainer", cfg.ApptainerBin},
		{"mpirun", cfg.MpirunBin},
	}
	for _, tool := range tools {
		path, err := exec.LookPath(config.Tool(tool.configured, tool.name))
		if err != nil {
			fmt.Printf("%-10s not found\n", tool.name+":")
			continue
		}
		fmt.Printf("%-10s %s\n", tool.name+":", path)
	}

	fmt.Println()
	dirs := []struct {
		name string
		path string
	}{
		{"data", cfg.DataDir},
		{"cache", cfg.CacheDir},
		{"tmp", cfg.TmpDir},
		{"sandboxes", cfg.SandboxDir},
		{"archives", cfg.ArchiveDir},
	}
	for _, d := range dirs {
		status := "missing"
		if _, err := os.Stat(d.path); err == nil {
			status = "ok"
		}
		fmt.Printf("%-10s %s (%s)\n", d.name+":", d.path, status)
	}
	fmt.Printf("%-10s %s\n", "db:", cfg.DBPath)
}
