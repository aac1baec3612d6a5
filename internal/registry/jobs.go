package registry

import (
	"database/sql"
	"fmt"
	"time"
)

// Job is one recorded scheduler submission.
type Job struct {
	SlurmID     int       `json:"slurm_id"`
	Project     string    `json:"project"`
	Stage       string    `json:"stage"`
	State       string    `json:"state"`
	ImageDigest string    `json:"image_digest,omitempty"`
	ScriptPath  string    `json:"script_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SaveJob inserts or replaces a job record.
func (d *DB) SaveJob(j *Job) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	_, err := d.db.Exec(`
		INSERT INTO jobs (slurm_id, project, stage, state, image_digest, script_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slurm_id) DO UPDATE SET
			project = excluded.project,
			stage = excluded.stage,
			state = excluded.state,
			image_digest = excluded.image_digest,
			script_path = excluded.script_path,
			updated_at = excluded.updated_at
	`, j.SlurmID, j.Project, j.Stage, j.State, j.ImageDigest, j.ScriptPath,
		j.CreatedAt.Format(time.RFC3339), now.Format(time.RFC3339))
	return err
}

// UpdateJobState sets a job's scheduler state.
func (d *DB) UpdateJobState(slurmID int, state string) error {
	res, err := d.db.Exec(`
		UPDATE jobs SET state = ?, updated_at = ? WHERE slurm_id = ?
	`, state, time.Now().Format(time.RFC3339), slurmID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %d not found", slurmID)
	}
	return nil
}

// GetJob retrieves a job by scheduler ID.
func (d *DB) GetJob(slurmID int) (*Job, error) {
	row := d.db.QueryRow(`
		SELECT slurm_id, project, stage, state, image_digest, script_path, created_at, updated_at
		FROM jobs WHERE slurm_id = ?
	`, slurmID)
	return scanJob(row)
}

// ListJobs returns all jobs, newest first.
func (d *DB) ListJobs() ([]*Job, error) {
	rows, err := d.db.Query(`
		SELECT slurm_id, project, stage, state, image_digest, script_path, created_at, updated_at
		FROM jobs ORDER BY created_at DESC, slurm_id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var createdAt, updatedAt string
	err := row.Scan(&j.SlurmID, &j.Project, &j.Stage, &j.State,
		&j.ImageDigest, &j.ScriptPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, err
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}
