package registry

import (
	"time"
)

// Transfer is one recorded mirroring run.
type Transfer struct {
	ID        int64         `json:"id"`
	Direction string        `json:"direction"`
	Source    string        `json:"source"`
	Dest      string        `json:"dest"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// RecordTransfer appends a transfer record and sets t.ID.
func (d *DB) RecordTransfer(t *Transfer) error {
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	res, err := d.db.Exec(`
		INSERT INTO transfers (direction, source, dest, exit_code, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Direction, t.Source, t.Dest, t.ExitCode, t.Duration.Milliseconds(),
		t.StartedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// ListTransfers returns up to limit transfer records, newest first.
// limit <= 0 means all.
func (d *DB) ListTransfers(limit int) ([]*Transfer, error) {
	if limit <= 0 {
		limit = -1 // sqlite treats a negative LIMIT as unbounded
	}
	rows, err := d.db.Query(`
		SELECT id, direction, source, dest, exit_code, duration_ms, started_at
		FROM transfers ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		var t Transfer
		var durationMS int64
		var startedAt string
		if err := rows.Scan(&t.ID, &t.Direction, &t.Source, &t.Dest,
			&t.ExitCode, &durationMS, &startedAt); err != nil {
			return nil, err
		}
		t.Duration = time.Duration(durationMS) * time.Millisecond
		t.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		transfers = append(transfers, &t)
	}
	return transfers, rows.Err()
}
