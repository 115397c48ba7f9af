package storage

import (
	"context"
	"time"
)

// Job statuses. waiting -> active -> done, or back to waiting on a
// retryable failure until attempts run out, then failed.
const (
	JobWaiting = "waiting"
	JobActive  = "active"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is one durable delivery task. ID equals the alert id so a second
// enqueue of the same alert is a no-op.
type Job struct {
	ID            string
	Kind          string
	Payload       string
	Status        string
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Enqueue inserts a job. Returns (false, nil) when a job with the same
// id already exists.
func (s *Store) Enqueue(ctx context.Context, id, kind, payload string, maxAttempts int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, kind, payload, status, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		 VALUES(?,?,?,?,0,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		id, kind, payload, JobWaiting, maxAttempts, timeStr(now), timeStr(now), timeStr(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DequeueDue claims up to limit due waiting jobs, marking them active.
// Single-writer SQLite makes the read-then-update race-free.
func (s *Store) DequeueDue(ctx context.Context, limit int, now time.Time) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, payload, status, attempts, max_attempts, next_attempt_at,
		   COALESCE(last_error,''), created_at, updated_at
		 FROM jobs WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY next_attempt_at LIMIT ?`,
		JobWaiting, timeStr(now), limit)
	if err != nil {
		return nil, err
	}
	jobs, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	claimed := jobs[:0]
	for _, j := range jobs {
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status=?, attempts=attempts+1, updated_at=? WHERE id=? AND status=?`,
			JobActive, timeStr(now), j.ID, JobWaiting)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// claimed elsewhere
			continue
		}
		j.Status = JobActive
		j.Attempts++
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status=?, last_error=NULL, updated_at=? WHERE id=?`,
		JobDone, timeStr(now), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailJob records a failed attempt. If attempts remain, the job goes
// back to waiting with next_attempt_at pushed out by delay; otherwise
// it is terminally failed. Returns whether the job will be retried.
func (s *Store) FailJob(ctx context.Context, id, reason string, delay time.Duration, now time.Time) (bool, error) {
	var attempts, maxAttempts int
	err := s.db.QueryRowContext(ctx,
		`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err != nil {
		return false, err
	}

	if attempts >= maxAttempts {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status=?, last_error=?, updated_at=? WHERE id=?`,
			JobFailed, nullStr(reason), timeStr(now), id)
		return false, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET status=?, last_error=?, next_attempt_at=?, updated_at=? WHERE id=?`,
		JobWaiting, nullStr(reason), timeStr(now.Add(delay)), timeStr(now), id)
	return true, err
}

// QueueCounts reports jobs per status for the health endpoint.
func (s *Store) QueueCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

// RequeueStuck returns active jobs older than cutoff to waiting, for
// crash recovery on startup.
func (s *Store) RequeueStuck(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status=?, updated_at=? WHERE status=? AND updated_at < ?`,
		JobWaiting, timeStr(now), JobActive, timeStr(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJobs(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Job, error) {
	var out []Job
	for rows.Next() {
		var (
			j                     Job
			next, created, updated string
		)
		if err := rows.Scan(&j.ID, &j.Kind, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
			&next, &j.LastError, &created, &updated); err != nil {
			return nil, err
		}
		j.NextAttemptAt = parseTime(next)
		j.CreatedAt = parseTime(created)
		j.UpdatedAt = parseTime(updated)
		out = append(out, j)
	}
	return out, rows.Err()
}
