// Package queue is a SQLite-backed job queue: enqueue inserts a row
// with a run_after timestamp (now for immediate dispatch, now+delay
// for a deferred escalation step); Dequeue claims ready rows; Ack/Fail
// close them out, and Fail with retry returns a row to pending. A row
// left in_progress by a worker crash is not re-delivered: Dequeue only
// claims pending rows.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/silentline/sentinel/internal/broker/clock"
)

type Job struct {
	ID       int64
	Kind     string
	Payload  []byte
	Attempts int
}

type Queue struct {
	db    *sql.DB
	clock clock.Clock
}

func New(db *sql.DB, c clock.Clock) *Queue {
	if c == nil {
		c = clock.Real{}
	}
	return &Queue{db: db, clock: c}
}

// Enqueue inserts a job that becomes eligible for dequeue at now+delay.
// delay of 0 means immediately eligible.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, delay time.Duration) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	runAfter := q.clock.Now().Add(delay)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (kind, payload, status, run_after) VALUES (?, ?, 'pending', ?)`,
		kind, string(b), runAfter)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Dequeue claims up to limit ready jobs (run_after <= now, status
// pending) and marks them in_progress in the same transaction so two
// concurrent pollers never claim the same row.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, payload, attempts FROM jobs
		WHERE status = 'pending' AND run_after <= ?
		ORDER BY run_after ASC LIMIT ?`, q.clock.Now(), limit)
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for rows.Next() {
		var j Job
		var payload string
		if err := rows.Scan(&j.ID, &j.Kind, &payload, &j.Attempts); err != nil {
			rows.Close()
			return nil, err
		}
		j.Payload = []byte(payload)
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, j := range jobs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'in_progress', attempts = attempts + 1 WHERE id = ?`, j.ID); err != nil {
			return nil, err
		}
	}

	return jobs, tx.Commit()
}

func (q *Queue) Ack(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = 'done', delivered_at = ? WHERE id = ?`, q.clock.Now(), id)
	return err
}

// Fail marks a job failed. When retry is true the job is returned to
// pending with a fresh run_after so the poller picks it up again.
func (q *Queue) Fail(ctx context.Context, id int64, retry bool, retryDelay time.Duration) error {
	if retry {
		_, err := q.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'pending', run_after = ? WHERE id = ?`, q.clock.Now().Add(retryDelay), id)
		return err
	}
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = 'failed' WHERE id = ?`, id)
	return err
}

// Depth returns the count of pending (not yet dequeued) jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n)
	return n, err
}
