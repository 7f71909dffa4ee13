package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// TaskQueue is the pending-work queue drained by the engine's single
// background worker. Items are keyed by a monotonic counter restored from
// the highest stored id on open.
type TaskQueue struct {
	store *Store

	mu   sync.Mutex
	next uint64
}

func NewTaskQueue(ctx context.Context, s *Store) (*TaskQueue, error) {
	q := &TaskQueue{store: s}
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM tasks`).Scan(&max); err != nil {
		return nil, fmt.Errorf("restore task counter: %w", err)
	}
	if max.Valid {
		q.next = uint64(max.Int64)
	}
	return q, nil
}

// Enqueue appends a task and returns its id.
func (q *TaskQueue) Enqueue(ctx context.Context, kind, payload, caller string) (uint64, error) {
	q.mu.Lock()
	q.next++
	id := q.next
	q.mu.Unlock()

	task := Task{ID: id, Kind: kind, Payload: payload, Caller: caller, CreatedAtMS: nowMS()}
	_, err := q.store.db.ExecContext(ctx, `INSERT INTO tasks(id, data) VALUES(?, ?)`, int64(id), task.Encode())
	if err != nil {
		return 0, fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// Oldest returns the lowest-keyed pending task, or ok=false when the queue
// is empty. The task stays queued until Remove is called; the worker is
// strictly serial, so no lease is needed.
func (q *TaskQueue) Oldest(ctx context.Context) (Task, bool, error) {
	var id int64
	var data []byte
	err := q.store.db.QueryRowContext(ctx,
		`SELECT id, data FROM tasks ORDER BY id LIMIT 1`).Scan(&id, &data)
	if err == sql.ErrNoRows {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("claim task: %w", err)
	}
	task, err := DecodeTask(data)
	if err != nil {
		return Task{}, false, fmt.Errorf("task %d: %w", id, err)
	}
	task.ID = uint64(id)
	return task, true, nil
}

// Remove deletes a processed task.
func (q *TaskQueue) Remove(ctx context.Context, id uint64) error {
	if _, err := q.store.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("remove task %d: %w", id, err)
	}
	return nil
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}
