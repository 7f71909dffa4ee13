package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Transcript is the append-only, sequence-keyed message history. Sequences
// are assigned by a monotonic counter restored from the highest stored key
// on open, and reset to zero only by Clear.
type Transcript struct {
	store *Store

	mu  sync.Mutex
	seq uint64
}

func NewTranscript(ctx context.Context, s *Store) (*Transcript, error) {
	t := &Transcript{store: s}
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transcript`).Scan(&max); err != nil {
		return nil, fmt.Errorf("restore transcript counter: %w", err)
	}
	if max.Valid {
		t.seq = uint64(max.Int64)
	}
	return t, nil
}

// Seq returns the highest assigned sequence number.
func (t *Transcript) Seq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Append stores a message under the next sequence number and returns it.
func (t *Transcript) Append(ctx context.Context, role, content string) (uint64, error) {
	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	msg := Message{Seq: seq, Role: role, Content: content, CreatedAtMS: nowMS()}
	_, err := t.store.db.ExecContext(ctx,
		`INSERT INTO transcript(seq, data) VALUES(?, ?)`, int64(seq), msg.Encode())
	if err != nil {
		return 0, fmt.Errorf("append transcript message: %w", err)
	}
	return seq, nil
}

// Range returns messages with sequence in (fromExclusive, toInclusive],
// ordered by sequence.
func (t *Transcript) Range(ctx context.Context, fromExclusive, toInclusive uint64) ([]Message, error) {
	rows, err := t.store.db.QueryContext(ctx,
		`SELECT seq, data FROM transcript WHERE seq > ? AND seq <= ? ORDER BY seq`,
		int64(fromExclusive), int64(toInclusive))
	if err != nil {
		return nil, fmt.Errorf("range transcript: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var seq int64
		var data []byte
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, err
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, fmt.Errorf("transcript seq %d: %w", seq, err)
		}
		msg.Seq = uint64(seq)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Recent returns the latest messages up to limit, ordered by sequence.
func (t *Transcript) Recent(ctx context.Context, limit uint64) ([]Message, error) {
	seq := t.Seq()
	var from uint64
	if seq > limit {
		from = seq - limit
	}
	return t.Range(ctx, from, seq)
}

// Last returns the newest message with the given role among the last
// withinLastN sequence numbers, or ok=false when none matches.
func (t *Transcript) Last(ctx context.Context, role string, withinLastN uint64) (Message, bool, error) {
	seq := t.Seq()
	var from uint64
	if seq > withinLastN {
		from = seq - withinLastN
	}
	msgs, err := t.Range(ctx, from, seq)
	if err != nil {
		return Message{}, false, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return msgs[i], true, nil
		}
	}
	return Message{}, false, nil
}

// Clear removes every message and resets the sequence counter to zero. It
// returns the number of messages removed.
func (t *Transcript) Clear(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := t.store.db.ExecContext(ctx, `DELETE FROM transcript`)
	if err != nil {
		return 0, fmt.Errorf("clear transcript: %w", err)
	}
	n, _ := res.RowsAffected()
	t.seq = 0
	return n, nil
}
