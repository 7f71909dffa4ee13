package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
)

// RingSlots is the fixed capacity of the recent-lookup ring buffer.
const RingSlots = 12

// WebLog is a fixed-capacity ring of recent web lookups. A write lands at
// (counter mod RingSlots) and overwrites whatever occupies that slot;
// presentation order is by timestamp descending, never slot order.
type WebLog struct {
	store *Store
}

func NewWebLog(s *Store) *WebLog {
	return &WebLog{store: s}
}

// Record stores a lookup in the next ring slot.
func (w *WebLog) Record(ctx context.Context, url, summary string) error {
	count, err := w.counter(ctx)
	if err != nil {
		return err
	}
	slot := count % RingSlots

	entry := WebEntry{URL: url, Summary: summary, CreatedAtMS: nowMS()}
	_, err = w.store.db.ExecContext(ctx,
		`INSERT INTO web_ring(slot, data) VALUES(?, ?)
		 ON CONFLICT(slot) DO UPDATE SET data = excluded.data`,
		int64(slot), entry.Encode())
	if err != nil {
		return fmt.Errorf("write web ring slot %d: %w", slot, err)
	}
	return w.setCounter(ctx, count+1)
}

// Recent returns every occupied slot, newest first.
func (w *WebLog) Recent(ctx context.Context) ([]WebEntry, error) {
	rows, err := w.store.db.QueryContext(ctx, `SELECT slot, data FROM web_ring`)
	if err != nil {
		return nil, fmt.Errorf("read web ring: %w", err)
	}
	defer rows.Close()

	out := []WebEntry{}
	for rows.Next() {
		var slot int64
		var data []byte
		if err := rows.Scan(&slot, &data); err != nil {
			return nil, err
		}
		entry, err := DecodeWebEntry(data)
		if err != nil {
			return nil, fmt.Errorf("web ring slot %d: %w", slot, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAtMS > out[j].CreatedAtMS
	})
	return out, nil
}

// Clear empties every slot. The counter is preserved; slot assignment keeps
// cycling from where it left off.
func (w *WebLog) Clear(ctx context.Context) error {
	if _, err := w.store.db.ExecContext(ctx, `DELETE FROM web_ring`); err != nil {
		return fmt.Errorf("clear web ring: %w", err)
	}
	return nil
}

func (w *WebLog) counter(ctx context.Context) (uint64, error) {
	data, err := w.store.GetCell(ctx, cellWebCounter)
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (w *WebLog) setCounter(ctx context.Context, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return w.store.SetCell(ctx, cellWebCounter, buf)
}
