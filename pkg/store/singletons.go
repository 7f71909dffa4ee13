package store

import (
	"context"
)

// MemoryState loads the singleton memory record, defaulting when absent.
func (s *Store) MemoryState(ctx context.Context) (MemoryState, error) {
	data, err := s.GetCell(ctx, CellMemoryState)
	if err != nil {
		return MemoryState{}, err
	}
	if len(data) == 0 {
		return MemoryState{}, nil
	}
	return DecodeMemoryState(data)
}

func (s *Store) SetMemoryState(ctx context.Context, st MemoryState) error {
	return s.SetCell(ctx, CellMemoryState, st.Encode())
}

// Profile loads the singleton agent profile, defaulting when absent.
func (s *Store) Profile(ctx context.Context) (AgentProfile, error) {
	data, err := s.GetCell(ctx, CellProfile)
	if err != nil {
		return AgentProfile{}, err
	}
	if len(data) == 0 {
		return DefaultProfile(), nil
	}
	return DecodeAgentProfile(data)
}

func (s *Store) SetProfile(ctx context.Context, p AgentProfile) error {
	return s.SetCell(ctx, CellProfile, p.Encode())
}

// Metrics loads the singleton counters record, defaulting when absent.
func (s *Store) Metrics(ctx context.Context) (Metrics, error) {
	data, err := s.GetCell(ctx, CellMetrics)
	if err != nil {
		return Metrics{}, err
	}
	if len(data) == 0 {
		return Metrics{}, nil
	}
	return DecodeMetrics(data)
}

// BumpMetrics applies f to the current counters and writes them back.
func (s *Store) BumpMetrics(ctx context.Context, f func(*Metrics)) error {
	m, err := s.Metrics(ctx)
	if err != nil {
		return err
	}
	f(&m)
	return s.SetCell(ctx, CellMetrics, m.Encode())
}

// Secret reads the raw vault blob; nil when nothing is stored. The layout of
// the blob belongs to pkg/vault and is opaque here.
func (s *Store) Secret(ctx context.Context) ([]byte, error) {
	return s.GetCell(ctx, CellSecret)
}

func (s *Store) SetSecret(ctx context.Context, blob []byte) error {
	return s.SetCell(ctx, CellSecret, blob)
}
