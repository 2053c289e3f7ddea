package memory

import (
	"context"
	"sync"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

// CheckpointStore is an in-memory sync checkpoint for tests and dev.
type CheckpointStore struct {
	mu      sync.Mutex
	version int64

	FailAll bool
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

func (s *CheckpointStore) Checkpoint(_ context.Context) (int64, error) {
	if s.FailAll {
		return 0, store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

func (s *CheckpointStore) SetCheckpoint(_ context.Context, version int64) error {
	if s.FailAll {
		return store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.version {
		s.version = version
	}
	return nil
}
