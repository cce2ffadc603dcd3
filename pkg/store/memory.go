package store

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps runs for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]*Run
	order  []uuid.UUID
	logs   map[uuid.UUID][]LogEntry
	nextID int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[uuid.UUID]*Run),
		logs: make(map[uuid.UUID][]LogEntry),
		now:  time.Now,
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, topic string, options json.RawMessage) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	run := &Run{
		ID:        uuid.New(),
		Topic:     topic,
		Status:    StatusRunning,
		Options:   slices.Clone(options),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)

	cp := *run
	return &cp, nil
}

func (s *MemoryStore) update(id uuid.UUID, fn func(r *Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	fn(run)
	run.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int) error {
	return s.update(id, func(r *Run) {
		r.CurrentStep = step
		r.Progress = progress
	})
}

func (s *MemoryStore) CompleteRun(ctx context.Context, id uuid.UUID, c Completion) error {
	return s.update(id, func(r *Run) {
		r.Status = StatusCompleted
		r.CurrentStep = "Completed"
		r.Progress = 100
		r.Article = c.Article
		r.OutputFile = c.OutputFile
		r.FileError = c.FileError
		r.ElapsedSeconds = c.ElapsedSeconds
	})
}

func (s *MemoryStore) FailRun(ctx context.Context, id uuid.UUID, f Failure) error {
	return s.update(id, func(r *Run) {
		r.Status = StatusError
		r.CurrentStep = "Error occurred"
		r.Error = f.Error
		r.Category = f.Category
		r.Hint = f.Hint
		r.ElapsedSeconds = f.ElapsedSeconds
	})
}

func (s *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns the newest runs first.
func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(runs) >= limit {
			break
		}
		runs = append(runs, *s.runs[s.order[i]])
	}
	return runs, nil
}

func (s *MemoryStore) LatestCompleted(ctx context.Context) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Run
	for _, id := range s.order {
		r := s.runs[id]
		if r.Status != StatusCompleted {
			continue
		}
		if latest == nil || !r.UpdatedAt.Before(latest.UpdatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[entry.RunID]; !ok {
		return ErrNotFound
	}
	s.nextID++
	entry.ID = s.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.logs[entry.RunID] = append(s.logs[entry.RunID], entry)
	return nil
}

func (s *MemoryStore) RunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[id]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(s.logs[id]), nil
}
