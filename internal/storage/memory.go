package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"graphgp/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	history     map[string][]model.GenerationFitness
	diagnostics map[string][]model.GenerationDiagnostics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.history = make(map[string][]model.GenerationFitness)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []model.GenerationFitness) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.history[runID] = append([]model.GenerationFitness(nil), history...)
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]model.GenerationFitness, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.GenerationFitness(nil), history...), true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

// sortRuns orders runs newest first; equal timestamps fall back to id order.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}
