package storage

import (
	"context"

	"graphgp/internal/model"
)

// Store defines transaction-like persistence operations for evolution runs.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run, newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []model.GenerationFitness) error
	GetFitnessHistory(ctx context.Context, runID string) ([]model.GenerationFitness, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
}
