package evo

import "time"

// Recorder observes a run as it progresses.
type Recorder interface {
	ObserveEvaluation(chromosomes int, elapsed time.Duration)
	ObserveGeneration(diag GenerationDiagnostics)
}

type NopRecorder struct{}

func (NopRecorder) ObserveEvaluation(int, time.Duration) {}

func (NopRecorder) ObserveGeneration(GenerationDiagnostics) {}
