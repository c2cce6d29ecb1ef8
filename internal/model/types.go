package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord is the persisted summary of one evolution run.
type RunRecord struct {
	VersionedRecord
	ID              string  `json:"id"`
	CreatedAtUTC    string  `json:"created_at_utc"`
	DatasetPath     string  `json:"dataset_path"`
	Rows            int     `json:"rows"`
	Variables       int     `json:"variables"`
	PopulationSize  int     `json:"population_size"`
	GeneCount       int     `json:"gene_count"`
	Generations     int     `json:"generations"`
	CrossoverChance float64 `json:"crossover_chance"`
	MutationChance  float64 `json:"mutation_chance"`
	Seed            int64   `json:"seed"`
	Islands         int     `json:"islands"`
	BestIsland      int     `json:"best_island"`
	BestFitness     float64 `json:"best_fitness"`
	BestExpression  string  `json:"best_expression"`
	Evaluations     int     `json:"evaluations"`
	ElapsedMS       int64   `json:"elapsed_ms"`
}

type GenerationFitness struct {
	Generation  int     `json:"generation"`
	BestFitness float64 `json:"best_fitness"`
}

type GenerationDiagnostics struct {
	Generation        int     `json:"generation"`
	BestFitness       float64 `json:"best_fitness"`
	MeanFitness       float64 `json:"mean_fitness"`
	StdDevFitness     float64 `json:"stddev_fitness"`
	Overflowed        int     `json:"overflowed"`
	GenotypeDiversity int     `json:"genotype_diversity"`
	PopulationSize    int     `json:"population_size"`
	Evaluations       int     `json:"evaluations"`
}
