package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"graphgp/internal/evo"
)

const namespace = "graphgp"

// Recorder exports run progress as Prometheus metrics. It is safe for use by
// concurrently running islands.
type Recorder struct {
	EvaluatedTotal     prometheus.Counter
	GenerationsTotal   prometheus.Counter
	OverflowedTotal    prometheus.Counter
	BestFitness        prometheus.Gauge
	MeanFitness        prometheus.Gauge
	GenotypeDiversity  prometheus.Gauge
	EvaluationDuration prometheus.Histogram
}

var _ evo.Recorder = (*Recorder)(nil)

// NewRecorder registers the run metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		EvaluatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "chromosomes_evaluated_total",
			Help:      "Chromosomes scored against the dataset",
		}),
		GenerationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "generations_total",
			Help:      "Generations reproduced",
		}),
		OverflowedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "overflowed_total",
			Help:      "Chromosomes whose error overflowed to the maximum float",
		}),
		BestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "best_fitness",
			Help:      "Mean squared error of the elite in the latest generation",
		}),
		MeanFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "mean_fitness",
			Help:      "Mean squared error averaged over non-overflowed members",
		}),
		GenotypeDiversity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "genotype_diversity",
			Help:      "Distinct genotypes in the latest generation",
		}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time to score one generation",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
}

func (r *Recorder) ObserveEvaluation(chromosomes int, elapsed time.Duration) {
	r.EvaluatedTotal.Add(float64(chromosomes))
	r.EvaluationDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveGeneration(diag evo.GenerationDiagnostics) {
	r.GenerationsTotal.Inc()
	r.OverflowedTotal.Add(float64(diag.Overflowed))
	r.BestFitness.Set(diag.BestFitness)
	r.MeanFitness.Set(diag.MeanFitness)
	r.GenotypeDiversity.Set(float64(diag.GenotypeDiversity))
}

// Handler serves the metrics gathered by g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
