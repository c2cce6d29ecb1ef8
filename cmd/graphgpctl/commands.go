package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"graphgp/internal/evo"
	"graphgp/internal/metrics"
	"graphgp/internal/stats"
	"graphgp/internal/storage"
	"graphgp/pkg/graphgp"
)

type globalOptions struct {
	storeKind    string
	dbPath       string
	artifactsDir string
	logFormat    string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "graphgpctl",
		Short:         "Evolve symbolic regression models with graph-encoded genetic programming",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.storeKind, "store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	root.PersistentFlags().StringVar(&opts.dbPath, "db-path", "graphgp.db", "sqlite database path")
	root.PersistentFlags().StringVar(&opts.artifactsDir, "artifacts-dir", "runs", "directory for run artifacts and the run index")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text|json")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	root.AddCommand(
		newRunCmd(opts),
		newFitnessCmd(opts),
		newRunsCmd(opts),
		newDiagnosticsCmd(opts),
		newEvalCmd(opts),
	)
	return root
}

func (o *globalOptions) client(cmd *cobra.Command, recorder evo.Recorder) (*graphgp.Client, *slog.Logger, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), o.logFormat, o.logLevel)
	if err != nil {
		return nil, nil, err
	}
	client, err := graphgp.New(graphgp.Options{
		StoreKind:    o.storeKind,
		DBPath:       o.dbPath,
		ArtifactsDir: o.artifactsDir,
		Logger:       logger,
		Recorder:     recorder,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	req := graphgp.DefaultRunRequest("")
	var (
		configPath  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve an expression that fits the dataset's last column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				fileCfg, err := loadRunFileConfig(configPath)
				if err != nil {
					return err
				}
				if err := fileCfg.applyTo(&req, cmd.Flags().Changed); err != nil {
					return fmt.Errorf("run config %s: %w", configPath, err)
				}
			}
			if req.DatasetPath == "" {
				return errors.New("dataset file is required (--file)")
			}

			var recorder evo.Recorder
			var reg *prometheus.Registry
			if metricsAddr != "" {
				reg = prometheus.NewRegistry()
				recorder = metrics.NewRecorder(reg)
			}
			client, logger, err := opts.client(cmd, recorder)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			if reg != nil {
				shutdown, err := serveMetrics(metricsAddr, reg, logger)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			summary, err := client.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run completed run_id=%s pop=%d genes=%d gens=%d seed=%d islands=%d\n",
				summary.RunID, summary.Population, summary.Genes, summary.Generations, summary.Seed, summary.Islands)
			fmt.Fprintf(out, "best_fitness=%g\n", summary.BestFitness)
			fmt.Fprintf(out, "expression=%s\n", summary.BestExpression)
			fmt.Fprintf(out, "evaluations=%s elapsed=%s\n", humanize.Comma(int64(summary.Evaluations)), summary.Elapsed.Round(time.Millisecond))
			if summary.TraceFile != "" {
				fmt.Fprintf(out, "trace_file=%s\n", summary.TraceFile)
			}
			fmt.Fprintf(out, "artifacts_dir=%s\n", summary.ArtifactsDir)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.DatasetPath, "file", "f", "", "CSV dataset; the last column is the target")
	flags.StringVar(&req.Delimiter, "delimiter", "", "CSV field delimiter (default ',')")
	flags.BoolVar(&req.Header, "header", false, "treat the first CSV row as column names")
	flags.IntVarP(&req.Genes, "genes", "n", graphgp.DefaultGenes, "genes per chromosome")
	flags.IntVarP(&req.Generations, "generations", "g", graphgp.DefaultGenerations, "generations to evolve")
	flags.IntVarP(&req.Population, "population", "p", graphgp.DefaultPopulation, "population size (odd)")
	flags.Float64VarP(&req.CrossoverChance, "crossover-chance", "c", graphgp.DefaultCrossoverChance, "probability of crossing a selected pair")
	flags.Float64VarP(&req.MutationChance, "mutation-chance", "m", graphgp.DefaultMutationChance, "probability of mutating each child")
	flags.Int64Var(&req.Seed, "seed", req.Seed, "random seed (default: current time)")
	flags.IntVar(&req.Workers, "workers", 0, "evaluation workers (0 uses GOMAXPROCS)")
	flags.IntVar(&req.Islands, "islands", 1, "independent populations evolved concurrently")
	flags.StringVar(&req.TraceFile, "out", stats.DefaultTraceFile, "file receiving 'generation, fitness' lines (empty disables)")
	flags.StringVar(&req.RunID, "run-id", "", "run id (default: generated)")
	flags.StringVar(&configPath, "config", "", "YAML run config; explicit flags take precedence")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

func newFitnessCmd(opts *globalOptions) *cobra.Command {
	var req graphgp.FitnessHistoryRequest
	cmd := &cobra.Command{
		Use:   "fitness",
		Short: "Print the elite fitness per generation of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := opts.client(cmd, nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			history, err := client.FitnessHistory(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Fprintf(cmd.OutOrStdout(), "generation=%d best_fitness=%g\n", item.Generation, item.BestFitness)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "use the most recent run")
	cmd.Flags().StringVar(&req.TraceFile, "trace", "", "read a fitness trace file written by run --out")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "print at most this many generations (0 for all)")
	return cmd
}

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var (
		req   graphgp.RunsRequest
		runID string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs newest first, or describe one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := opts.client(cmd, nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			out := cmd.OutOrStdout()
			if runID != "" {
				item, err := client.RunInfo(cmd.Context(), runID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "run_id=%s\n", item.RunID)
				fmt.Fprintf(out, "created_at=%s\n", item.CreatedAtUTC)
				fmt.Fprintf(out, "dataset=%s rows=%d variables=%d\n", item.DatasetPath, item.Rows, item.Variables)
				fmt.Fprintf(out, "pop=%d genes=%d gens=%d crossover=%g mutation=%g seed=%d islands=%d\n",
					item.Population, item.Genes, item.Generations, item.CrossoverChance, item.MutationChance, item.Seed, item.Islands)
				fmt.Fprintf(out, "best_fitness=%g\n", item.BestFitness)
				fmt.Fprintf(out, "expression=%s\n", item.BestExpression)
				if item.Evaluations > 0 {
					fmt.Fprintf(out, "evaluations=%s\n", humanize.Comma(int64(item.Evaluations)))
				}
				return nil
			}

			runs, err := client.Runs(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, item := range runs {
				fmt.Fprintf(out, "run_id=%s created_at=%s dataset=%s seed=%d pop=%d gens=%d islands=%d best_fitness=%g expression=%s\n",
					item.RunID, item.CreatedAtUTC, item.DatasetPath, item.Seed, item.Population, item.Generations, item.Islands, item.BestFitness, item.BestExpression)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 20, "maximum runs to list")
	cmd.Flags().StringVar(&runID, "run-id", "", "describe a single run")
	return cmd
}

func newDiagnosticsCmd(opts *globalOptions) *cobra.Command {
	var req graphgp.DiagnosticsRequest
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print per-generation population summaries of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := opts.client(cmd, nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			diagnostics, err := client.Diagnostics(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, d := range diagnostics {
				fmt.Fprintf(cmd.OutOrStdout(), "generation=%d best_fitness=%g mean_fitness=%g stddev_fitness=%g overflowed=%d diversity=%d evaluations=%d\n",
					d.Generation, d.BestFitness, d.MeanFitness, d.StdDevFitness, d.Overflowed, d.GenotypeDiversity, d.Evaluations)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "use the most recent run")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "print at most this many generations (0 for all)")
	return cmd
}

func newEvalCmd(opts *globalOptions) *cobra.Command {
	var (
		req         graphgp.EvaluateRequest
		predictions bool
	)
	cmd := &cobra.Command{
		Use:   "eval EXPRESSION",
		Short: "Score an expression such as 'add(v0, square(1.5))' against a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client(cmd, nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			req.Expression = args[0]
			result, err := client.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "expression=%s\n", result.Expression)
			fmt.Fprintf(out, "fitness=%g\n", result.Fitness)
			if predictions {
				for i, p := range result.Predictions {
					fmt.Fprintf(out, "row=%d prediction=%g target=%g\n", i, p, result.Targets[i])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.DatasetPath, "file", "f", "", "CSV dataset; the last column is the target")
	cmd.Flags().StringVar(&req.Delimiter, "delimiter", "", "CSV field delimiter (default ',')")
	cmd.Flags().BoolVar(&req.Header, "header", false, "treat the first CSV row as column names")
	cmd.Flags().BoolVar(&predictions, "predictions", false, "print the prediction for every row")
	return cmd
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
