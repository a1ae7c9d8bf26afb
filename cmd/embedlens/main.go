// Package main provides the embedlens CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/embedlens/pkg/analytics"
	"github.com/orneryd/embedlens/pkg/cluster"
	"github.com/orneryd/embedlens/pkg/config"
	"github.com/orneryd/embedlens/pkg/logging"
	"github.com/orneryd/embedlens/pkg/math/vector"
	"github.com/orneryd/embedlens/pkg/search"
	"github.com/orneryd/embedlens/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "embedlens",
		Short: "embedlens - embedding analytics engine",
		Long: `embedlens stores text embeddings and analyses them.

Features:
  • Similarity search (cosine, euclidean, dot_product)
  • k-means, DBSCAN and hierarchical clustering
  • Automatic cluster count selection (BIC)
  • Persistent BadgerDB embedding store`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("embedlens v%s (%s)\n", version, commit)
		},
	})

	// Import command
	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import embeddings from a JSONL file",
		Long: `Import embeddings from a JSONL file, one record per line:

  {"id": "optional", "uri": "doc://1", "text": "...", "model_name": "m", "embedding": [0.1, 0.2]}`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	importCmd.Flags().Bool("dedupe", false, "Skip records whose model and text were already seen in the file")
	importCmd.Flags().Int("batch-size", 500, "Records written per transaction")
	rootCmd.AddCommand(importCmd)

	// Search command
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Rank stored embeddings by similarity to a query vector",
		RunE:  runSearch,
	}
	searchCmd.Flags().String("model", "", "Embedding model name")
	searchCmd.Flags().String("query", "", "Query embedding as a JSON array")
	searchCmd.Flags().String("query-file", "", "File holding the query embedding as a JSON array")
	searchCmd.Flags().Int("limit", 0, "Maximum results (default from config)")
	searchCmd.Flags().Float64("threshold", 0, "Minimum similarity")
	searchCmd.Flags().String("metric", "", "cosine, euclidean or dot_product (default from config)")
	rootCmd.AddCommand(searchCmd)

	// Cluster command
	clusterCmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster a point set or a model's stored embeddings",
		RunE:  runCluster,
	}
	clusterCmd.Flags().String("points-file", "", "JSON file holding an array of points")
	clusterCmd.Flags().String("model", "", "Cluster the stored embeddings of this model instead")
	clusterCmd.Flags().String("method", cluster.MethodKMeans, "kmeans, dbscan or hierarchical")
	clusterCmd.Flags().Int("n-clusters", 0, "Number of clusters (kmeans, hierarchical)")
	clusterCmd.Flags().Float64("eps", 0, "Neighborhood radius (dbscan)")
	clusterCmd.Flags().Int("min-samples", 0, "Minimum neighborhood size (dbscan)")
	clusterCmd.Flags().Bool("auto", false, "Select the number of clusters with BIC")
	clusterCmd.Flags().Int("min-clusters", 0, "Lower bound for --auto (default from config)")
	clusterCmd.Flags().Int("max-clusters", 0, "Upper bound for --auto (default from config)")
	clusterCmd.Flags().Int64("seed", 0, "Random seed (default from config)")
	rootCmd.AddCommand(clusterCmd)

	// Stats command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show embedding counts per model",
		RunE:  runStats,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles what every command needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func setup(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) openStore() (storage.Engine, error) {
	if e.cfg.Database.InMemory {
		return storage.NewMemoryEngine(), nil
	}
	if err := os.MkdirAll(e.cfg.Database.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
		DataDir:    e.cfg.Database.DataDir,
		SyncWrites: e.cfg.Database.SyncWrites,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return engine, nil
}

func (e *env) newEngine(store storage.Engine) *analytics.Engine {
	opts := analytics.OptionsFromConfig(e.cfg)
	opts.Logger = e.logger
	return analytics.New(store, opts)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runImport(cmd *cobra.Command, args []string) error {
	dedupe, _ := cmd.Flags().GetBool("dedupe")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := importJSONL(f, store, importOptions{Dedupe: dedupe, BatchSize: batchSize})
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d embeddings (%d duplicates skipped)\n", stats.Imported, stats.Duplicates)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	queryJSON, _ := cmd.Flags().GetString("query")
	queryFile, _ := cmd.Flags().GetString("query-file")
	limit, _ := cmd.Flags().GetInt("limit")
	metricName, _ := cmd.Flags().GetString("metric")

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	if queryFile != "" {
		data, err := os.ReadFile(queryFile)
		if err != nil {
			return err
		}
		queryJSON = string(data)
	}
	if queryJSON == "" {
		return fmt.Errorf("one of --query or --query-file is required")
	}
	var query []float64
	if err := json.Unmarshal([]byte(queryJSON), &query); err != nil {
		return fmt.Errorf("parsing query embedding: %w", err)
	}

	if limit == 0 {
		limit = e.cfg.Search.DefaultLimit
	}
	if metricName == "" {
		metricName = e.cfg.Search.DefaultMetric
	}
	metric, err := vector.ParseMetric(metricName)
	if err != nil {
		return err
	}

	req := search.Request{
		QueryEmbedding: query,
		ModelName:      model,
		Limit:          limit,
		Metric:         metric,
	}
	if cmd.Flags().Changed("threshold") {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		req.Threshold = &threshold
	}

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	results, err := e.newEngine(store).Search(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runCluster(cmd *cobra.Command, args []string) error {
	pointsFile, _ := cmd.Flags().GetString("points-file")
	model, _ := cmd.Flags().GetString("model")
	method, _ := cmd.Flags().GetString("method")

	if (pointsFile == "") == (model == "") {
		return fmt.Errorf("exactly one of --points-file or --model is required")
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	params := clusterParams(cmd)
	ctx, cancel := signalContext()
	defer cancel()

	if model != "" {
		store, err := e.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		out, err := e.newEngine(store).ClusterStored(ctx, model, method, params)
		if err != nil {
			return err
		}
		return printJSON(out)
	}

	data, err := os.ReadFile(pointsFile)
	if err != nil {
		return err
	}
	var points [][]float64
	if err := json.Unmarshal(data, &points); err != nil {
		return fmt.Errorf("parsing points: %w", err)
	}

	res, err := e.newEngine(nil).Cluster(ctx, cluster.Request{Points: points, Method: method, Params: params})
	if err != nil {
		return err
	}
	return printJSON(res)
}

// clusterParams copies only the flags the user set, so unset ones fall back
// to the configured defaults.
func clusterParams(cmd *cobra.Command) cluster.Params {
	var p cluster.Params
	flags := cmd.Flags()
	if flags.Changed("n-clusters") {
		v, _ := flags.GetInt("n-clusters")
		p.NClusters = &v
	}
	if flags.Changed("eps") {
		v, _ := flags.GetFloat64("eps")
		p.Eps = &v
	}
	if flags.Changed("min-samples") {
		v, _ := flags.GetInt("min-samples")
		p.MinSamples = &v
	}
	p.AutoClusters, _ = flags.GetBool("auto")
	if flags.Changed("min-clusters") {
		v, _ := flags.GetInt("min-clusters")
		p.MinClusters = &v
	}
	if flags.Changed("max-clusters") {
		v, _ := flags.GetInt("max-clusters")
		p.MaxClusters = &v
	}
	if flags.Changed("seed") {
		v, _ := flags.GetInt64("seed")
		p.Seed = &v
	}
	return p
}

func runStats(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	models, err := store.Models()
	if err != nil {
		return err
	}
	var total int64
	for _, m := range models {
		n, err := store.Count(m)
		if err != nil {
			return err
		}
		total += n
		fmt.Printf("%-40s %d\n", m, n)
	}
	fmt.Printf("%-40s %d\n", "TOTAL", total)
	return nil
}
