package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeafMist/topic-radar/internal/config"
	"github.com/DeafMist/topic-radar/internal/elasticsearch"
	"github.com/DeafMist/topic-radar/internal/logger"
	"github.com/DeafMist/topic-radar/internal/models"
	"github.com/DeafMist/topic-radar/internal/processing"
	"github.com/DeafMist/topic-radar/internal/topics"
)

type modelOptions struct {
	input   string
	params  string
	output  string
	metrics string
	workers int
	all     bool
}

// metricsReport is the layout of the --metrics file.
type metricsReport struct {
	TotalTopics int    `json:"total_topics"`
	RunID       string `json:"run_id"`
	topics.Metrics
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "topicctl",
		Short:        "offline topic modelling over embedded news batches",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newModelCmd(), newValidateCmd(), newIngestCmd())
	return rootCmd
}

func newModelCmd() *cobra.Command {
	var opts modelOptions

	cmd := &cobra.Command{
		Use:   "model",
		Short: "cluster a JSONL batch into topics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.input == "" {
				return fmt.Errorf("--input is required")
			}
			return runModel(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "path to a JSONL batch of embedded documents")
	cmd.Flags().StringVar(&opts.params, "params", "params.yaml", "path to the parameter file")
	cmd.Flags().StringVar(&opts.output, "output", "", "write the topic model here instead of stdout")
	cmd.Flags().StringVar(&opts.metrics, "metrics", "", "write run metrics to this file")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "override the number of parallel repetitions")
	cmd.Flags().BoolVar(&opts.all, "all", false, "model the whole batch instead of the trailing window")
	return cmd
}

func runModel(cmd *cobra.Command, opts modelOptions) error {
	log := logger.NewWithWriter("topicctl", cmd.ErrOrStderr())

	p, err := config.LoadParams(opts.params)
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		p.Workers = opts.workers
	}

	docs, err := readBatch(opts.input)
	if err != nil {
		return err
	}

	if !opts.all {
		newest := newestTimestamp(docs)
		docs = models.Window(docs, newest, p.Days)
		log.Info("window applied", slog.Time("newest", newest), slog.Int("days", p.Days), slog.Int("documents", len(docs)))
	}

	model, err := topics.New(log).ModelTopics(cmd.Context(), docs, p)
	if err != nil {
		return err
	}

	if err := writeJSON(cmd.OutOrStdout(), opts.output, model); err != nil {
		return fmt.Errorf("write model: %w", err)
	}

	if opts.metrics != "" {
		report := metricsReport{TotalTopics: len(model.Topics), RunID: model.RunID, Metrics: model.Metrics}
		if err := writeJSON(nil, opts.metrics, report); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	log.Info("topics modelled",
		slog.String("run_id", model.RunID),
		slog.Int("topics", len(model.Topics)),
		slog.Int("unassigned", len(model.Unassigned)),
	)
	return nil
}

func newValidateCmd() *cobra.Command {
	var paramsPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "check a parameter file and print the effective values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := config.LoadParams(paramsPath)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p.String())
			return err
		},
	}

	cmd.Flags().StringVar(&paramsPath, "params", "params.yaml", "path to the parameter file")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "index a JSONL batch into Elasticsearch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				return fmt.Errorf("--input is required")
			}
			log := logger.NewWithWriter("topicctl", cmd.ErrOrStderr())

			docs, err := readBatch(input)
			if err != nil {
				return err
			}

			cfg := config.LoadCommon()
			es, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, cfg.ElasticsearchTopics, log)
			if err != nil {
				return fmt.Errorf("init elasticsearch: %w", err)
			}

			for i, doc := range docs {
				if err := es.IndexDocument(cmd.Context(), doc); err != nil {
					return fmt.Errorf("document %d (%s): %w", i+1, doc.ID, err)
				}
			}

			log.Info("batch indexed", slog.String("index", cfg.ElasticsearchIndex), slog.Int("documents", len(docs)))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", len(docs))
			return err
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to a JSONL batch of embedded documents")
	return cmd
}

func readBatch(path string) ([]models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch: %w", err)
	}
	defer f.Close()

	docs, err := processing.ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return docs, nil
}

func newestTimestamp(docs []models.Document) time.Time {
	var newest time.Time
	for _, d := range docs {
		if d.Timestamp.After(newest) {
			newest = d.Timestamp
		}
	}
	return newest
}

// writeJSON writes v to path, or to fallback when path is empty.
func writeJSON(fallback io.Writer, path string, v any) error {
	if path == "" {
		return encodeJSON(fallback, v)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = encodeJSON(f, v)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
