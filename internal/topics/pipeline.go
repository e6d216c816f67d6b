// Package topics discovers stable topics in a batch of embedded documents.
//
// A batch is reduced and clustered many times with independent seeds. The
// resulting partitions are consolidated through pairwise co-occurrence: two
// documents belong to the same topic when they shared a cluster in all but a
// TopicMergeDelta fraction of the runs.
package topics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/topic-radar/internal/cluster"
	"github.com/DeafMist/topic-radar/internal/models"
	"github.com/DeafMist/topic-radar/internal/processing"
)

var (
	// ErrDimensionMismatch is returned when embeddings in a batch differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDuplicateID is returned when two documents share an id.
	ErrDuplicateID = errors.New("duplicate document id")
)

const (
	topicKeywords      = 8
	topicKeywordMinLen = 4
)

var topicNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("topic-radar/topics"))

// Pipeline runs topic modelling and logs a summary of every invocation.
type Pipeline struct {
	log *slog.Logger
	now func() time.Time
}

// New creates a pipeline. A nil logger discards output.
func New(log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{log: log, now: time.Now}
}

// ModelTopics runs the pipeline with a discarding logger.
func ModelTopics(ctx context.Context, batch []models.Document, p Params) (*TopicModel, error) {
	return New(nil).ModelTopics(ctx, batch, p)
}

// ModelTopics validates p, runs the repetitions and consolidates them. Only
// invalid parameters and malformed batches are errors; failed runs are
// reported in the metrics and an empty batch gives an empty model.
func (pl *Pipeline) ModelTopics(ctx context.Context, batch []models.Document, p Params) (*TopicModel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	model := &TopicModel{
		RunID:       uuid.NewString(),
		CreatedAt:   pl.now().UTC(),
		Params:      p,
		Topics:      []Topic{},
		Assignments: make(map[string]*string, len(batch)),
		Nearest:     make(map[string]TopicScore),
		Unassigned:  []string{},
	}
	if len(batch) == 0 {
		pl.log.Info("empty batch, nothing to model")
		return model, nil
	}
	if err := checkBatch(batch); err != nil {
		return nil, err
	}

	start := time.Now()
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	results := RunRepeated(ctx, models.Embeddings(batch), p)

	partitions := make([]cluster.Result, 0, len(results))
	metrics := Metrics{Documents: len(batch), Runs: len(results)}
	for _, r := range results {
		if r.Err != nil {
			metrics.FailedRuns++
			metrics.RunErrors = append(metrics.RunErrors, fmt.Sprintf("run %d (seed %d): %v", r.Run, r.Seed, r.Err))
			if errors.Is(r.Err, context.DeadlineExceeded) {
				metrics.DeadlineExceeded = true
			}
			continue
		}
		partitions = append(partitions, r.Partition)
	}
	metrics.SuccessfulRuns = len(partitions)

	groups, unassigned := Consolidate(partitions, len(batch), p.TopicMergeDelta, p.Cluster.MinClusterSize)
	for _, g := range groups {
		t := buildTopic(batch, g)
		model.Topics = append(model.Topics, t)
		for _, i := range g.Members {
			id := t.ID
			model.Assignments[batch[i].ID] = &id
		}
	}
	for _, i := range unassigned {
		model.Unassigned = append(model.Unassigned, batch[i].ID)
		model.Assignments[batch[i].ID] = nil
	}

	model.Nearest = nearestTopics(batch, model.Topics)

	metrics.Topics = len(model.Topics)
	metrics.Unassigned = len(model.Unassigned)
	metrics.Silhouette = topicSilhouette(batch, groups, p.Seed)
	metrics.Elapsed = time.Since(start)
	model.Metrics = metrics

	if metrics.SuccessfulRuns == 0 {
		pl.log.Warn("no successful runs",
			slog.Int("runs", metrics.Runs),
			slog.String("first_error", firstError(metrics.RunErrors)),
		)
	}
	pl.log.Info("topics modelled",
		slog.String("run_id", model.RunID),
		slog.Int("documents", metrics.Documents),
		slog.Int("topics", metrics.Topics),
		slog.Int("unassigned", metrics.Unassigned),
		slog.Float64("silhouette", metrics.Silhouette),
		slog.Int("successful_runs", metrics.SuccessfulRuns),
		slog.Int("failed_runs", metrics.FailedRuns),
		slog.Duration("elapsed", metrics.Elapsed),
	)
	return model, nil
}

func checkBatch(batch []models.Document) error {
	dim := len(batch[0].Embedding)
	seen := make(map[string]struct{}, len(batch))
	for _, d := range batch {
		if len(d.Embedding) != dim || dim == 0 {
			return fmt.Errorf("%w: document %q has %d values, want %d", ErrDimensionMismatch, d.ID, len(d.Embedding), dim)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

func buildTopic(batch []models.Document, g Group) Topic {
	members := make([]string, len(g.Members))
	texts := make([]string, len(g.Members))
	centroid := make([]float64, len(batch[g.Members[0]].Embedding))
	for i, idx := range g.Members {
		members[i] = batch[idx].ID
		texts[i] = batch[idx].Title + " " + batch[idx].Text
		for d, v := range batch[idx].Embedding {
			centroid[d] += v
		}
	}
	for d := range centroid {
		centroid[d] /= float64(len(g.Members))
	}

	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return Topic{
		ID:        uuid.NewSHA1(topicNamespace, []byte(strings.Join(sorted, "\n"))).String(),
		Members:   members,
		Size:      len(members),
		Stability: g.Stability,
		Keywords:  processing.ExtractKeywords(texts, topicKeywords, topicKeywordMinLen),
		Centroid:  centroid,
	}
}

func firstError(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0]
}
