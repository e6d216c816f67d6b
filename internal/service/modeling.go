package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/DeafMist/topic-radar/internal/dedupe"
	"github.com/DeafMist/topic-radar/internal/models"
	"github.com/DeafMist/topic-radar/internal/topics"
)

// ErrInvalidRequest marks requests that can never succeed.
var ErrInvalidRequest = errors.New("invalid model request")

// Store reads document windows, persists topic models and writes each
// document's topic back onto it.
type Store interface {
	FetchWindow(ctx context.Context, since time.Time) ([]models.Document, error)
	SaveTopicModel(ctx context.Context, model *topics.TopicModel) error
	AnnotateDocuments(ctx context.Context, model *topics.TopicModel) error
}

// Publisher announces finished topic models.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, value any) error
}

// Request asks for a topic model over the last Days days. Zero days falls
// back to the configured window.
type Request struct {
	Days      int    `json:"days"`
	RequestID string `json:"request_id,omitempty"`
}

// Result is the message published for every new topic model.
type Result struct {
	RequestID string `json:"request_id,omitempty"`
	topics.Summary
}

// Outcome describes what ModelWindow did. When Cached is set the window was
// already modelled by RunID and Model is nil.
type Outcome struct {
	RunID  string
	Cached bool
	Model  *topics.TopicModel
}

// ModelingService fetches a window, models it and stores the result.
type ModelingService struct {
	store    Store
	results  Publisher
	cache    *dedupe.Cache
	pipeline *topics.Pipeline
	params   topics.Params
	log      *slog.Logger
	now      func() time.Time
}

// NewModelingService wires the service. results and cache may be nil.
func NewModelingService(store Store, results Publisher, cache *dedupe.Cache, params topics.Params, log *slog.Logger) *ModelingService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ModelingService{
		store:    store,
		results:  results,
		cache:    cache,
		pipeline: topics.New(log),
		params:   params,
		log:      log,
		now:      time.Now,
	}
}

// ModelWindow runs the pipeline over the requested window. A window whose
// documents and options match a recent run is not modelled again.
func (s *ModelingService) ModelWindow(ctx context.Context, req Request) (Outcome, error) {
	p := s.params
	if req.Days < 0 {
		return Outcome{}, fmt.Errorf("%w: days=%d", ErrInvalidRequest, req.Days)
	}
	if req.Days > 0 {
		p.Days = req.Days
	}

	log := s.log.With(slog.Int("days", p.Days))
	if req.RequestID != "" {
		log = log.With(slog.String("request_id", req.RequestID))
	}

	docs, err := s.store.FetchWindow(ctx, s.now().AddDate(0, 0, -p.Days))
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch window: %w", err)
	}

	fingerprint := dedupe.Fingerprint(docs, p)
	if s.cache != nil {
		if runID, ok := s.cache.Lookup(fingerprint); ok {
			log.Info("window unchanged, skipping", slog.String("run_id", runID), slog.Int("documents", len(docs)))
			return Outcome{RunID: runID, Cached: true}, nil
		}
	}

	model, err := s.pipeline.ModelTopics(ctx, docs, p)
	if err != nil {
		var cerr *topics.ConfigurationError
		if errors.As(err, &cerr) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return Outcome{}, fmt.Errorf("model topics: %w", err)
	}

	if err := s.store.SaveTopicModel(ctx, model); err != nil {
		return Outcome{}, fmt.Errorf("save topic model: %w", err)
	}
	if err := s.store.AnnotateDocuments(ctx, model); err != nil {
		return Outcome{}, fmt.Errorf("annotate documents: %w", err)
	}
	if s.cache != nil {
		s.cache.MarkSeen(fingerprint, model.RunID)
	}

	if s.results != nil {
		msg := Result{RequestID: req.RequestID, Summary: model.Summary()}
		if err := s.results.PublishJSON(ctx, model.RunID, msg); err != nil {
			log.Warn("publish result failed", slog.String("run_id", model.RunID), slog.Any("err", err))
		}
	}

	log.Info("window modelled",
		slog.String("run_id", model.RunID),
		slog.Int("documents", model.Metrics.Documents),
		slog.Int("topics", model.Metrics.Topics),
	)
	return Outcome{RunID: model.RunID, Model: model}, nil
}
