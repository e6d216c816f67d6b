package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/joho/godotenv"

	"github.com/DeafMist/topic-radar/internal/config"
	"github.com/DeafMist/topic-radar/internal/elasticsearch"
	"github.com/DeafMist/topic-radar/internal/logger"
	"github.com/DeafMist/topic-radar/internal/service"
	"github.com/DeafMist/topic-radar/internal/topics"
)

const latestKey = "latest"

type modelStore interface {
	LatestTopicModel(ctx context.Context) (*topics.TopicModel, error)
	Health(ctx context.Context) error
}

type windowModeler interface {
	ModelWindow(ctx context.Context, req service.Request) (service.Outcome, error)
}

func main() {
	_ = godotenv.Load()

	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		log.Error("load params", slog.String("path", cfg.ParamsPath), slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, cfg.ElasticsearchTopics, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	svc := service.NewModelingService(esClient, nil, nil, params, log)
	srv := newServer(log, cfg, esClient, svc)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log     *slog.Logger
	cfg     *config.API
	store   modelStore
	modeler windowModeler
	cache   *expirable.LRU[string, *topics.TopicModel]
}

func newServer(log *slog.Logger, cfg *config.API, store modelStore, modeler windowModeler) *server {
	return &server{
		log:     log,
		cfg:     cfg,
		store:   store,
		modeler: modeler,
		cache:   expirable.NewLRU[string, *topics.TopicModel](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/topics", func(r chi.Router) {
		r.Get("/", s.handleLatest)
		r.Post("/model", s.handleModel)
		r.Get("/{id}", s.handleTopic)
	})
	r.Get("/documents/{id}/topic", s.handleDocumentTopic)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type modelResponse struct {
	RunID  string          `json:"run_id"`
	Cached bool            `json:"cached"`
	Model  *topics.Summary `json:"model,omitempty"`
}

type documentTopicResponse struct {
	DocumentID     string  `json:"document_id"`
	TopicID        *string `json:"topic_id"`
	Outlier        bool    `json:"outlier"`
	NearestTopicID string  `json:"nearest_topic_id,omitempty"`
	TopicScore     float64 `json:"topic_score"`
	RunID          string  `json:"run_id"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) latest(ctx context.Context) (*topics.TopicModel, error) {
	if model, ok := s.cache.Get(latestKey); ok {
		return model, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	model, err := s.store.LatestTopicModel(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Add(latestKey, model)
	return model, nil
}

// writeLatestError maps a failed lookup of the latest model to a response.
func (s *server) writeLatestError(w http.ResponseWriter, err error) {
	if errors.Is(err, elasticsearch.ErrNoTopicModel) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	s.log.Error("load latest topic model", slog.Any("err", err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	model, err := s.latest(r.Context())
	if err != nil {
		s.writeLatestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Summary())
}

func (s *server) handleTopic(w http.ResponseWriter, r *http.Request) {
	model, err := s.latest(r.Context())
	if err != nil {
		s.writeLatestError(w, err)
		return
	}

	topic, ok := model.Topic(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "topic not found"})
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (s *server) handleDocumentTopic(w http.ResponseWriter, r *http.Request) {
	model, err := s.latest(r.Context())
	if err != nil {
		s.writeLatestError(w, err)
		return
	}

	docID := chi.URLParam(r, "id")
	if _, ok := model.Assignments[docID]; !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "document not in latest model"})
		return
	}

	resp := documentTopicResponse{DocumentID: docID, Outlier: model.Outlier(docID), RunID: model.RunID}
	if id, ok := model.TopicOf(docID); ok {
		resp.TopicID = &id
	}
	if near, ok := model.Nearest[docID]; ok {
		resp.NearestTopicID, resp.TopicScore = near.TopicID, near.Score
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleModel(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r.URL.Query().Get("days"), s.cfg.MaxDays)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	req := service.Request{Days: days, RequestID: middleware.GetReqID(r.Context())}
	out, err := s.modeler.ModelWindow(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.log.Warn("model request failed", slog.Int("days", days), slog.Any("err", err))
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	if out.Cached {
		writeJSON(w, http.StatusOK, modelResponse{RunID: out.RunID, Cached: true})
		return
	}

	s.cache.Add(latestKey, out.Model)
	summary := out.Model.Summary()
	writeJSON(w, http.StatusCreated, modelResponse{RunID: out.RunID, Model: &summary})
}

var errBadDays = errors.New("days must be a positive integer")

func parseDays(raw string, limit int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, errBadDays
	}
	if value > limit {
		return limit, nil
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
