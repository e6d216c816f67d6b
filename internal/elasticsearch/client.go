package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/DeafMist/topic-radar/internal/models"
	"github.com/DeafMist/topic-radar/internal/topics"
)

// ErrNoTopicModel is returned when the topics index holds no snapshot yet.
var ErrNoTopicModel = errors.New("no topic model stored")

const (
	// maxWindowDocuments bounds a single window fetch.
	maxWindowDocuments = 10000
	bulkFlushBytes     = 1 << 20
)

// Client wraps go-elasticsearch with helpers tailored to this project.
type Client struct {
	es     *elasticsearch.Client
	index  string
	topics string
	log    *slog.Logger
}

// New instantiates the Elasticsearch client. index holds the embedded
// documents and topicsIndex the topic model snapshots.
func New(addr, index, topicsIndex string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, topics: topicsIndex, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// EnsureTopicsIndex creates the snapshot index when it is missing. Snapshots
// are stored as-is; only the fields used for lookups are indexed.
func (c *Client) EnsureTopicsIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.topics}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check topics index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"dynamic": false,
			"properties": map[string]any{
				"run_id":     map[string]any{"type": "keyword"},
				"created_at": map[string]any{"type": "date"},
			},
		},
	}
	payload, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(c.topics,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create topics index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create topics index failed: %s", strings.TrimSpace(string(body)))
	}

	c.log.Info("topics index created", slog.String("index", c.topics))
	return nil
}

// IndexDocument writes an embedded document into the documents index.
func (c *Client) IndexDocument(ctx context.Context, doc models.Document) error {
	return c.put(ctx, c.index, doc.ID, doc, "false")
}

// SaveTopicModel stores a snapshot keyed by its run id.
func (c *Client) SaveTopicModel(ctx context.Context, model *topics.TopicModel) error {
	return c.put(ctx, c.topics, model.RunID, model, "wait_for")
}

func (c *Client) put(ctx context.Context, index, id string, doc any, refresh string) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
		Refresh:    refresh,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// FetchWindow returns the documents newer than since that carry an
// embedding, oldest first. When the window holds more than
// maxWindowDocuments, the newest ones are kept.
func (c *Client) FetchWindow(ctx context.Context, since time.Time) ([]models.Document, error) {
	body := map[string]any{
		"size": maxWindowDocuments,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"range": map[string]any{"timestamp": map[string]any{"gt": since.UTC().Format(time.RFC3339)}}},
					{"exists": map[string]any{"field": "embedding"}},
				},
			},
		},
		"sort": []map[string]any{
			{"timestamp": map[string]any{"order": "desc"}},
		},
	}

	var docs []models.Document
	total, err := c.search(ctx, c.index, body, func(raw json.RawMessage) error {
		var doc models.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(docs)

	if total > int64(len(docs)) {
		c.log.Warn("window truncated, oldest documents dropped",
			slog.Int64("matched", total),
			slog.Int("fetched", len(docs)),
		)
	}
	return docs, nil
}

// topicAnnotation is the partial document written back onto a modelled
// document. TopicID is null for outliers.
type topicAnnotation struct {
	TopicID        *string `json:"topic_id"`
	TopicOutlier   bool    `json:"topic_outlier"`
	NearestTopicID string  `json:"nearest_topic_id,omitempty"`
	TopicScore     float64 `json:"topic_score"`
	TopicRunID     string  `json:"topic_run_id"`
}

// AnnotateDocuments writes every document's topic, outlier flag and nearest
// topic score onto the documents index with bulk partial updates.
func (c *Client) AnnotateDocuments(ctx context.Context, model *topics.TopicModel) error {
	if len(model.Assignments) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		firstFail string
	)
	recordFailure := func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		if firstFail == "" {
			firstFail = msg
		}
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.es,
		Index:      c.index,
		NumWorkers: 1,
		FlushBytes: bulkFlushBytes,
		OnError: func(_ context.Context, err error) {
			recordFailure(err.Error())
		},
	})
	if err != nil {
		return fmt.Errorf("create bulk indexer: %w", err)
	}

	ids := make([]string, 0, len(model.Assignments))
	for id := range model.Assignments {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		topicID := model.Assignments[id]
		ann := topicAnnotation{TopicID: topicID, TopicOutlier: topicID == nil, TopicRunID: model.RunID}
		if near, ok := model.Nearest[id]; ok {
			ann.NearestTopicID, ann.TopicScore = near.TopicID, near.Score
		}
		payload, err := json.Marshal(map[string]any{"doc": ann})
		if err != nil {
			_ = bi.Close(ctx)
			return fmt.Errorf("marshal annotation: %w", err)
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "update",
			DocumentID: id,
			Body:       bytes.NewReader(payload),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					recordFailure(fmt.Sprintf("%s: %v", item.DocumentID, err))
					return
				}
				recordFailure(fmt.Sprintf("%s: %s: %s", item.DocumentID, res.Error.Type, res.Error.Reason))
			},
		})
		if err != nil {
			_ = bi.Close(ctx)
			return fmt.Errorf("queue annotation: %w", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("flush annotations: %w", err)
	}

	stats := bi.Stats()
	if stats.NumFailed > 0 || firstFail != "" {
		return fmt.Errorf("%d of %d updates failed: %s", stats.NumFailed, len(ids), firstFail)
	}

	c.log.Info("documents annotated",
		slog.String("index", c.index),
		slog.String("run_id", model.RunID),
		slog.Uint64("updated", stats.NumUpdated),
	)
	return nil
}

// LatestTopicModel returns the most recent snapshot.
func (c *Client) LatestTopicModel(ctx context.Context) (*topics.TopicModel, error) {
	body := map[string]any{
		"size":  1,
		"query": map[string]any{"match_all": map[string]any{}},
		"sort": []map[string]any{
			{"created_at": map[string]any{"order": "desc"}},
		},
	}

	var model *topics.TopicModel
	_, err := c.search(ctx, c.topics, body, func(raw json.RawMessage) error {
		model = &topics.TopicModel{}
		return json.Unmarshal(raw, model)
	})
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrNoTopicModel
	}
	return model, nil
}

func (c *Client) search(ctx context.Context, index string, body map[string]any, hit func(json.RawMessage) error) (int64, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return 0, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode search response: %w", err)
	}

	for _, h := range parsed.Hits.Hits {
		if err := hit(h.Source); err != nil {
			return 0, fmt.Errorf("decode hit: %w", err)
		}
	}
	return parsed.Hits.Total.Value, nil
}

// DeleteOlderThan removes topic model snapshots older than maxAge using
// batched delete-by-query. It loops until a batch deletes fewer snapshots
// than batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	body := map[string]any{
		"max_docs": batchSize,
		"query": map[string]any{
			"range": map[string]any{
				"created_at": map[string]any{"lte": cutoff},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	var total int64
	for {
		deleted, err := c.deleteBatch(ctx, payload, batchSize)
		total += deleted
		if err != nil {
			return total, err
		}
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}

func (c *Client) deleteBatch(ctx context.Context, payload []byte, batchSize int) (int64, error) {
	res, err := c.es.DeleteByQuery(
		[]string{c.topics},
		bytes.NewReader(payload),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithWaitForCompletion(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithScrollSize(batchSize),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

// Health checks the cluster health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}
