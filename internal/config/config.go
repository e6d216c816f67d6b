package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr   string
	ElasticsearchIndex  string
	ElasticsearchTopics string
	ParamsPath          string
}

// Modeler holds configuration for the topic modelling service.
type Modeler struct {
	Common
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaResultsTopic string
	KafkaConsumer     string
	Schedule          string
	DedupeCapacity    int
	DedupeTTL         time.Duration
	PublishRetries    int
	CommitInterval    time.Duration
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr  string
	CacheSize int
	CacheTTL  time.Duration
	MaxDays   int
}

// Retention configures the cleanup loop for topic model snapshots.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// LoadCommon reads the Elasticsearch settings shared by every binary.
func LoadCommon() Common {
	return Common{
		ElasticsearchAddr:   getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex:  getEnv("ELASTICSEARCH_INDEX", "news"),
		ElasticsearchTopics: getEnv("ELASTICSEARCH_TOPICS_INDEX", "news_topics"),
		ParamsPath:          getEnv("PARAMS_PATH", "params.yaml"),
	}
}

// LoadModeler builds a Modeler config from environment variables.
func LoadModeler() (*Modeler, error) {
	c := &Modeler{
		Common:            LoadCommon(),
		KafkaBrokers:      splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "topic_model_requests"),
		KafkaResultsTopic: getEnv("KAFKA_RESULTS_TOPIC", "topic_models"),
		KafkaConsumer:     getEnv("KAFKA_CONSUMER_GROUP", "topic-modeler"),
		Schedule:          getEnv("MODELER_SCHEDULE", "0 * * * *"),
		DedupeCapacity:    getInt("MODELER_DEDUPE_CAPACITY", 256),
		DedupeTTL:         getDuration("MODELER_DEDUPE_TTL", "6h"),
		PublishRetries:    getInt("MODELER_PUBLISH_RETRIES", 3),
		CommitInterval:    getDuration("MODELER_COMMIT_INTERVAL", "2s"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.KafkaTopic == c.KafkaResultsTopic {
		return nil, fmt.Errorf("KAFKA_RESULTS_TOPIC must differ from KAFKA_TOPIC")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("MODELER_DEDUPE_CAPACITY must be positive")
	}
	if c.PublishRetries < 0 {
		return nil, fmt.Errorf("MODELER_PUBLISH_RETRIES cannot be negative")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:    LoadCommon(),
		BindAddr:  getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		CacheSize: getInt("API_CACHE_SIZE", 16),
		CacheTTL:  getDuration("API_CACHE_TTL", "1m"),
		MaxDays:   getInt("API_MAX_DAYS", 30),
	}

	if c.CacheSize <= 0 {
		return nil, fmt.Errorf("API_CACHE_SIZE must be positive")
	}
	if c.CacheTTL <= 0 {
		return nil, fmt.Errorf("API_CACHE_TTL must be positive")
	}
	if c.MaxDays <= 0 {
		return nil, fmt.Errorf("API_MAX_DAYS must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    LoadCommon(),
		Interval:  getDuration("RETENTION_INTERVAL", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_INTERVAL must be positive")
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
