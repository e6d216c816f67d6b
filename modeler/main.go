package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/topic-radar/internal/config"
	"github.com/DeafMist/topic-radar/internal/dedupe"
	"github.com/DeafMist/topic-radar/internal/elasticsearch"
	"github.com/DeafMist/topic-radar/internal/logger"
	"github.com/DeafMist/topic-radar/internal/publisher"
	"github.com/DeafMist/topic-radar/internal/schedule"
	"github.com/DeafMist/topic-radar/internal/service"
)

const scheduledJob = "model_topics"

type windowModeler interface {
	ModelWindow(ctx context.Context, req service.Request) (service.Outcome, error)
}

type deadLetterer interface {
	DeadLetter(ctx context.Context, msg kafka.Message, cause error) error
}

func main() {
	_ = godotenv.Load()

	log := logger.New("modeler")
	cfg, err := config.LoadModeler()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		log.Error("load params", slog.String("path", cfg.ParamsPath), slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("params loaded", slog.String("params", params.String()))

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, cfg.ElasticsearchTopics, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = esClient.EnsureTopicsIndex(initCtx)
	cancel()
	if err != nil {
		log.Error("ensure topics index", slog.Any("err", err))
		os.Exit(1)
	}

	results := publisher.NewKafka(cfg.KafkaBrokers, cfg.KafkaResultsTopic, cfg.PublishRetries, log)
	defer results.Close()

	dlq := publisher.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic+"_dlq", 4, log)
	defer dlq.Close()

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)
	svc := service.NewModelingService(esClient, results, cache, params, log)

	scheduler := schedule.NewCronScheduler(log)
	job := schedule.JobFunc{JobName: scheduledJob, Fn: func(ctx context.Context) error {
		_, err := svc.ModelWindow(ctx, service.Request{})
		return err
	}}
	if err := scheduler.AddJob(job, cfg.Schedule); err != nil {
		log.Error("schedule modelling", slog.Any("err", err))
		os.Exit(1)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: cfg.CommitInterval,
	})
	defer reader.Close()

	log.Info("modeler started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("results_topic", results.Topic()),
		slog.String("dlq_topic", dlq.Topic()),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("schedule", cfg.Schedule),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if !handleMessage(ctx, log, svc, dlq, msg) {
			// Left uncommitted so the request is retried after a restart.
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// handleMessage processes one request and reports whether its offset may be
// committed.
func handleMessage(ctx context.Context, log *slog.Logger, svc windowModeler, dlq deadLetterer, msg kafka.Message) bool {
	err := processMessage(ctx, svc, msg)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	log.Warn("process request failed, sending to DLQ",
		slog.Any("err", err),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	if dlqErr := dlq.DeadLetter(ctx, msg, err); dlqErr != nil {
		log.Error("DLQ write exhausted retries",
			slog.Any("err", dlqErr),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)
		return false
	}
	return true
}

func processMessage(ctx context.Context, svc windowModeler, msg kafka.Message) error {
	var req service.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = string(msg.Key)
	}

	_, err := svc.ModelWindow(ctx, req)
	return err
}
