// Package kafka connects the service to its task queues: one topic for
// document indexing, one for checklist run execution.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkdoc-go/internal/config"
	"checkdoc-go/pkg/database"
	"checkdoc-go/pkg/log"
	"checkdoc-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

const (
	consumerGroup = "checkdoc-go-consumer"
	// Tasks that failed this many times are committed and dropped so a
	// poison message cannot block the partition.
	maxTaskAttempts = 3
)

// IndexTaskProcessor handles document indexing tasks.
type IndexTaskProcessor interface {
	ProcessIndexTask(ctx context.Context, task tasks.DocumentIndexTask) error
}

// RunTaskProcessor handles checklist run tasks.
type RunTaskProcessor interface {
	ExecuteRun(ctx context.Context, task tasks.ChecklistRunTask) error
}

// Producer publishes tasks to the two topics.
type Producer struct {
	indexWriter *kafka.Writer
	runWriter   *kafka.Writer
}

// NewProducer creates writers for both task topics.
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{
		indexWriter: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    cfg.IndexTopic,
			Balancer: &kafka.LeastBytes{},
		},
		runWriter: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    cfg.RunTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
	log.Info("kafka producer initialized")
	return p
}

// PublishIndexTask enqueues a document indexing task.
func (p *Producer) PublishIndexTask(ctx context.Context, task tasks.DocumentIndexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.indexWriter.WriteMessages(ctx, kafka.Message{Value: taskBytes})
}

// PublishRunTask enqueues a checklist run task.
func (p *Producer) PublishRunTask(ctx context.Context, task tasks.ChecklistRunTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.runWriter.WriteMessages(ctx, kafka.Message{Value: taskBytes})
}

// Close flushes and closes both writers.
func (p *Producer) Close() error {
	if err := p.indexWriter.Close(); err != nil {
		return err
	}
	return p.runWriter.Close()
}

// StartIndexConsumer consumes the index topic and feeds the processor.
// Blocks until the reader fails.
func StartIndexConsumer(cfg config.KafkaConfig, processor IndexTaskProcessor) {
	consumeLoop(cfg.Brokers, cfg.IndexTopic, func(ctx context.Context, value []byte) (string, error) {
		var task tasks.DocumentIndexTask
		if err := json.Unmarshal(value, &task); err != nil {
			return "", fmt.Errorf("malformed index task: %w", err)
		}
		return task.DocumentID, processor.ProcessIndexTask(ctx, task)
	})
}

// StartRunConsumer consumes the run topic and feeds the orchestrator.
// Blocks until the reader fails.
func StartRunConsumer(cfg config.KafkaConfig, processor RunTaskProcessor) {
	consumeLoop(cfg.Brokers, cfg.RunTopic, func(ctx context.Context, value []byte) (string, error) {
		var task tasks.ChecklistRunTask
		if err := json.Unmarshal(value, &task); err != nil {
			return "", fmt.Errorf("malformed run task: %w", err)
		}
		return task.RunID, processor.ExecuteRun(ctx, task)
	})
}

// consumeLoop reads one topic with manual offset commits. handle returns
// the task's stable id for attempt counting; an empty id means the
// message could not be decoded and is committed immediately so it cannot
// block the queue.
func consumeLoop(brokers, topic string, handle func(ctx context.Context, value []byte) (string, error)) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{brokers},
		Topic:    topic,
		GroupID:  consumerGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	log.Infof("kafka consumer started on topic '%s'", topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("failed to fetch kafka message", err)
			break
		}

		taskID, err := handle(context.Background(), m.Value)
		if err == nil {
			if taskID != "" {
				_ = database.RDB.Del(context.Background(), attemptsKey(topic, taskID)).Err()
			}
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("failed to commit kafka offset: %v", err)
			}
			continue
		}

		log.Errorf("task on topic '%s' failed: %v", topic, err)
		if taskID == "" {
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("failed to commit malformed message: %v", err)
			}
			continue
		}

		// Count failures in Redis; after the threshold commit the offset
		// to stop retrying. When Redis itself is down, leave the offset
		// uncommitted so Kafka redelivers.
		key := attemptsKey(topic, taskID)
		attempts, incErr := database.RDB.Incr(context.Background(), key).Result()
		if incErr != nil {
			continue
		}
		_ = database.RDB.Expire(context.Background(), key, 24*time.Hour).Err()
		if attempts >= maxTaskAttempts {
			log.Errorf("task %s failed %d times, dropping it", taskID, attempts)
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("failed to commit kafka offset: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("failed to close kafka consumer: %v", err)
	}
}

func attemptsKey(topic, taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s:%s", topic, taskID)
}
