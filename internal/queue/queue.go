package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

const (
	StartOffsetFirst = "first"
	StartOffsetLast  = "last"
)

const (
	envKafkaTLS          = "TXPROVIDER_QUEUE_KAFKA_TLS"
	defaultMaxLineBytes  = 1 << 20
	defaultKafkaMinBytes = 1
	defaultKafkaMaxBytes = 10 << 20
	defaultBatchTimeout  = 10 * time.Millisecond
	defaultFetchRetry    = 500 * time.Millisecond
	deliveryBuffer       = 64
	errorBuffer          = 8
)

var (
	ErrInvalidConfig = errors.New("queue: invalid config")
	ErrMissingTopic  = errors.New("queue: topic is required")
)

// Message is a record delivered to a consumer.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	// Timestamp is the producer timestamp (Kafka) or local receive time (stdio).
	Timestamp time.Time

	// Partition and Offset locate the record. Stdio input has a single partition 0 and
	// uses the 1-based input line number as the offset.
	Partition int
	Offset    int64

	ackFn func(context.Context) error
}

// Ack commits the message offset when the driver tracks one.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

// Producer publishes keyed records. Records sharing a key keep their relative order on Kafka.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

type ConsumerConfig struct {
	Driver string

	// Kafka fields.
	Brokers []string
	Group   string
	Topics  []string
	// StartOffset applies when the group has no committed offset. Defaults to "first".
	StartOffset string

	KafkaMinBytes int
	KafkaMaxBytes int

	// FetchRetryDelay spaces out repeated Kafka fetch errors. Defaults to 500ms.
	FetchRetryDelay time.Duration

	// Stdio fields.
	Reader       io.Reader
	MaxLineBytes int
}

type ProducerConfig struct {
	Driver string

	// Kafka fields.
	Brokers                []string
	BatchTimeout           time.Duration
	AllowAutoTopicCreation bool

	// Stdio fields.
	Writer io.Writer
}

func NewConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaConsumer(ctx, cfg)
	case DriverStdio:
		return newStdioConsumer(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func NewProducer(cfg ProducerConfig) (Producer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverKafka
	}
	return v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SplitCommaList splits a flag value such as "b1:9092, b2:9092" and drops empty entries.
func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeList(strings.Split(s, ","))
}

func kafkaTLSEnabled() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(envKafkaTLS))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
