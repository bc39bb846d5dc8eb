package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
)

type kafkaProducer struct {
	writer *kafka.Writer
}

func newKafkaProducer(cfg ProducerConfig) (Producer, error) {
	brokers := normalizeList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka producer requires at least one broker", ErrInvalidConfig)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
	}
	if kafkaTLSEnabled() {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	return &kafkaProducer{writer: writer}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, key, payload []byte) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrMissingTopic
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload})
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// stdioProducer writes one payload per line. Keys are not written.
type stdioProducer struct {
	w io.Writer
	m sync.Mutex
}

func newStdioProducer(cfg ProducerConfig) Producer {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return &stdioProducer{w: w}
}

func (p *stdioProducer) Publish(_ context.Context, topic string, _ []byte, payload []byte) error {
	if strings.TrimSpace(topic) == "" {
		return ErrMissingTopic
	}
	p.m.Lock()
	defer p.m.Unlock()

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	_, err := p.w.Write(line)
	return err
}

func (p *stdioProducer) Close() error { return nil }
