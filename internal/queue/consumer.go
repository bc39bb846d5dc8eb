package queue

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// stream is the delivery side shared by the consumer drivers. The driver goroutine owns
// it and calls finish exactly once when it stops producing.
type stream struct {
	msgs chan Message
	errs chan error
	done chan struct{}
}

func newStream() *stream {
	return &stream{
		msgs: make(chan Message, deliveryBuffer),
		errs: make(chan error, errorBuffer),
		done: make(chan struct{}),
	}
}

func (s *stream) Messages() <-chan Message { return s.msgs }

func (s *stream) Errors() <-chan error { return s.errs }

// deliver hands msg to the reader and reports false once ctx is done.
func (s *stream) deliver(ctx context.Context, msg Message) bool {
	select {
	case s.msgs <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *stream) report(ctx context.Context, err error) bool {
	select {
	case s.errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *stream) finish() {
	close(s.msgs)
	close(s.errs)
	close(s.done)
}

// fetcher is the subset of *kafka.Reader a consumer group loop uses.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaConsumer struct {
	*stream

	reader fetcher
	retry  time.Duration

	cancel context.CancelFunc
	once   sync.Once
}

func stopOnFetchError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

func kafkaStartOffset(v string) (int64, error) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "", StartOffsetFirst:
		return kafka.FirstOffset, nil
	case StartOffsetLast:
		return kafka.LastOffset, nil
	default:
		return 0, fmt.Errorf("%w: unsupported start offset %q", ErrInvalidConfig, v)
	}
}

func kafkaReaderConfig(cfg ConsumerConfig) (kafka.ReaderConfig, error) {
	var rc kafka.ReaderConfig
	if rc.Brokers = normalizeList(cfg.Brokers); len(rc.Brokers) == 0 {
		return rc, fmt.Errorf("%w: kafka consumer requires at least one broker", ErrInvalidConfig)
	}
	if rc.GroupID = strings.TrimSpace(cfg.Group); rc.GroupID == "" {
		return rc, fmt.Errorf("%w: kafka consumer requires group", ErrInvalidConfig)
	}
	if rc.GroupTopics = normalizeList(cfg.Topics); len(rc.GroupTopics) == 0 {
		return rc, fmt.Errorf("%w: kafka consumer requires at least one topic", ErrInvalidConfig)
	}
	start, err := kafkaStartOffset(cfg.StartOffset)
	if err != nil {
		return rc, err
	}
	rc.StartOffset = start

	rc.MinBytes, rc.MaxBytes = cfg.KafkaMinBytes, cfg.KafkaMaxBytes
	if rc.MinBytes <= 0 {
		rc.MinBytes = defaultKafkaMinBytes
	}
	if rc.MaxBytes <= 0 {
		rc.MaxBytes = defaultKafkaMaxBytes
	}
	if rc.MaxBytes < rc.MinBytes {
		return rc, fmt.Errorf("%w: kafka max bytes must be >= min bytes", ErrInvalidConfig)
	}

	if kafkaTLSEnabled() {
		rc.Dialer = &kafka.Dialer{
			Timeout: 10 * time.Second,
			TLS:     &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return rc, nil
}

func newKafkaConsumer(parent context.Context, cfg ConsumerConfig) (Consumer, error) {
	rc, err := kafkaReaderConfig(cfg)
	if err != nil {
		return nil, err
	}
	retry := cfg.FetchRetryDelay
	if retry <= 0 {
		retry = defaultFetchRetry
	}
	return startKafkaConsumer(parent, kafka.NewReader(rc), retry), nil
}

func startKafkaConsumer(parent context.Context, r fetcher, retry time.Duration) *kafkaConsumer {
	ctx, cancel := context.WithCancel(parent)
	c := &kafkaConsumer{
		stream: newStream(),
		reader: r,
		retry:  retry,
		cancel: cancel,
	}
	go c.run(ctx)
	return c
}

func (c *kafkaConsumer) run(ctx context.Context) {
	defer c.finish()

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if stopOnFetchError(err) || ctx.Err() != nil {
				return
			}
			if !c.report(ctx, err) || !sleepCtx(ctx, c.retry) {
				return
			}
			continue
		}
		if !c.deliver(ctx, c.message(km)) {
			return
		}
	}
}

// message copies km out of the reader's buffers. Acking commits the group offset.
func (c *kafkaConsumer) message(km kafka.Message) Message {
	return Message{
		Topic:     km.Topic,
		Key:       bytes.Clone(km.Key),
		Value:     bytes.Clone(km.Value),
		Timestamp: km.Time,
		Partition: km.Partition,
		Offset:    km.Offset,
		ackFn: func(ctx context.Context) error {
			return c.reader.CommitMessages(ctx, km)
		},
	}
}

func (c *kafkaConsumer) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.reader.Close()
		<-c.done
	})
	return err
}

// stdioConsumer reads one record per non-blank line. Records carry no key and acks are
// no-ops.
type stdioConsumer struct {
	*stream

	cancel context.CancelFunc
	once   sync.Once
}

func newStdioConsumer(parent context.Context, cfg ConsumerConfig) (Consumer, error) {
	r := cfg.Reader
	if r == nil {
		r = os.Stdin
	}
	maxLineBytes := cfg.MaxLineBytes
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}

	ctx, cancel := context.WithCancel(parent)
	c := &stdioConsumer{stream: newStream(), cancel: cancel}
	go c.scan(ctx, r, maxLineBytes)
	return c, nil
}

func (c *stdioConsumer) scan(ctx context.Context, r io.Reader, maxLineBytes int) {
	defer c.finish()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024), maxLineBytes)
	var line int64
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		msg := Message{
			Value:     bytes.Clone(sc.Bytes()),
			Timestamp: time.Now().UTC(),
			Offset:    line,
		}
		if !c.deliver(ctx, msg) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		c.report(ctx, fmt.Errorf("queue: stdio line %d: %w", line+1, err))
	}
}

// Close stops delivery. A read already blocked on the underlying reader is not interrupted.
func (c *stdioConsumer) Close() error {
	c.once.Do(c.cancel)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
