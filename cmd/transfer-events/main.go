package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/transferbook/txprovider/internal/archive"
	"github.com/transferbook/txprovider/internal/events"
	"github.com/transferbook/txprovider/internal/queue"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMain(ctx, os.Args[1:], os.Stdin, log); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(ctx context.Context, args []string, stdin io.Reader, log *slog.Logger) error {
	fs := flag.NewFlagSet("transfer-events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	queueDriver := fs.String("queue-driver", queue.DriverKafka, "queue driver (kafka|stdio)")
	queueBrokers := fs.String("queue-brokers", "", "Kafka brokers (comma-separated)")
	queueGroup := fs.String("queue-group", "transfer-events", "Kafka consumer group")
	topic := fs.String("topic", events.DefaultTopic, "transfer event topic")
	startOffset := fs.String("start-offset", queue.StartOffsetFirst, "offset for a new consumer group (first|last)")
	ackTimeout := fs.Duration("ack-timeout", 5*time.Second, "timeout for offset commits")

	archiveDriver := fs.String("archive-driver", "", "archive consumed events (memory|s3); empty disables")
	archiveBucket := fs.String("archive-bucket", "", "S3 bucket for --archive-driver=s3")
	archivePrefix := fs.String("archive-prefix", "", "object key prefix for the archive")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ackTimeout <= 0 {
		return errors.New("--ack-timeout must be > 0")
	}
	if strings.TrimSpace(*topic) == "" {
		return errors.New("--topic is required")
	}

	var archiver *archive.Archiver
	if d := strings.ToLower(strings.TrimSpace(*archiveDriver)); d != "" {
		acfg := archive.Config{Driver: d, Bucket: *archiveBucket, Prefix: *archivePrefix}
		if d == archive.DriverS3 {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}
			acfg.S3Client = s3.NewFromConfig(awsCfg)
		}
		store, err := archive.New(acfg)
		if err != nil {
			return err
		}
		archiver, err = archive.NewArchiver(store)
		if err != nil {
			return err
		}
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:      *queueDriver,
		Brokers:     queue.SplitCommaList(*queueBrokers),
		Group:       *queueGroup,
		Topics:      []string{*topic},
		StartOffset: *startOffset,
		Reader:      stdin,
	})
	if err != nil {
		return fmt.Errorf("init queue consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	log.Info("transfer-events consuming", "driver", *queueDriver, "topic", *topic, "archive", *archiveDriver)
	return consume(ctx, consumer, archiver, *ackTimeout, log)
}

func consume(ctx context.Context, consumer queue.Consumer, archiver *archive.Archiver, ackTimeout time.Duration, log *slog.Logger) error {
	msgCh := consumer.Messages()
	errCh := consumer.Errors()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return nil
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				log.Error("queue consume error", "err", err)
			}
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			ev, err := events.Decode(msg.Value)
			if err != nil {
				// Poison messages are acked so they do not block the partition.
				log.Error("decode transfer event", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
				ackMessage(msg, ackTimeout, log)
				continue
			}
			log.Info("transfer recorded",
				"submission", ev.SubmissionID,
				"from", ev.From,
				"to", ev.To,
				"amountWei", ev.AmountWei,
				"keyword", ev.Keyword,
				"recordTx", ev.RecordTxHash,
				"block", ev.RecordBlock,
				"transactionCount", ev.TransactionCount,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			if archiver != nil {
				if err := archiver.RecordEvent(ctx, ev); err != nil {
					// Leave unacked so the event is redelivered after a restart.
					log.Error("archive transfer event", "submission", ev.SubmissionID, "err", err)
					continue
				}
			}
			ackMessage(msg, ackTimeout, log)
		}
	}
}

func ackMessage(msg queue.Message, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		log.Error("ack queue message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
	}
}
