package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/transferbook/txprovider/internal/events"
	"github.com/transferbook/txprovider/internal/provider"
)

const (
	DriverMemory = "memory"
	DriverS3     = "s3"

	contentTypeJSON = "application/json"
	submissionsDir  = "submissions"

	defaultMaxObjectBytes int64 = 1 << 20
)

var (
	ErrInvalidConfig = errors.New("archive: invalid config")
	ErrInvalidKey    = errors.New("archive: invalid key")
	ErrNotFound      = errors.New("archive: not found")
	ErrTooLarge      = errors.New("archive: object too large")
)

// Store keeps immutable JSON objects by key.
type Store interface {
	Put(ctx context.Context, key string, payload []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type Config struct {
	Driver string
	Prefix string

	// MaxObjectBytes bounds bytes returned by Get. Defaults to 1 MiB.
	MaxObjectBytes int64

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

func New(cfg Config) (Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryStore(cfg.Prefix), nil
	case DriverS3:
		return newS3Store(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// SubmissionKey is the object key of an archived submission.
func SubmissionKey(id common.Hash) string {
	return submissionsDir + "/" + id.Hex() + ".json"
}

// Archiver is a provider.Sink writing each submission once as submissions/<id>.json.
type Archiver struct {
	store Store
}

func NewArchiver(s Store) (*Archiver, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	return &Archiver{store: s}, nil
}

// Record writes the submission unless an object for its id already exists.
func (a *Archiver) Record(ctx context.Context, sub provider.Submission) error {
	return a.RecordEvent(ctx, events.FromSubmission(sub))
}

// RecordEvent archives an already decoded event, skipping ids that are present.
func (a *Archiver) RecordEvent(ctx context.Context, ev events.TransferRecorded) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	key := SubmissionKey(common.HexToHash(ev.SubmissionID))
	ok, err := a.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return a.store.Put(ctx, key, payload, contentTypeJSON)
}

func (a *Archiver) Load(ctx context.Context, id common.Hash) (events.TransferRecorded, error) {
	b, err := a.store.Get(ctx, SubmissionKey(id))
	if err != nil {
		return events.TransferRecorded{}, err
	}
	return events.Decode(b)
}

func cleanKey(key string) (string, error) {
	if key != strings.TrimSpace(key) {
		return "", fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
		}
	}
	return key, nil
}

func withPrefix(prefix, key string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
