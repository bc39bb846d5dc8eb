package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of *s3.Client the archive uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3Store struct {
	client   S3Client
	bucket   string
	prefix   string
	maxBytes int64
}

func newS3Store(cfg Config) (*s3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}
	maxBytes := cfg.MaxObjectBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxObjectBytes
	}
	return &s3Store{client: cfg.S3Client, bucket: bucket, prefix: cfg.Prefix, maxBytes: maxBytes}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(withPrefix(s.prefix, k)),
		Body:   bytes.NewReader(payload),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("archive/s3: put %q: %w", k, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(withPrefix(s.prefix, k)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		return nil, fmt.Errorf("archive/s3: get %q: %w", k, err)
	}
	defer func() { _ = out.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(out.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("archive/s3: read %q: %w", k, err)
	}
	if int64(len(b)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, k, s.maxBytes)
	}
	return b, nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(withPrefix(s.prefix, k)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("archive/s3: head %q: %w", k, err)
}

// HEAD responses carry no body, so a missing object surfaces as "NotFound" rather than
// "NoSuchKey".
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	}
	return false
}
