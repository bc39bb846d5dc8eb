package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

const (
	DriverEnv  = "env"
	DriverFile = "file"
	DriverAWS  = "aws"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

// Provider resolves a secret reference. The meaning of key depends on the driver: an
// environment variable name, a file path, or a Secrets Manager id.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

// New returns the provider for driver. The AWS provider loads the default AWS config.
func New(ctx context.Context, driver string) (Provider, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "", DriverEnv:
		return NewEnv(), nil
	case DriverFile:
		return NewFile(), nil
	case DriverAWS:
		return NewAWS(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, driver)
	}
}

type awsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSProvider struct {
	client awsClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client awsClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

func (p *AWSProvider) Get(ctx context.Context, key string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty secret key", ErrInvalidConfig)
	}
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(key),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: secret %q", ErrNotFound, key)
		}
		return "", fmt.Errorf("secrets: get secret %q: %w", key, err)
	}
	if v := strings.TrimSpace(aws.ToString(out.SecretString)); v != "" {
		return v, nil
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("%w: secret %q has no value", ErrNotFound, key)
}

type EnvProvider struct{}

func NewEnv() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil env provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty env key", ErrInvalidConfig)
	}
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, key)
	}
	return v, nil
}

// FileProvider reads secrets from files, such as mounted container secrets.
type FileProvider struct{}

func NewFile() *FileProvider {
	return &FileProvider{}
}

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil file provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty file path", ErrInvalidConfig)
	}
	b, err := os.ReadFile(filepath.Clean(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("secrets: read %s: %w", key, err)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", fmt.Errorf("%w: file %s is empty", ErrNotFound, key)
	}
	return v, nil
}
