package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

type fakeAWSClient struct {
	gotID string
	out   *secretsmanager.GetSecretValueOutput
	err   error
}

func (c *fakeAWSClient) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	c.gotID = aws.ToString(in.SecretId)
	if c.err != nil {
		return nil, c.err
	}
	return c.out, nil
}

func TestNew_Drivers(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("New default: %v", err)
	}
	if _, ok := p.(*EnvProvider); !ok {
		t.Fatalf("default driver: got %T", p)
	}
	p, err = New(context.Background(), " File ")
	if err != nil {
		t.Fatalf("New file: %v", err)
	}
	if _, ok := p.(*FileProvider); !ok {
		t.Fatalf("file driver: got %T", p)
	}
	if _, err := New(context.Background(), "vault"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEnvProvider(t *testing.T) {
	const key = "TXPROVIDER_TEST_WALLET_KEYS"
	t.Setenv(key, "  super-secret  ")
	p := NewEnv()
	got, err := p.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "super-secret" {
		t.Fatalf("value mismatch: got %q", got)
	}

	if _, err := p.Get(context.Background(), "MISSING_ENV_KEY_XYZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.Get(context.Background(), " "); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keys")
	if err := os.WriteFile(path, []byte("0xabc\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := NewFile()
	got, err := p.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "0xabc" {
		t.Fatalf("value mismatch: got %q", got)
	}
	if _, err := p.Get(context.Background(), filepath.Join(dir, "missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: expected ErrNotFound, got %v", err)
	}
	if _, err := p.Get(context.Background(), empty); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty: expected ErrNotFound, got %v", err)
	}
}

func TestAWSProvider(t *testing.T) {
	t.Parallel()

	c := &fakeAWSClient{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(" secret ")}}
	p, err := NewAWSWithClient(c)
	if err != nil {
		t.Fatalf("NewAWSWithClient: %v", err)
	}
	got, err := p.Get(context.Background(), " txprovider/wallet-keys ")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "secret" {
		t.Fatalf("secret mismatch: got %q", got)
	}
	if c.gotID != "txprovider/wallet-keys" {
		t.Fatalf("secret id: got %q", c.gotID)
	}
}

func TestAWSProvider_BinaryAndMissing(t *testing.T) {
	t.Parallel()

	p, err := NewAWSWithClient(&fakeAWSClient{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("bin")}})
	if err != nil {
		t.Fatalf("NewAWSWithClient: %v", err)
	}
	if got, err := p.Get(context.Background(), "k"); err != nil || got != "bin" {
		t.Fatalf("binary: got %q err=%v", got, err)
	}

	p, _ = NewAWSWithClient(&fakeAWSClient{out: &secretsmanager.GetSecretValueOutput{}})
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty: expected ErrNotFound, got %v", err)
	}

	p, _ = NewAWSWithClient(&fakeAWSClient{err: &smtypes.ResourceNotFoundException{Message: aws.String("nope")}})
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("not found: expected ErrNotFound, got %v", err)
	}

	cause := errors.New("throttled")
	p, _ = NewAWSWithClient(&fakeAWSClient{err: cause})
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestNewAWSWithClient_Nil(t *testing.T) {
	t.Parallel()

	if _, err := NewAWSWithClient(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
