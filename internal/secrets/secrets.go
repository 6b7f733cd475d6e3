package secrets

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrInvalidValue  = errors.New("secrets: invalid value")
	ErrNotFound      = errors.New("secrets: not found")
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
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
		SecretId: &key,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret %q: %w", key, err)
	}
	if out.SecretString != nil && strings.TrimSpace(*out.SecretString) != "" {
		return strings.TrimSpace(*out.SecretString), nil
	}
	if out.SecretBinary != nil && len(out.SecretBinary) > 0 {
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

// ChainProvider tries each provider in order and returns the first value
// found. Deployments set secrets in env for local runs and fall through to
// Secrets Manager in production.
type ChainProvider struct {
	providers []Provider
}

func NewChain(providers ...Provider) (*ChainProvider, error) {
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: chain requires at least one provider", ErrInvalidConfig)
	}
	return &ChainProvider{providers: out}, nil
}

func (p *ChainProvider) Get(ctx context.Context, key string) (string, error) {
	if p == nil || len(p.providers) == 0 {
		return "", fmt.Errorf("%w: nil chain provider", ErrInvalidConfig)
	}
	var lastErr error
	for _, provider := range p.providers {
		v, err := provider.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", lastErr
}

// FeedAPIKey loads the sports-feed API key under the given secret key.
func FeedAPIKey(ctx context.Context, p Provider, key string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	v, err := p.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(v, " \t\r\n") {
		return "", fmt.Errorf("%w: feed api key contains whitespace", ErrInvalidValue)
	}
	return v, nil
}

// SigningKey loads and parses the hex-encoded ECDSA key the resolver signs
// on-chain submissions with. An optional 0x prefix is accepted.
func SigningKey(ctx context.Context, p Provider, key string) (*ecdsa.PrivateKey, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	v, err := p.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	priv, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key: %v", ErrInvalidValue, err)
	}
	return priv, nil
}
