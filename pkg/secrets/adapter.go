package secrets

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

var ErrProviderUnavailable = errors.New("secrets provider unavailable")

// Provider resolves named secrets at startup.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Adapter picks the first reachable provider (Vault, then AWS Secrets
// Manager) and falls back to process environment unless SECRETS_FAIL_CLOSED
// forbids it.
type Adapter struct {
	primary    Provider
	fallback   Provider
	failClosed bool
}

func NewAdapter(ctx context.Context) (*Adapter, error) {
	var primary Provider
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		if vp, err := newVaultProvider(ctx); err == nil {
			primary = vp
		}
	}
	if primary == nil {
		if region := os.Getenv("AWS_REGION"); region != "" {
			if ap, err := newAWSProvider(ctx); err == nil {
				primary = ap
			}
		}
	}
	failClosed := os.Getenv("SECRETS_FAIL_CLOSED") == "true"
	if primary == nil && failClosed {
		return nil, errors.New("SECRETS_FAIL_CLOSED=true but no provider reachable (checked Vault, AWS)")
	}
	return &Adapter{primary: primary, fallback: envProvider{}, failClosed: failClosed}, nil
}

func (a *Adapter) GetSecret(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if a.primary != nil {
		val, err := a.primary.GetSecret(ctx, name)
		if err == nil && val != "" {
			return val, nil
		}
		if a.failClosed {
			return "", errors.Wrap(err, "get secret failed (fail-closed)")
		}
	}
	if a.fallback != nil {
		return a.fallback.GetSecret(ctx, name)
	}
	return "", ErrProviderUnavailable
}

type envProvider struct{}

func (envProvider) GetSecret(_ context.Context, name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", errors.Errorf("env secret %s not set", name)
}

type vaultProvider struct {
	client *vault.Client
	mount  string
	path   string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = os.Getenv("VAULT_ADDR")
	vcfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		b, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "read VAULT_TOKEN_FILE")
		}
		client.SetToken(strings.TrimSpace(string(b)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, errors.Wrap(err, "vault health check")
	}
	mount := os.Getenv("VAULT_KV_MOUNT")
	if mount == "" {
		mount = "secret"
	}
	path := os.Getenv("VAULT_SECRET_PATH")
	if path == "" {
		path = "pastekv"
	}
	return &vaultProvider{client: client, mount: mount, path: path}, nil
}

func (p *vaultProvider) GetSecret(ctx context.Context, name string) (string, error) {
	sec, err := p.client.KVv2(p.mount).Get(ctx, p.path)
	if err != nil {
		return "", errors.Wrap(err, "vault kv get")
	}
	if sec == nil || sec.Data == nil {
		return "", errors.Errorf("vault secret %s/%s is empty", p.mount, p.path)
	}
	v, ok := sec.Data[name].(string)
	if !ok || v == "" {
		return "", errors.Errorf("vault secret %s/%s missing key %s", p.mount, p.path, name)
	}
	return v, nil
}

type awsProvider struct {
	sm     *secretsmanager.Client
	prefix string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &awsProvider{
		sm:     secretsmanager.NewFromConfig(awsCfg),
		prefix: os.Getenv("AWS_SECRET_PREFIX"),
	}, nil
}

func (p *awsProvider) GetSecret(ctx context.Context, name string) (string, error) {
	id := p.prefix + name
	out, err := p.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", errors.Wrap(err, "secretsmanager get")
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", errors.Errorf("secret %s is empty", id)
	}
	return *out.SecretString, nil
}
