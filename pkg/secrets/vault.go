package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"realtime-chat/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

var (
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Address    string
	Token      string
	Namespace  string
	Mount      string
	Path       string
	Timeout    time.Duration
	MaxRetries int
	Enabled    bool
}

// VaultConfigFromEnv reads VAULT_* variables. Vault is off unless VAULT_ENABLED is set.
func VaultConfigFromEnv() VaultConfig {
	cfg := VaultConfig{
		Address:    os.Getenv("VAULT_ADDR"),
		Token:      os.Getenv("VAULT_TOKEN"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
		Mount:      os.Getenv("VAULT_MOUNT"),
		Path:       os.Getenv("VAULT_SECRETS_PATH"),
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	}
	switch os.Getenv("VAULT_ENABLED") {
	case "true", "1", "yes":
		cfg.Enabled = true
	}
	return cfg
}

// VaultManager reads a single KV v2 secret and serves its fields,
// falling back to the environment for keys the secret lacks
type VaultManager struct {
	client *vault.Client
	config VaultConfig
	log    *logger.Logger

	mu     sync.Mutex
	data   map[string]interface{}
	loaded time.Time
	ttl    time.Duration
}

// NewManager returns a VaultManager when cfg is enabled and an EnvManager otherwise
func NewManager(cfg VaultConfig, log *logger.Logger) (Manager, error) {
	if !cfg.Enabled {
		return EnvManager{}, nil
	}
	return NewVaultManager(cfg, log)
}

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(cfg VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if cfg.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if cfg.Token == "" {
		return nil, ErrNoVaultToken
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if cfg.Path == "" {
		cfg.Path = "realtime-chat"
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	vaultConfig.Timeout = cfg.Timeout
	vaultConfig.MaxRetries = cfg.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &VaultManager{
		client: client,
		config: cfg,
		log:    log,
		ttl:    5 * time.Minute,
	}, nil
}

// GetSecret returns a field of the configured secret
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	data, err := m.secretData(ctx)
	if err != nil {
		return "", err
	}

	if value, ok := data[key].(string); ok && value != "" {
		return value, nil
	}
	m.log.Debug("Secret not found in Vault, falling back to environment", "key", key)
	return fromEnvironment(key)
}

// secretData reads the secret once per ttl
func (m *VaultManager) secretData(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data != nil && time.Since(m.loaded) < m.ttl {
		return m.data, nil
	}

	secret, err := m.client.KVv2(m.config.Mount).Get(ctx, m.config.Path)
	if errors.Is(err, vault.ErrSecretNotFound) {
		m.log.Warn("Vault secret missing, using environment only",
			"mount", m.config.Mount, "path", m.config.Path)
		m.data = map[string]interface{}{}
		m.loaded = time.Now()
		return m.data, nil
	}
	if err != nil {
		m.log.LogError(err, "Failed to read secret from Vault", "path", m.config.Path)
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	m.data = secret.Data
	if m.data == nil {
		m.data = map[string]interface{}{}
	}
	m.loaded = time.Now()
	return m.data, nil
}
