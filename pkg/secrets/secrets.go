package secrets

import (
	"context"
	"errors"
	"os"
	"strings"

	"realtime-chat/backend/pkg/config"
	"realtime-chat/backend/pkg/logger"
)

// ErrSecretNotFound is returned when no source holds the key
var ErrSecretNotFound = errors.New("secret not found")

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)
}

// Keys looked up when resolving configuration
const (
	KeyDBPassword      = "db_password"
	KeyRedisPassword   = "redis_password"
	KeyInferenceAPIKey = "inference_api_key"
)

// EnvManager reads secrets from environment variables named after the
// upper-cased key, e.g. db_password from DB_PASSWORD
type EnvManager struct{}

func (EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	return fromEnvironment(key)
}

func fromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Apply overwrites the credential fields of cfg with values held by m.
// Keys m does not know leave the configured value in place.
func Apply(ctx context.Context, m Manager, cfg *config.Config, log *logger.Logger) error {
	targets := map[string]*string{
		KeyDBPassword:      &cfg.Database.Password,
		KeyRedisPassword:   &cfg.Redis.Password,
		KeyInferenceAPIKey: &cfg.Inference.APIKey,
	}

	for key, field := range targets {
		value, err := m.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*field = value
		log.Debug("Secret applied to configuration", "key", key)
	}
	return nil
}
