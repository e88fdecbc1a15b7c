package config

import "context"

// SecretProvider resolves a batch of parameter paths to plaintext values.
// Paths that do not exist are omitted from the returned map.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
