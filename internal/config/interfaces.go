package config

import "context"

// SecretProvider resolves secret values by path. SSMProvider serves deployed
// environments and EnvVarProvider serves local development.
type SecretProvider interface {
	// GetParametersBatch returns the value of every key it could resolve.
	// Keys it could not find are omitted from the map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
