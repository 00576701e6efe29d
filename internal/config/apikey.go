package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned when no API key can be found.
var ErrMissingAPIKey = errors.New("gemini api key not set")

// ResolveAPIKey reads the API key from the environment variable named by
// cfg.APIKeyEnv. When cfg.EnvFile is set it is loaded first; variables
// already present in the environment take precedence over the file.
func ResolveAPIKey(cfg GeminiConfig) (string, error) {
	if path := strings.TrimSpace(cfg.EnvFile); path != "" {
		if err := godotenv.Load(expandUserPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("load env file %q: %w", path, err)
		}
	}

	key := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if key == "" {
		return "", fmt.Errorf("%w: export %s or set gemini.env_file", ErrMissingAPIKey, cfg.APIKeyEnv)
	}
	return key, nil
}
