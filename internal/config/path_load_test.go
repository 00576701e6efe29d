package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "livelink", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "livelink", "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "gemini": {
    "model": "gemini-live-test",
  },
  "audio": {
    "input": "default",
    "fallback": "default"
  },
  "camera": {
    "enable": false
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "gemini-live-test", loaded.Config.Gemini.Model)
	require.False(t, loaded.Config.Camera.Enable)
}

func TestResolveAPIKeyLoadsEnvFile(t *testing.T) {
	t.Setenv("LIVELINK_DOTENV_KEY", "")
	require.NoError(t, os.Unsetenv("LIVELINK_DOTENV_KEY"))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LIVELINK_DOTENV_KEY=from-file\n"), 0o600))

	key, err := ResolveAPIKey(GeminiConfig{APIKeyEnv: "LIVELINK_DOTENV_KEY", EnvFile: path})
	require.NoError(t, err)
	require.Equal(t, "from-file", key)
}

func TestResolveAPIKeyIgnoresMissingEnvFile(t *testing.T) {
	t.Setenv("LIVELINK_DOTENV_KEY", "from-env")

	key, err := ResolveAPIKey(GeminiConfig{
		APIKeyEnv: "LIVELINK_DOTENV_KEY",
		EnvFile:   filepath.Join(t.TempDir(), "missing.env"),
	})
	require.NoError(t, err)
	require.Equal(t, "from-env", key)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
