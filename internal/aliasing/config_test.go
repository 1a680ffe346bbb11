package aliasing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphd.yaml")

	content := `
base_url_patterns:
  - pattern: "https://old.example.org/{name}"
    canonical: "https://schemas.example.org/{name}"
  - pattern: "https://legacy.example.org/{name}"
    canonical: "https://schemas.example.org/{name}"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Len(t, cfg.BaseURLPatterns, 2)
	assert.Equal(t, "https://old.example.org/{name}", cfg.BaseURLPatterns[0].Pattern)
	assert.Equal(t, "https://schemas.example.org/{name}", cfg.BaseURLPatterns[0].Canonical)
}

func TestLoadConfig_EmptyPatternsSection(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphd.yaml")

	content := `
base_url_patterns:
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.BaseURLPatterns)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/graphd.yaml")

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.BaseURLPatterns)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphd.yaml")

	content := `
base_url_patterns:
  - pattern: [invalid yaml
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.BaseURLPatterns)
}

func TestLoadConfig_YAMLWithOnlyComments(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphd.yaml")

	content := `
# This is a comment
# Another comment
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.BaseURLPatterns)
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphd.yaml")

	err := os.WriteFile(configPath, []byte(""), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.BaseURLPatterns)
}

func TestLoadConfig_NoPatternsKey(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphd.yaml")

	content := `
some_other_config:
  key: value
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.BaseURLPatterns)
}

func TestLoadConfigFromEnv_DefaultPath(t *testing.T) {
	os.Unsetenv(ConfigPathEnvVar)

	cfg, err := LoadConfigFromEnv()

	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestLoadConfigFromEnv_CustomPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")

	content := `
base_url_patterns:
  - pattern: "https://old.example.org/{name}"
    canonical: "https://schemas.example.org/{name}"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := LoadConfigFromEnv()

	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Len(t, cfg.BaseURLPatterns, 1)
	assert.Equal(t, "https://old.example.org/{name}", cfg.BaseURLPatterns[0].Pattern)
}
