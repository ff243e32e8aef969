package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, ConsistencySync, cfg.Storage.ConsistencyMode)
	assert.Equal(t, EngineGraph, cfg.Storage.ReplaceBySource.Engine)
	assert.False(t, cfg.Storage.Strict)
	assert.Equal(t, 6.0, cfg.Storage.Reports.PerMinute)
	assert.Equal(t, 16, cfg.Storage.Async.QueueSize)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() Config { return *Default() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"async mode", func(c *Config) { c.Storage.ConsistencyMode = ConsistencyAsync }, false},
		{"disabled mode", func(c *Config) { c.Storage.ConsistencyMode = ConsistencyDisabled }, false},
		{"unknown mode", func(c *Config) { c.Storage.ConsistencyMode = "sometimes" }, true},
		{"tree engine", func(c *Config) { c.Storage.ReplaceBySource.Engine = EngineTree }, false},
		{"unknown engine", func(c *Config) { c.Storage.ReplaceBySource.Engine = "forest" }, true},
		{"zero reports per minute", func(c *Config) { c.Storage.Reports.PerMinute = 0 }, false},
		{"negative reports per minute", func(c *Config) { c.Storage.Reports.PerMinute = -1 }, true},
		{"negative burst", func(c *Config) { c.Storage.Reports.Burst = -1 }, true},
		{"negative attachment limit", func(c *Config) { c.Storage.Reports.MaxAttachmentEntities = -5 }, true},
		{"async without queue", func(c *Config) {
			c.Storage.ConsistencyMode = ConsistencyAsync
			c.Storage.Async.QueueSize = 0
		}, true},
		{"sync ignores queue size", func(c *Config) { c.Storage.Async.QueueSize = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `
[storage]
consistency_mode = "async"
strict = true

[storage.replace_by_source]
engine = "tree"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ConsistencyAsync, cfg.Storage.ConsistencyMode)
	assert.True(t, cfg.Storage.Strict)
	assert.Equal(t, EngineTree, cfg.Storage.ReplaceBySource.Engine)
	// untouched keys keep their defaults
	assert.Equal(t, 2, cfg.Storage.Reports.Burst)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestSaveRoundTripWithBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", ConfigFileName)

	cfg := Default()
	cfg.Storage.ConsistencyMode = ConsistencyDisabled
	require.NoError(t, Save(cfg, path))

	cfg.Storage.Strict = true
	require.NoError(t, Save(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ConsistencyDisabled, loaded.Storage.ConsistencyMode)
	assert.True(t, loaded.Storage.Strict)

	backup, err := LoadFromFile(path + ".back1")
	require.NoError(t, err)
	assert.False(t, backup.Storage.Strict)
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Storage.ConsistencyMode = "maybe"
	err := Save(cfg, filepath.Join(t.TempDir(), ConfigFileName))
	assert.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("ENTITYSTORE_STORAGE_CONSISTENCY_MODE", "disabled")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ConsistencyDisabled, cfg.Storage.ConsistencyMode)
}
