package main

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/mirna-curator/curator/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand_WritesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	out, err := runCLI(t, "init", dir, "--provider", "openrouter", "--model", "qwen/qwen-2.5-72b-instruct", "--results", "results.db")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote ")

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, "openrouter", cfg.Backend.Provider)
	assert.Equal(t, "qwen/qwen-2.5-72b-instruct", cfg.Backend.Model)
	assert.Equal(t, "results.db", cfg.Output.Results)
	assert.Equal(t, config.DefaultWorkers, cfg.Batch.Workers)
}

func TestInitCommand_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "init", dir)
	require.NoError(t, err)

	_, err = runCLI(t, "init", dir, "--model", "other")
	require.ErrorContains(t, err, "already exists")

	_, err = runCLI(t, "init", dir, "--model", "other", "--force")
	require.NoError(t, err)
	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, "other", cfg.Backend.Model)
}

func TestInitCommand_RejectsInvalidProvider(t *testing.T) {
	_, err := runCLI(t, "init", t.TempDir(), "--provider", "bogus")
	require.ErrorContains(t, err, "backend.provider")
}

func TestInitCommand_Interactive(t *testing.T) {
	orig := promptBackend
	t.Cleanup(func() { promptBackend = orig })
	promptBackend = func(_ io.Reader, _ io.Writer, cfg *config.Config) error {
		cfg.Backend.Provider = "lmstudio"
		cfg.Backend.Model = "phi-4"
		cfg.Batch.Workers = 8
		cfg.Trace.Compress = true
		return nil
	}

	dir := t.TempDir()
	_, err := runCLI(t, "init", dir, "-i")
	require.NoError(t, err)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, "lmstudio", cfg.Backend.Provider)
	assert.Equal(t, "phi-4", cfg.Backend.Model)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.True(t, cfg.Trace.Compress)
}
