package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("walks up and resolves paths", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, ConfigFile, "schema: schemas/ddb.yaml\nregion: eu-north-1\ndataDir: /var/lib/ddb\n")
		nested := filepath.Join(root, "a", "b")
		require.NoError(t, os.MkdirAll(nested, 0o755))

		cfg, err := LoadConfig(nested)
		require.NoError(t, err)
		assert.Equal(t, Config{
			Schema:  filepath.Join(root, "schemas", "ddb.yaml"),
			Region:  "eu-north-1",
			DataDir: "/var/lib/ddb",
		}, cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Config{}, cfg)
	})

	t.Run("malformed file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, ConfigFile, "region: [unterminated\n")
		_, err := LoadConfig(dir)
		assert.Error(t, err)
	})
}

func TestConfig_FlagDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, "schema: ddb.yaml\n")
	writeFile(t, dir, "ddb.yaml", sessionsSchema)
	chdir(t, dir)

	out, err := runCLI(t, "scan", "--memory")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"count":0}`, out)
}
