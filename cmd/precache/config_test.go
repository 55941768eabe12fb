package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "precache.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestGetConfigDefaults(t *testing.T) {
	config, err := getConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "cache.db", config.DB)
}

func TestGetConfigFileAndEnv(t *testing.T) {
	filename := writeConfig(t, `
origin: https://blog.example.com
port: 9000
db: memory
`)
	t.Setenv("PRECACHE_PORT", "9090")

	config, err := getConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, "https://blog.example.com", config.Origin)
	assert.Equal(t, 9090, config.Port, "env overrides file")
	assert.Equal(t, "file::memory:?cache=shared", config.dbFilename())
}

func TestGetConfigMissingFile(t *testing.T) {
	_, err := getConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGetConfigBadEnv(t *testing.T) {
	t.Setenv("PRECACHE_PORT", "eighty")
	_, err := getConfig("")
	assert.Error(t, err)
}

func TestOriginURL(t *testing.T) {
	u, host, err := Config{Origin: "http://localhost:5000"}.originURL()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", u.String())
	assert.Empty(t, host)

	u, host, err = Config{Addr: "10.0.0.1", Host: "blog.example.com"}.originURL()
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1", u.String())
	assert.Equal(t, "blog.example.com", host)

	_, _, err = Config{}.originURL()
	assert.Error(t, err)

	_, _, err = Config{Origin: "/relative"}.originURL()
	assert.Error(t, err)
}
