package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/always-cache/precache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBlog(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, u := range precache.URLsToCache {
			if r.URL.Path == u {
				io.WriteString(w, "content of "+u)
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInstallThenKeys(t *testing.T) {
	blog := startBlog(t)
	db := filepath.Join(t.TempDir(), "cache.db")

	_, err := run(t, "install", "--origin", blog.URL, "--db", db)
	require.NoError(t, err)

	out, err := run(t, "keys", "--db", db)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	expected := make([]string, 0, len(precache.URLsToCache))
	for _, u := range precache.URLsToCache {
		expected = append(expected, "GET "+u)
	}
	assert.ElementsMatch(t, expected, lines)
}

func TestInstallFailsWithoutOrigin(t *testing.T) {
	_, err := run(t, "install", "--db", filepath.Join(t.TempDir(), "cache.db"))
	assert.Error(t, err)
}

func TestInstallFailsForMissingResource(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := run(t, "install", "--origin", server.URL, "--db", filepath.Join(t.TempDir(), "cache.db"))
	assert.ErrorIs(t, err, precache.ErrBadStatus)
}

func TestKeysWithoutInstall(t *testing.T) {
	_, err := run(t, "keys", "--db", filepath.Join(t.TempDir(), "cache.db"))
	assert.ErrorIs(t, err, precache.ErrCacheNotFound)
}

func TestRouterServesAgent(t *testing.T) {
	blog := startBlog(t)
	agent, provider, err := createAgent(Config{Origin: blog.URL, DB: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer provider.Close()
	require.NoError(t, agent.Install(context.Background()))

	blog.Close()
	rr := httptest.NewRecorder()
	newRouter(agent).ServeHTTP(rr, httptest.NewRequest("GET", "/static/manifest.json", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "content of /static/manifest.json", rr.Body.String())
	assert.Equal(t, "Precache; hit", rr.Header().Get("Cache-Status"))
}
