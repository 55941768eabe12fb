// Package precache implements an offline caching agent for a web origin.
//
// On install, the agent fills a named cache with a fixed list of resources.
// Afterwards it answers every request from that cache when it can,
// and fetches from the network when it cannot.
// Network responses are never written back, and stored responses never expire.
package precache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/always-cache/precache/cache"
	"github.com/always-cache/precache/rfc9211"

	"github.com/rs/zerolog"
)

// CacheName is the name of the cache filled on install.
const CacheName = "blog-pwa-v1"

// URLsToCache lists the resources stored on install.
var URLsToCache = []string{
	"/",
	"/static/css/style.css",
	"/dynamic-styles.css",
	"/static/icons/icon-192x192.png",
	"/static/icons/icon-512x512.png",
	"/static/manifest.json",
}

type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Fetcher for network requests.
	// Requests are sent to OriginURL if nil.
	Fetcher Fetcher
	// Name of the cache to use instead of CacheName.
	CacheName string
	// Resources to store instead of URLsToCache.
	URLsToCache []string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Agent struct {
	storage     *CacheStorage
	fetcher     Fetcher
	cacheName   string
	urlsToCache []string
	log         zerolog.Logger

	mutex     sync.RWMutex
	installed *Cache
}

// CreateAgent creates an agent from the config.
// The agent does not handle requests from its cache until Install has succeeded.
func CreateAgent(config Config) *Agent {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	a := &Agent{
		fetcher:     config.Fetcher,
		cacheName:   config.CacheName,
		urlsToCache: append([]string(nil), config.URLsToCache...),
	}
	if a.fetcher == nil {
		a.fetcher = NewOriginFetcher(config.OriginURL, config.OriginHost)
	}
	if a.cacheName == "" {
		a.cacheName = CacheName
	}
	if len(a.urlsToCache) == 0 {
		a.urlsToCache = append([]string(nil), URLsToCache...)
	}
	if config.Cache == nil {
		config.Cache = cache.NewMemCache()
	}

	a.log = logger.With().Str("cache", a.cacheName).Logger()
	a.storage = NewCacheStorage(config.Cache, a.fetcher, config.OriginURL, logger)
	return a
}

// Storage returns the cache storage of the agent.
func (a *Agent) Storage() *CacheStorage {
	return a.storage
}

// Install opens the agent's cache and stores every listed resource in it.
// It returns when all resources are stored, or with the first error.
// Nothing is stored if any of the resources fails.
func (a *Agent) Install(ctx context.Context) error {
	a.log.Info().Int("resources", len(a.urlsToCache)).Msg("Installing")
	c, err := a.storage.Open(a.cacheName)
	if err != nil {
		a.log.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("install: %w", err)
	}
	if err := c.AddAll(ctx, a.urlsToCache); err != nil {
		a.log.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("install: %w", err)
	}
	a.mutex.Lock()
	a.installed = c
	a.mutex.Unlock()
	a.log.Info().Msg("Installed")
	return nil
}

// Resume marks the agent installed if its cache already holds a response for every listed
// resource, e.g. from a previous run. Nothing is fetched.
// It reports whether the agent is installed afterwards.
func (a *Agent) Resume() (bool, error) {
	if a.Installed() {
		return true, nil
	}
	c, err := a.storage.Lookup(a.cacheName)
	if errors.Is(err, ErrCacheNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	complete, err := c.holdsAll(a.urlsToCache)
	if err != nil || !complete {
		return false, err
	}
	a.mutex.Lock()
	if a.installed == nil {
		a.installed = c
	}
	a.mutex.Unlock()
	a.log.Info().Msg("Resumed from stored cache")
	return true, nil
}

// Installed reports whether install has succeeded.
func (a *Agent) Installed() bool {
	return a.installedCache() != nil
}

func (a *Agent) installedCache() *Cache {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.installed
}

// Respond returns the stored response for the request if there is one,
// and otherwise the response from a single network fetch.
// A network error is returned as is.
func (a *Agent) Respond(r *http.Request) (*http.Response, rfc9211.CacheStatus, error) {
	var cs rfc9211.CacheStatus
	c := a.installedCache()
	if c == nil {
		cs.Forward(rfc9211.FwdReasonBypass)
		res, err := a.fetcher.Fetch(r)
		return res, cs, err
	}
	res, fwdReason, err := c.lookup(r)
	if err != nil {
		a.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not retrieve from cache")
	}
	if fwdReason == "" {
		cs.Hit()
		return res, cs, nil
	}
	cs.Forward(fwdReason)
	a.log.Trace().Str("url", r.URL.String()).Str("fwd", string(fwdReason)).Msg("Fetching from network")
	res, err = a.fetcher.Fetch(r)
	return res, cs, err
}

// ServeHTTP implements the http.Handler interface.
// If there is no stored response and the network fetch fails, the connection is aborted.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, cs, err := a.Respond(r)
	if err != nil {
		a.log.Error().Err(err).
			Str("url", r.URL.String()).
			Str("fwd", string(cs.FwdReason)).
			Msg("Could not fetch response from network")
		panic(http.ErrAbortHandler)
	}
	if err := a.send(w, r, res, cs); err != nil {
		a.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

func (a *Agent) send(w http.ResponseWriter, r *http.Request, res *http.Response, cs rfc9211.CacheStatus) error {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	a.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Int("code", res.StatusCode).
		Int("hit", isHit).
		Msg("Sending response to client")

	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	bytesWritten, err := io.Copy(w, res.Body)
	a.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	return err
}
